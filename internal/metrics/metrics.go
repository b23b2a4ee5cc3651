package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts the number of HTTP requests received
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_requests_total",
			Help: "The total number of HTTP requests processed by the API",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures the duration of HTTP requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_request_duration_seconds",
			Help:    "The duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// UploadBytes measures the declared body size of upload requests
	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_upload_bytes",
			Help:    "The declared size of upload request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
		[]string{"endpoint"},
	)

	// ProcessingTotal counts processed source images by outcome
	ProcessingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_processing_total",
			Help: "The total number of processed source images",
		},
		[]string{"status"},
	)

	// ProcessingDuration measures the duration of a single-image pipeline run
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_processing_duration_seconds",
			Help:    "The duration of image processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // From 100ms to ~100s
		},
		[]string{"status"},
	)

	// ImageSizeReduction measures the size reduction percentage per written derivative.
	// Negative reductions (output grew) fall into the lowest bucket.
	ImageSizeReduction = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_size_reduction_percentage",
			Help:    "The percentage of size reduction for written derivatives",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0% to 100% in 10% increments
		},
	)

	// DerivativeFailures counts isolated per-preset failures
	DerivativeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_derivative_failures_total",
			Help: "The total number of failed derivatives by preset",
		},
		[]string{"preset"},
	)

	// DecodesInFlight gauges the number of fully decoded images held in memory
	DecodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_decodes_in_flight",
			Help: "The number of image decodes currently holding a decode slot",
		},
	)

	// QueueDepth gauges the number of batch tasks currently being handled
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_queue_depth",
			Help: "The current depth of the processing queue",
		},
	)

	// WorkerUtilization gauges the percentage of workers currently in use
	WorkerUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_worker_utilization",
			Help: "The percentage of workers currently processing tasks",
		},
	)

	// StoredBytes counts bytes uploaded to object storage
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_optimizer_stored_bytes_total",
			Help: "The total number of derivative bytes uploaded to storage",
		},
	)

	// DBConnections gauges the number of open database connections
	DBConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_db_connections",
			Help: "The number of open database connections",
		},
	)
)

// RecordRequest records one finished HTTP request
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordProcessingTime records the time taken to process an image
func RecordProcessingTime(ctx context.Context, status string, startTime time.Time) {
	duration := time.Since(startTime).Seconds()
	ProcessingDuration.WithLabelValues(status).Observe(duration)
	ProcessingTotal.WithLabelValues(status).Inc()

	reqLogger := logger.FromContext(ctx)

	reqLogger.Debug().
		Str("status", status).
		Float64("duration_seconds", duration).
		Msg("Recorded image processing time")
}

// RecordSizeReduction records the percentage of size reduction
func RecordSizeReduction(ctx context.Context, originalSize, optimizedSize int64) {
	if originalSize <= 0 {
		return
	}

	percentage := (1 - (float64(optimizedSize) / float64(originalSize))) * 100
	ImageSizeReduction.Observe(percentage)

	reqLogger := logger.FromContext(ctx)

	reqLogger.Debug().
		Int64("original_size", originalSize).
		Int64("optimized_size", optimizedSize).
		Float64("reduction_percentage", percentage).
		Msg("Recorded image size reduction")
}

// UpdateWorkerUtilization updates the worker utilization metric
func UpdateWorkerUtilization(active, total int) {
	if total <= 0 {
		return
	}

	percentage := (float64(active) / float64(total)) * 100
	WorkerUtilization.Set(percentage)
}

// UpdateDBConnections updates the database connections metric
func UpdateDBConnections(connections int) {
	DBConnections.Set(float64(connections))
}

// Init initializes metrics collection
func Init() {
	logger := logger.GetLogger("metrics")
	logger.Info().Msg("Metrics collection initialized")
}
