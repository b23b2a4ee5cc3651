package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/db/postgres"
	"github.com/not-nullexception/image-derivatives/internal/delivery"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"github.com/not-nullexception/image-derivatives/internal/minio/minio"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	"github.com/not-nullexception/image-derivatives/internal/queue/rabbitmq"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
	"github.com/not-nullexception/image-derivatives/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Setup(&cfg.Log)

	shutdownTracing, err := tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer shutdownTracing()

	repo, err := postgres.NewRepository(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create database repository")
	}
	defer repo.Close()

	store, err := minio.NewClient(ctx, &cfg.MinIO)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create MinIO client")
	}
	defer store.Close()

	queueClient, err := rabbitmq.NewClient(&cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer queueClient.Close()

	if cfg.Metrics.Enabled {
		metrics.Init()
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Worker.MetricsPort)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	w := worker.New(
		repo,
		store,
		queueClient,
		pipeline.NewFromConfig(&cfg.Pipeline),
		delivery.NewPublisher(repo, store),
		cfg.Pipeline.TempDir,
		cfg.Worker.MaxWorkers,
	)

	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down worker...")

	cancel()
	w.Stop()

	log.Info().Msg("Worker stopped")
}
