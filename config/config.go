package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Worker   WorkerConfig
	Log      LogConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	Pipeline PipelineConfig
	Upload   UploadConfig
}

type ServerConfig struct {
	Host string
	Port int
	Mode string
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConnections int
	MinConnections int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	SSL       bool
	Location  string
	URLExpiry time.Duration
}

type RabbitMQConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Queue       string
	Exchange    string
	RoutingKey  string
	ConsumerTag string
}

type WorkerConfig struct {
	MaxWorkers  int
	MetricsPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRatio    float64
}

type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// PipelineConfig bounds and locates the derivative pipeline.
type PipelineConfig struct {
	OutputDir            string
	TempDir              string
	MaxConcurrentDecodes int
	Timeout              time.Duration
	MaxPixels            int64
	MaxDimension         int
	Format               string
	Quality              int
}

// UploadConfig bounds what the HTTP layer accepts.
type UploadConfig struct {
	MaxBytes int64
	MaxFiles int
}

// ConnectionString generates the connection string for the PostgreSQL database
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RabbitMQURL generates the connection string for RabbitMQ
func (c *RabbitMQConfig) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.User, c.Password, c.Host, c.Port)
}

// Load returns the application configuration from environment variables
// and an optional .env file in the working directory.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := unmarshalConfig(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "image_derivatives")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max.connections", 10)
	viper.SetDefault("database.min.connections", 2)

	// MinIO defaults
	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.access.key", "minioadmin")
	viper.SetDefault("minio.secret.key", "minioadmin")
	viper.SetDefault("minio.bucket", "derivatives")
	viper.SetDefault("minio.ssl", false)
	viper.SetDefault("minio.location", "us-east-1")
	viper.SetDefault("minio.url.expiry", 24*time.Hour)

	// RabbitMQ defaults
	viper.SetDefault("rabbitmq.host", "rabbitmq")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.queue", "image_derivatives")
	viper.SetDefault("rabbitmq.exchange", "image_derivatives")
	viper.SetDefault("rabbitmq.routing.key", "image.derive")
	viper.SetDefault("rabbitmq.consumer.tag", "derivative_worker")

	// Worker defaults
	viper.SetDefault("worker.max.workers", 2)
	viper.SetDefault("worker.metrics.port", 9091)

	// Log defaults
	viper.SetDefault("log.level", "info")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service.name", "image-derivatives")
	viper.SetDefault("tracing.service.version", "1.0.0")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	viper.SetDefault("tracing.sample.ratio", 0.5)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")

	// Pipeline defaults
	viper.SetDefault("pipeline.output.dir", "data/derivatives")
	viper.SetDefault("pipeline.temp.dir", "data/tmp")
	viper.SetDefault("pipeline.max.concurrent.decodes", 4)
	viper.SetDefault("pipeline.timeout", 30*time.Second)
	viper.SetDefault("pipeline.max.pixels", 50_000_000)
	viper.SetDefault("pipeline.max.dimension", 16384)
	viper.SetDefault("pipeline.format", "webp")
	viper.SetDefault("pipeline.quality", 85)

	// Upload defaults
	viper.SetDefault("upload.max.bytes", 10*1024*1024)
	viper.SetDefault("upload.max.files", 10)
}

func unmarshalConfig(config *Config) error {
	// Server config
	config.Server.Host = viper.GetString("server.host")
	config.Server.Port = viper.GetInt("server.port")
	config.Server.Mode = viper.GetString("server.mode")

	// Database config
	config.Database.Host = viper.GetString("database.host")
	config.Database.Port = viper.GetInt("database.port")
	config.Database.User = viper.GetString("database.user")
	config.Database.Password = viper.GetString("database.password")
	config.Database.DBName = viper.GetString("database.dbname")
	config.Database.SSLMode = viper.GetString("database.sslmode")
	config.Database.MaxConnections = viper.GetInt("database.max.connections")
	config.Database.MinConnections = viper.GetInt("database.min.connections")

	// MinIO config
	config.MinIO.Endpoint = viper.GetString("minio.endpoint")
	config.MinIO.AccessKey = viper.GetString("minio.access.key")
	config.MinIO.SecretKey = viper.GetString("minio.secret.key")
	config.MinIO.Bucket = viper.GetString("minio.bucket")
	config.MinIO.SSL = viper.GetBool("minio.ssl")
	config.MinIO.Location = viper.GetString("minio.location")
	config.MinIO.URLExpiry = viper.GetDuration("minio.url.expiry")

	// RabbitMQ config
	config.RabbitMQ.Host = viper.GetString("rabbitmq.host")
	config.RabbitMQ.Port = viper.GetInt("rabbitmq.port")
	config.RabbitMQ.User = viper.GetString("rabbitmq.user")
	config.RabbitMQ.Password = viper.GetString("rabbitmq.password")
	config.RabbitMQ.Queue = viper.GetString("rabbitmq.queue")
	config.RabbitMQ.Exchange = viper.GetString("rabbitmq.exchange")
	config.RabbitMQ.RoutingKey = viper.GetString("rabbitmq.routing.key")
	config.RabbitMQ.ConsumerTag = viper.GetString("rabbitmq.consumer.tag")

	// Worker config
	config.Worker.MaxWorkers = viper.GetInt("worker.max.workers")
	config.Worker.MetricsPort = viper.GetInt("worker.metrics.port")

	// Log config
	config.Log.Level = viper.GetString("log.level")

	// Tracing config
	config.Tracing.Enabled = viper.GetBool("tracing.enabled")
	config.Tracing.ServiceName = viper.GetString("tracing.service.name")
	config.Tracing.ServiceVersion = viper.GetString("tracing.service.version")
	config.Tracing.Environment = viper.GetString("tracing.environment")
	config.Tracing.OTLPEndpoint = viper.GetString("tracing.otlp.endpoint")
	config.Tracing.SampleRatio = viper.GetFloat64("tracing.sample.ratio")

	// Metrics config
	config.Metrics.Enabled = viper.GetBool("metrics.enabled")
	config.Metrics.Endpoint = viper.GetString("metrics.endpoint")

	// Pipeline config
	config.Pipeline.OutputDir = viper.GetString("pipeline.output.dir")
	config.Pipeline.TempDir = viper.GetString("pipeline.temp.dir")
	config.Pipeline.MaxConcurrentDecodes = viper.GetInt("pipeline.max.concurrent.decodes")
	config.Pipeline.Timeout = viper.GetDuration("pipeline.timeout")
	config.Pipeline.MaxPixels = viper.GetInt64("pipeline.max.pixels")
	config.Pipeline.MaxDimension = viper.GetInt("pipeline.max.dimension")
	config.Pipeline.Format = viper.GetString("pipeline.format")
	config.Pipeline.Quality = viper.GetInt("pipeline.quality")

	// Upload config
	config.Upload.MaxBytes = viper.GetInt64("upload.max.bytes")
	config.Upload.MaxFiles = viper.GetInt("upload.max.files")

	return validate(config)
}

func validate(config *Config) error {
	if config.Pipeline.MaxConcurrentDecodes <= 0 {
		return fmt.Errorf("pipeline.max.concurrent.decodes must be positive, got %d", config.Pipeline.MaxConcurrentDecodes)
	}
	if config.Pipeline.Timeout <= 0 {
		return fmt.Errorf("pipeline.timeout must be positive, got %s", config.Pipeline.Timeout)
	}
	if config.Pipeline.Quality <= 0 || config.Pipeline.Quality > 100 {
		return fmt.Errorf("pipeline.quality must be in (0, 100], got %d", config.Pipeline.Quality)
	}
	if config.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max.bytes must be positive, got %d", config.Upload.MaxBytes)
	}
	return nil
}
