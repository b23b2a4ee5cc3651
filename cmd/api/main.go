package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/api/router"
	"github.com/not-nullexception/image-derivatives/internal/db/postgres"
	"github.com/not-nullexception/image-derivatives/internal/delivery"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"github.com/not-nullexception/image-derivatives/internal/minio/minio"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	"github.com/not-nullexception/image-derivatives/internal/queue/rabbitmq"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
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

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

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

	orchestrator := pipeline.NewFromConfig(&cfg.Pipeline)
	publisher := delivery.NewPublisher(repo, store)

	r := router.Setup(cfg, repo, store, queueClient, orchestrator, publisher)

	// Synchronous uploads run the whole pipeline inside the request.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Pipeline.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", server.Addr).Msg("Starting API server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down API server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("API server forced to shutdown")
	}

	log.Info().Msg("API server stopped")
}
