package router

import (
	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/api/handlers"
	"github.com/not-nullexception/image-derivatives/internal/api/middleware"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/minio"
	rabbitmq "github.com/not-nullexception/image-derivatives/internal/queue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func Setup(
	cfg *config.Config,
	repository db.Repository,
	store minio.Client,
	queueClient rabbitmq.Client,
	orchestrator handlers.Orchestrator,
	publisher handlers.Publisher,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxBytes

	// Tracing must run before the contextual logger so trace IDs are attached.
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.ContextualLogger("api"))
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics("/api/images"))
	}

	imageHandler := handlers.NewImageHandler(repository, store, queueClient, orchestrator, publisher, cfg)
	healthHandler := handlers.NewHealthHandler(repository, store, cfg.Tracing.ServiceVersion)

	r.GET("/health", healthHandler.Check)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		images := api.Group("/images")
		{
			images.POST("", imageHandler.UploadImage)
			images.POST("/batch", imageHandler.UploadBatch)
			images.GET("", imageHandler.ListImages)
			images.GET("/:id", imageHandler.GetImage)
			images.DELETE("/:id", imageHandler.DeleteImage)
		}
	}

	return r
}
