package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/minio"
)

type HealthHandler struct {
	repo    db.Repository
	store   minio.Client
	version string
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	DB        string    `json:"db"`
	Storage   string    `json:"storage"`
}

func NewHealthHandler(repo db.Repository, store minio.Client, version string) *HealthHandler {
	return &HealthHandler{
		repo:    repo,
		store:   store,
		version: version,
	}
}

// Check handles health check requests
func (h *HealthHandler) Check(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	response := HealthResponse{
		Status:    "UP",
		Timestamp: time.Now(),
		Version:   h.version,
		DB:        "UP",
		Storage:   "UP",
	}

	if err := h.repo.Ping(c.Request.Context()); err != nil {
		reqLogger.Error().Err(err).Msg("Database health check failed")
		response.Status = "DEGRADED"
		response.DB = "DOWN"
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		reqLogger.Error().Err(err).Msg("Storage health check failed")
		response.Status = "DEGRADED"
		response.Storage = "DOWN"
	}

	c.JSON(http.StatusOK, response)
}
