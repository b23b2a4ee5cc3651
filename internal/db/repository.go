package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
)

// ErrNotFound is returned when no image has the requested ID
var ErrNotFound = errors.New("image not found")

// Repository defines the interface for database operations
type Repository interface {
	GetImageByID(ctx context.Context, id uuid.UUID) (*models.Image, error)
	ListImages(ctx context.Context, limit, offset int) ([]*models.Image, int, error)
	CreateImage(ctx context.Context, image *models.Image) error
	UpdateImage(ctx context.Context, image *models.Image) error
	DeleteImage(ctx context.Context, id uuid.UUID) error
	UpdateImageStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus, errorMsg string) error

	// Health check
	Ping(ctx context.Context) error

	// Close the repository
	Close() error
}
