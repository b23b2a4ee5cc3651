package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Derivative is the stored outcome of one preset. A skipped preset points at
// the original object; a failed one only carries Error.
type Derivative struct {
	ObjectName       string   `json:"object_name,omitempty"`
	Format           string   `json:"format,omitempty"`
	Width            int      `json:"width,omitempty"`
	Height           int      `json:"height,omitempty"`
	SizeBytes        int64    `json:"size_bytes,omitempty"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	Optimized        bool     `json:"optimized"`
	Error            string   `json:"error,omitempty"`
}

// Derivatives is persisted as a JSONB column keyed by preset name.
type Derivatives map[string]Derivative

// Image represents an uploaded source and everything derived from it
type Image struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	OriginalName    string           `json:"original_name" db:"original_name"`
	OriginalSize    int64            `json:"original_size" db:"original_size"`
	OriginalWidth   int              `json:"original_width" db:"original_width"`
	OriginalHeight  int              `json:"original_height" db:"original_height"`
	OriginalFormat  string           `json:"original_format" db:"original_format"`
	OriginalPath    string           `json:"original_path" db:"original_path"`
	MimeType        string           `json:"mime_type" db:"mime_type"`
	Derivatives     Derivatives      `json:"derivatives,omitempty" db:"derivatives"`
	PlaceholderPath string           `json:"placeholder_path,omitempty" db:"placeholder_path"`
	DominantColor   string           `json:"dominant_color,omitempty" db:"dominant_color"`
	Status          ProcessingStatus `json:"status" db:"status"`
	Error           string           `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// NewImage creates a pending Image for an upload
func NewImage(originalName string, originalSize int64, mimeType string) *Image {
	now := time.Now()
	return &Image{
		ID:           uuid.New(),
		OriginalName: originalName,
		OriginalSize: originalSize,
		MimeType:     mimeType,
		Derivatives:  Derivatives{},
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HexColor formats an RGB triple as #rrggbb
func HexColor(r, g, b int) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// ImageListResponse represents the response for image listing
type ImageListResponse struct {
	Images []*ImageResponse `json:"images"`
	Total  int              `json:"total"`
}

// DerivativeResponse is a derivative with a download URL
type DerivativeResponse struct {
	URL              string   `json:"url,omitempty"`
	Format           string   `json:"format,omitempty"`
	Width            int      `json:"width,omitempty"`
	Height           int      `json:"height,omitempty"`
	SizeBytes        int64    `json:"size_bytes,omitempty"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	Optimized        bool     `json:"optimized"`
	Error            string   `json:"error,omitempty"`
}

// ImageResponse represents the response for a single image
type ImageResponse struct {
	ID             uuid.UUID                     `json:"id"`
	OriginalName   string                        `json:"original_name"`
	Status         ProcessingStatus              `json:"status"`
	OriginalURL    string                        `json:"original_url,omitempty"`
	OriginalSize   int64                         `json:"original_size"`
	OriginalWidth  int                           `json:"original_width,omitempty"`
	OriginalHeight int                           `json:"original_height,omitempty"`
	OriginalFormat string                        `json:"original_format,omitempty"`
	Sizes          map[string]DerivativeResponse `json:"sizes,omitempty"`
	PlaceholderURL string                        `json:"placeholder_url,omitempty"`
	DominantColor  string                        `json:"dominant_color,omitempty"`
	CreatedAt      time.Time                     `json:"created_at"`
	UpdatedAt      time.Time                     `json:"updated_at"`
	Error          string                        `json:"error,omitempty"`
}

// ImageUploadResponse represents one accepted upload
type ImageUploadResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

// BatchUploadResponse is returned when a batch is queued
type BatchUploadResponse struct {
	TaskID string                `json:"task_id"`
	Images []ImageUploadResponse `json:"images"`
}
