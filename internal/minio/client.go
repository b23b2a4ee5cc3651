package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client defines the interface for object storage operations. Objects for
// one image live under the "<image id>/" prefix.
type Client interface {
	UploadFile(ctx context.Context, objectName, filePath, contentType string) (int64, error)
	GetImage(ctx context.Context, objectName string) (io.ReadCloser, error)
	DeleteImage(ctx context.Context, objectName string) error
	DeleteImages(ctx context.Context, id uuid.UUID) error
	GetImageURL(ctx context.Context, objectName string, expires time.Duration) (string, error)

	// Ping checks that the bucket is reachable
	Ping(ctx context.Context) error

	// Close closes the MinIO client connection
	Close() error
}

// ObjectName generates the object name of fileName under id's prefix.
func ObjectName(id uuid.UUID, fileName string) string {
	ext := path.Ext(fileName)
	base := strings.TrimSuffix(path.Base(fileName), ext)
	return fmt.Sprintf("%s/%s%s", id.String(), SanitizeFileName(base), strings.ToLower(ext))
}

// SanitizeFileName sanitizes a file name for storage
func SanitizeFileName(fileName string) string {
	fileName = strings.ReplaceAll(fileName, " ", "_")

	fileName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			return r
		}
		return -1
	}, fileName)

	if fileName == "" {
		return "image"
	}
	return fileName
}
