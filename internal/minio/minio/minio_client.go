package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	minioLib "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/minio"
	"github.com/rs/zerolog"
)

type MinioClient struct {
	client     *minioLib.Client
	bucketName string
	logger     zerolog.Logger
}

func NewClient(ctx context.Context, cfg *config.MinIOConfig) (minio.Client, error) {
	log := logger.GetLogger("minio-client")

	client, err := minioLib.New(cfg.Endpoint, &minioLib.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.SSL,
		Region: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket exists: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minioLib.MakeBucketOptions{Region: cfg.Location})
		if err != nil {
			return nil, fmt.Errorf("error creating bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket created")
	} else {
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket already exists")
	}

	return &MinioClient{
		client:     client,
		bucketName: cfg.Bucket,
		logger:     log,
	}, nil
}

// UploadFile uploads a local file and returns the stored size
func (m *MinioClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) (int64, error) {
	info, err := m.client.FPutObject(ctx, m.bucketName, objectName, filePath,
		minioLib.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("error uploading %s: %w", filePath, err)
	}

	m.logger.Debug().
		Str("object", objectName).
		Int64("size", info.Size).
		Msg("File uploaded successfully")
	return info.Size, nil
}

// GetImage retrieves an image from MinIO
func (m *MinioClient) GetImage(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, objectName, minioLib.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("error getting image: %w", err)
	}

	m.logger.Debug().Str("object", objectName).Msg("Image retrieved successfully")
	return obj, nil
}

// DeleteImage deletes an image from MinIO
func (m *MinioClient) DeleteImage(ctx context.Context, objectName string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, objectName, minioLib.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("error deleting image: %w", err)
	}

	m.logger.Debug().Str("object", objectName).Msg("Image deleted successfully")
	return nil
}

// DeleteImages removes every object stored under id's prefix
func (m *MinioClient) DeleteImages(ctx context.Context, id uuid.UUID) error {
	objects := m.client.ListObjects(ctx, m.bucketName, minioLib.ListObjectsOptions{
		Prefix:    id.String() + "/",
		Recursive: true,
	})

	var errs []error
	for rmErr := range m.client.RemoveObjects(ctx, m.bucketName, objects, minioLib.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("error deleting %s: %w", rmErr.ObjectName, rmErr.Err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.logger.Debug().Str("image_id", id.String()).Msg("Image objects deleted successfully")
	return nil
}

// GetImageURL generates a pre-signed URL for an image in MinIO
func (m *MinioClient) GetImageURL(ctx context.Context, objectName string, expires time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucketName, objectName, expires, nil)
	if err != nil {
		return "", fmt.Errorf("error generating pre-signed URL: %w", err)
	}

	return url.String(), nil
}

func (m *MinioClient) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucketName); err != nil {
		return fmt.Errorf("error reaching bucket %s: %w", m.bucketName, err)
	}
	return nil
}

// Close closes the MinIO client connection
func (m *MinioClient) Close() error {
	return nil
}
