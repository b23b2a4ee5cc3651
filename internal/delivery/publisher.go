package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"github.com/not-nullexception/image-derivatives/internal/minio"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
	"github.com/rs/zerolog"
)

// Publisher moves pipeline outputs into object storage and records them.
type Publisher struct {
	repo   db.Repository
	store  minio.Client
	logger zerolog.Logger
}

func NewPublisher(repo db.Repository, store minio.Client) *Publisher {
	return &Publisher{
		repo:   repo,
		store:  store,
		logger: logger.GetLogger("publisher"),
	}
}

// StoreOriginal uploads the source under the image prefix and creates the
// pending record. It runs before processing because the pipeline consumes
// the local file.
func (p *Publisher) StoreOriginal(ctx context.Context, img *models.Image, localPath string) error {
	ctx, span := tracing.StartSpan(ctx, "delivery.store_original")
	defer span.End()

	img.OriginalPath = minio.ObjectName(img.ID, img.OriginalName)
	if _, err := p.store.UploadFile(ctx, img.OriginalPath, localPath, img.MimeType); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("error storing original: %w", err)
	}

	if err := p.repo.CreateImage(ctx, img); err != nil {
		if rmErr := p.store.DeleteImage(ctx, img.OriginalPath); rmErr != nil {
			p.logger.Warn().Err(rmErr).Str("image_id", img.ID.String()).Msg("Error removing orphaned original")
		}
		return err
	}
	return nil
}

// Publish uploads every output of res, records the derivatives on img and
// marks it completed. Local outputs are removed whether or not the upload
// succeeds; on error img is marked failed.
func (p *Publisher) Publish(ctx context.Context, img *models.Image, res *pipeline.Result) (err error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.publish")
	defer span.End()

	log := p.logger.With().Str("image_id", img.ID.String()).Logger()

	defer func() {
		for _, path := range res.OutputPaths() {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn().Err(rmErr).Str("path", path).Msg("Error removing local output")
			}
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			p.MarkFailed(ctx, img.ID, err)
		}
	}()

	img.OriginalWidth = res.Metadata.Width
	img.OriginalHeight = res.Metadata.Height
	img.OriginalFormat = res.Metadata.Format
	img.OriginalSize = res.Metadata.SizeBytes

	derivatives := make(models.Derivatives, len(res.Sizes))
	for name, d := range res.Sizes {
		entry, err := p.storeDerivative(ctx, img, d)
		if err != nil {
			return err
		}
		derivatives[name] = entry
	}

	if ph := res.BlurPlaceholder; ph != nil {
		objectName := minio.ObjectName(img.ID, filepath.Base(ph.OutputPath))
		if err := p.upload(ctx, objectName, ph.OutputPath, ph.Format.ContentType()); err != nil {
			return err
		}
		img.PlaceholderPath = objectName
	}

	img.Derivatives = derivatives
	img.DominantColor = models.HexColor(res.DominantColor.R, res.DominantColor.G, res.DominantColor.B)
	img.Status = models.StatusCompleted
	img.Error = ""

	if err := p.repo.UpdateImage(ctx, img); err != nil {
		return err
	}

	log.Info().
		Int("derivatives", len(derivatives)).
		Strs("failed_presets", res.Sizes.Failures()).
		Msg("Derivatives published")
	return nil
}

func (p *Publisher) storeDerivative(ctx context.Context, img *models.Image, d imageprocessor.Derivative) (models.Derivative, error) {
	if d.Failed() {
		return models.Derivative{Error: d.Err}, nil
	}

	r := d.Result
	if !r.Optimized {
		// Already compliant: the original serves this slot.
		return models.Derivative{
			ObjectName: img.OriginalPath,
			Format:     img.OriginalFormat,
			SizeBytes:  r.OriginalSizeBytes,
			Optimized:  false,
		}, nil
	}

	format, err := imageprocessor.ParseFormat(filepath.Ext(r.OutputPath))
	if err != nil {
		return models.Derivative{}, err
	}
	objectName := minio.ObjectName(img.ID, filepath.Base(r.OutputPath))
	if err := p.upload(ctx, objectName, r.OutputPath, format.ContentType()); err != nil {
		return models.Derivative{}, err
	}

	return models.Derivative{
		ObjectName:       objectName,
		Format:           string(format),
		Width:            r.Width,
		Height:           r.Height,
		SizeBytes:        r.OptimizedSizeBytes,
		CompressionRatio: r.CompressionRatioPercent,
		Optimized:        true,
	}, nil
}

func (p *Publisher) upload(ctx context.Context, objectName, path, contentType string) error {
	size, err := p.store.UploadFile(ctx, objectName, path, contentType)
	if err != nil {
		return fmt.Errorf("error uploading derivative: %w", err)
	}
	metrics.StoredBytes.Add(float64(size))
	return nil
}

// MarkFailed records cause on the image. Errors are logged, not returned.
func (p *Publisher) MarkFailed(ctx context.Context, id uuid.UUID, cause error) {
	if err := p.repo.UpdateImageStatus(ctx, id, models.StatusFailed, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("image_id", id.String()).Msg("Error updating image status")
	}
}

// Remove deletes every stored object and the record of id.
func (p *Publisher) Remove(ctx context.Context, id uuid.UUID) error {
	if err := p.repo.DeleteImage(ctx, id); err != nil {
		return err
	}
	if err := p.store.DeleteImages(ctx, id); err != nil {
		p.logger.Warn().Err(err).Str("image_id", id.String()).Msg("Error deleting stored objects")
		return err
	}
	return nil
}
