package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
)

const schema = `
	CREATE TABLE IF NOT EXISTS images (
		id               UUID PRIMARY KEY,
		original_name    TEXT NOT NULL,
		original_size    BIGINT NOT NULL DEFAULT 0,
		original_width   INTEGER NOT NULL DEFAULT 0,
		original_height  INTEGER NOT NULL DEFAULT 0,
		original_format  TEXT NOT NULL DEFAULT '',
		original_path    TEXT NOT NULL DEFAULT '',
		mime_type        TEXT NOT NULL DEFAULT '',
		derivatives      JSONB NOT NULL DEFAULT '{}',
		placeholder_path TEXT NOT NULL DEFAULT '',
		dominant_color   TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		error            TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS images_created_at_idx ON images (created_at DESC);
`

const selectColumns = `
	id, original_name, original_size, original_width, original_height,
	original_format, original_path, mime_type, derivatives, placeholder_path,
	dominant_color, status, error, created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, cfg *config.DatabaseConfig) (db.Repository, error) {
	initLogger := logger.GetLogger("postgres-repository")

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to apply schema: %w", err)
	}

	initLogger.Info().Msg("Connected to Postgres database")
	return &Repository{pool: pool}, nil
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(
		&img.ID, &img.OriginalName, &img.OriginalSize, &img.OriginalWidth, &img.OriginalHeight,
		&img.OriginalFormat, &img.OriginalPath, &img.MimeType, &img.Derivatives, &img.PlaceholderPath,
		&img.DominantColor, &img.Status, &img.Error, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// GetImageByID retrieves an image by its ID
func (r *Repository) GetImageByID(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	reqLogger := logger.FromContext(ctx)

	query := `SELECT ` + selectColumns + ` FROM images WHERE id = $1`

	reqLogger.Debug().Str("image_id", id.String()).Msg("Executing GetImageByID query")

	img, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			reqLogger.Warn().Str("image_id", id.String()).Msg("Image not found")
			return nil, db.ErrNotFound
		}

		reqLogger.Error().Err(err).Str("image_id", id.String()).Msg("Error querying image")
		return nil, fmt.Errorf("error querying image: %w", err)
	}

	return img, nil
}

// ListImages retrieves a list of images with pagination
func (r *Repository) ListImages(ctx context.Context, limit, offset int) ([]*models.Image, int, error) {
	reqLogger := logger.FromContext(ctx)

	query := `SELECT ` + selectColumns + ` FROM images ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	countQuery := `SELECT COUNT(*) FROM images`

	reqLogger.Debug().Int("limit", limit).Int("offset", offset).Msg("Executing ListImages query")

	var total int
	if err := r.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		reqLogger.Error().Err(err).Msg("Error counting images")
		return nil, 0, fmt.Errorf("error counting images: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		reqLogger.Error().Err(err).Msg("Error querying images")
		return nil, 0, fmt.Errorf("error querying images: %w", err)
	}
	defer rows.Close()

	images := make([]*models.Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			reqLogger.Error().Err(err).Msg("Error scanning image row")
			return nil, 0, fmt.Errorf("error scanning image row: %w", err)
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		reqLogger.Error().Err(err).Msg("Error iterating over image rows")
		return nil, 0, fmt.Errorf("error iterating over rows: %w", err)
	}

	return images, total, nil
}

// CreateImage creates a new image record
func (r *Repository) CreateImage(ctx context.Context, image *models.Image) error {
	reqLogger := logger.FromContext(ctx)

	query := `
		INSERT INTO images (
			id, original_name, original_size, original_width, original_height,
			original_format, original_path, mime_type, derivatives, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	if image.Derivatives == nil {
		image.Derivatives = models.Derivatives{}
	}

	_, err := r.pool.Exec(ctx, query,
		image.ID, image.OriginalName, image.OriginalSize, image.OriginalWidth, image.OriginalHeight,
		image.OriginalFormat, image.OriginalPath, image.MimeType, image.Derivatives, image.Status,
		image.CreatedAt, image.UpdatedAt,
	)
	if err != nil {
		reqLogger.Error().Err(err).Msg("Error creating image")
		return fmt.Errorf("error creating image: %w", err)
	}

	reqLogger.Debug().Str("image_id", image.ID.String()).Msg("Image created successfully")
	return nil
}

// UpdateImage updates an existing image record
func (r *Repository) UpdateImage(ctx context.Context, image *models.Image) error {
	reqLogger := logger.FromContext(ctx)

	query := `
		UPDATE images
		SET original_name = $2, original_size = $3, original_width = $4, original_height = $5,
			original_format = $6, original_path = $7, mime_type = $8, derivatives = $9,
			placeholder_path = $10, dominant_color = $11, status = $12, error = $13, updated_at = $14
		WHERE id = $1
	`

	image.UpdatedAt = time.Now()
	if image.Derivatives == nil {
		image.Derivatives = models.Derivatives{}
	}

	tag, err := r.pool.Exec(ctx, query,
		image.ID, image.OriginalName, image.OriginalSize, image.OriginalWidth, image.OriginalHeight,
		image.OriginalFormat, image.OriginalPath, image.MimeType, image.Derivatives,
		image.PlaceholderPath, image.DominantColor, image.Status, image.Error, image.UpdatedAt,
	)
	if err != nil {
		reqLogger.Error().Err(err).Msg("Error updating image")
		return fmt.Errorf("error updating image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}

	reqLogger.Debug().Str("image_id", image.ID.String()).Msg("Image updated successfully")
	return nil
}

// DeleteImage deletes an image record
func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	reqLogger := logger.FromContext(ctx)

	commandTag, err := r.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		reqLogger.Error().Err(err).Msg("Error deleting image")
		return fmt.Errorf("error deleting image: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		reqLogger.Warn().Str("image_id", id.String()).Msg("Image not found for deletion")
		return db.ErrNotFound
	}

	reqLogger.Debug().Str("image_id", id.String()).Msg("Image deleted successfully")
	return nil
}

// UpdateImageStatus updates the status of an image
func (r *Repository) UpdateImageStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus, errorMsg string) error {
	reqLogger := logger.FromContext(ctx)

	query := `
		UPDATE images
		SET status = $2, error = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, status, errorMsg, time.Now())
	if err != nil {
		reqLogger.Error().Err(err).Msg("Error updating image status")
		return fmt.Errorf("error updating image status: %w", err)
	}

	reqLogger.Debug().
		Str("image_id", id.String()).
		Str("status", string(status)).
		Msg("Image status updated successfully")
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	reqLogger := logger.FromContext(ctx)

	if err := r.pool.Ping(ctx); err != nil {
		reqLogger.Error().Err(err).Msg("Error pinging database")
		return fmt.Errorf("error pinging database: %w", err)
	}

	metrics.UpdateDBConnections(int(r.pool.Stat().TotalConns()))
	return nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}
