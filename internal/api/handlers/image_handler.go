package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/minio"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
	rabbitmq "github.com/not-nullexception/image-derivatives/internal/queue"
)

// allowedMimeTypes are the sniffed content types accepted for upload.
var allowedMimeTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/avif"}

// Orchestrator runs the derivative pipeline for one spooled upload.
type Orchestrator interface {
	ProcessSingleImage(ctx context.Context, file pipeline.File, opts pipeline.Options) (*pipeline.Result, error)
}

// Publisher stores originals and pipeline results.
type Publisher interface {
	StoreOriginal(ctx context.Context, img *models.Image, localPath string) error
	Publish(ctx context.Context, img *models.Image, res *pipeline.Result) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error)
	Remove(ctx context.Context, id uuid.UUID) error
}

type ImageHandler struct {
	repo         db.Repository
	store        minio.Client
	queueClient  rabbitmq.Client
	orchestrator Orchestrator
	publisher    Publisher
	config       *config.Config
}

func NewImageHandler(
	repo db.Repository,
	store minio.Client,
	queueClient rabbitmq.Client,
	orchestrator Orchestrator,
	publisher Publisher,
	config *config.Config,
) *ImageHandler {
	return &ImageHandler{
		repo:         repo,
		store:        store,
		queueClient:  queueClient,
		orchestrator: orchestrator,
		publisher:    publisher,
		config:       config,
	}
}

// uploadError carries the status an upload was rejected with.
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		upload      *uploadError
		validation  *imageprocessor.ValidationError
		unsupported *imageprocessor.UnsupportedFormatError
		decode      *imageprocessor.DecodeError
		limit       *imageprocessor.ResourceLimitError
	)
	switch {
	case errors.As(err, &upload):
		return upload.status
	case errors.As(err, &validation), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &decode):
		return http.StatusUnprocessableEntity
	case errors.As(err, &limit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": message})
}

// parseOptions reads generate_sizes, format and quality from the query or
// form, falling back to the pipeline defaults.
func (h *ImageHandler) parseOptions(c *gin.Context) (pipeline.Options, error) {
	generateSizes := true
	if v := c.DefaultQuery("generate_sizes", c.PostForm("generate_sizes")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return pipeline.Options{}, &imageprocessor.ValidationError{Field: "generate_sizes", Reason: "must be a boolean"}
		}
		generateSizes = b
	}

	format := c.DefaultQuery("format", c.PostForm("format"))
	if format == "" {
		format = h.config.Pipeline.Format
	}

	quality := h.config.Pipeline.Quality
	if v := c.DefaultQuery("quality", c.PostForm("quality")); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return pipeline.Options{}, &imageprocessor.ValidationError{Field: "quality", Reason: "must be an integer"}
		}
		quality = q
	}

	return pipeline.NewOptions(generateSizes, format, quality)
}

// spool validates an uploaded part and copies it to the temp dir, named after
// the new image ID so derivative names never collide.
func (h *ImageHandler) spool(header *multipart.FileHeader) (*models.Image, pipeline.File, error) {
	if header.Size > h.config.Upload.MaxBytes {
		return nil, pipeline.File{}, &uploadError{
			status:  http.StatusRequestEntityTooLarge,
			message: fmt.Sprintf("%s is too large, max %d bytes", header.Filename, h.config.Upload.MaxBytes),
		}
	}

	src, err := header.Open()
	if err != nil {
		return nil, pipeline.File{}, &uploadError{status: http.StatusBadRequest, message: "failed to read " + header.Filename}
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, pipeline.File{}, &uploadError{status: http.StatusBadRequest, message: "failed to read " + header.Filename}
	}
	if !mimetype.EqualsAny(mtype.String(), allowedMimeTypes...) {
		return nil, pipeline.File{}, &uploadError{
			status:  http.StatusUnsupportedMediaType,
			message: fmt.Sprintf("unsupported content type %s", mtype.String()),
		}
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, pipeline.File{}, fmt.Errorf("error rewinding upload: %w", err)
	}

	img := models.NewImage(header.Filename, header.Size, mtype.String())

	if err := os.MkdirAll(h.config.Pipeline.TempDir, 0o755); err != nil {
		return nil, pipeline.File{}, fmt.Errorf("error creating temp dir: %w", err)
	}
	path := filepath.Join(h.config.Pipeline.TempDir, img.ID.String()+mtype.Extension())
	dst, err := os.Create(path)
	if err != nil {
		return nil, pipeline.File{}, fmt.Errorf("error spooling upload: %w", err)
	}
	n, err := io.Copy(dst, io.LimitReader(src, h.config.Upload.MaxBytes+1))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > h.config.Upload.MaxBytes {
		err = &uploadError{status: http.StatusRequestEntityTooLarge, message: header.Filename + " is too large"}
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, pipeline.File{}, err
	}

	img.OriginalSize = n
	return img, pipeline.File{Path: path, OriginalName: header.Filename, MimeType: mtype.String(), Size: n}, nil
}

func removeSpooled(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).Warn().Err(err).Str("path", path).Msg("Failed to remove spooled upload")
	}
}

// UploadImage derives one image synchronously and returns the stored record
func (h *ImageHandler) UploadImage(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)
	reqLogger.Info().Msg("Received image upload request")

	opts, err := h.parseOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}

	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get image from request"})
		return
	}

	img, file, err := h.spool(header)
	if err != nil {
		reqLogger.Warn().Err(err).Str("filename", header.Filename).Msg("Upload rejected")
		writeError(c, err)
		return
	}

	if err := h.publisher.StoreOriginal(ctx, img, file.Path); err != nil {
		removeSpooled(ctx, file.Path)
		reqLogger.Error().Err(err).Str("image_id", img.ID.String()).Msg("Failed to store original")
		writeError(c, err)
		return
	}

	res, err := h.orchestrator.ProcessSingleImage(ctx, file, opts)
	if err != nil {
		// The pipeline keeps the source on failure; there is no retry over HTTP.
		removeSpooled(ctx, file.Path)
		h.publisher.MarkFailed(ctx, img.ID, err)
		reqLogger.Error().Err(err).Str("image_id", img.ID.String()).Msg("Image processing failed")
		writeError(c, err)
		return
	}

	if err := h.publisher.Publish(ctx, img, res); err != nil {
		reqLogger.Error().Err(err).Str("image_id", img.ID.String()).Msg("Failed to publish derivatives")
		writeError(c, err)
		return
	}

	reqLogger.Info().
		Str("image_id", img.ID.String()).
		Strs("failed_presets", res.Sizes.Failures()).
		Msg("Image processed")

	c.JSON(http.StatusCreated, h.toResponse(ctx, img))
}

// UploadBatch stores every uploaded original and queues one batch task
func (h *ImageHandler) UploadBatch(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	opts, err := h.parseOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse multipart form"})
		return
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No images in request"})
		return
	}
	if len(headers) > h.config.Upload.MaxFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many images, max %d", h.config.Upload.MaxFiles)})
		return
	}

	reqLogger.Info().Int("files", len(headers)).Msg("Received batch upload request")

	task := rabbitmq.Task{
		ID:   uuid.NewString(),
		Type: rabbitmq.TaskTypeProcessBatch,
		Options: rabbitmq.TaskOptions{
			GenerateSizes: opts.GenerateSizes,
			Format:        string(opts.Format),
			Quality:       opts.Quality,
		},
	}
	response := models.BatchUploadResponse{TaskID: task.ID}

	for _, header := range headers {
		img, file, err := h.spool(header)
		if err != nil {
			reqLogger.Warn().Err(err).Str("filename", header.Filename).Msg("Batch file rejected")
			response.Images = append(response.Images, models.ImageUploadResponse{Name: header.Filename, Status: err.Error()})
			continue
		}

		err = h.publisher.StoreOriginal(ctx, img, file.Path)
		removeSpooled(ctx, file.Path)
		if err != nil {
			reqLogger.Error().Err(err).Str("filename", header.Filename).Msg("Failed to store original")
			response.Images = append(response.Images, models.ImageUploadResponse{Name: header.Filename, Status: string(models.StatusFailed)})
			continue
		}

		task.Items = append(task.Items, rabbitmq.TaskItem{
			ImageID:      img.ID,
			ObjectName:   img.OriginalPath,
			OriginalName: img.OriginalName,
			MimeType:     img.MimeType,
			Size:         img.OriginalSize,
		})
		response.Images = append(response.Images, models.ImageUploadResponse{ID: img.ID, Name: header.Filename, Status: string(models.StatusPending)})
	}

	if len(task.Items) == 0 {
		c.JSON(http.StatusBadRequest, response)
		return
	}

	if err := h.queueClient.Publish(ctx, task); err != nil {
		reqLogger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to queue batch")
		for _, item := range task.Items {
			h.publisher.MarkFailed(ctx, item.ImageID, err)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue batch for processing"})
		return
	}

	reqLogger.Info().Str("task_id", task.ID).Int("queued", len(task.Items)).Msg("Batch queued")
	c.JSON(http.StatusAccepted, response)
}

// GetImage retrieves an image with presigned URLs for its derivatives
func (h *ImageHandler) GetImage(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image ID"})
		return
	}

	img, err := h.repo.GetImageByID(ctx, id)
	if err != nil {
		reqLogger.Warn().Err(err).Str("image_id", idStr).Msg("Failed to get image")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.toResponse(ctx, img))
}

// ListImages lists images page by page
func (h *ImageHandler) ListImages(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}

	images, total, err := h.repo.ListImages(ctx, limit, (page-1)*limit)
	if err != nil {
		reqLogger.Error().Err(err).Msg("Failed to list images")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list images"})
		return
	}

	response := &models.ImageListResponse{
		Images: make([]*models.ImageResponse, 0, len(images)),
		Total:  total,
	}
	for _, img := range images {
		response.Images = append(response.Images, h.toResponse(ctx, img))
	}

	reqLogger.Debug().Int("count", len(images)).Int("total", total).Msg("Images listed")
	c.JSON(http.StatusOK, response)
}

// DeleteImage removes the record and every stored object of an image
func (h *ImageHandler) DeleteImage(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image ID"})
		return
	}

	if err := h.publisher.Remove(ctx, id); err != nil {
		reqLogger.Error().Err(err).Str("image_id", idStr).Msg("Failed to delete image")
		writeError(c, err)
		return
	}

	reqLogger.Info().Str("image_id", idStr).Msg("Image deleted")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *ImageHandler) presign(ctx context.Context, objectName string) string {
	if objectName == "" {
		return ""
	}
	url, err := h.store.GetImageURL(ctx, objectName, h.config.MinIO.URLExpiry)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("object", objectName).Msg("Failed to presign object")
		return ""
	}
	return url
}

func (h *ImageHandler) toResponse(ctx context.Context, img *models.Image) *models.ImageResponse {
	resp := &models.ImageResponse{
		ID:             img.ID,
		OriginalName:   img.OriginalName,
		Status:         img.Status,
		OriginalURL:    h.presign(ctx, img.OriginalPath),
		OriginalSize:   img.OriginalSize,
		OriginalWidth:  img.OriginalWidth,
		OriginalHeight: img.OriginalHeight,
		OriginalFormat: img.OriginalFormat,
		PlaceholderURL: h.presign(ctx, img.PlaceholderPath),
		DominantColor:  img.DominantColor,
		CreatedAt:      img.CreatedAt,
		UpdatedAt:      img.UpdatedAt,
		Error:          img.Error,
	}

	if len(img.Derivatives) > 0 {
		resp.Sizes = make(map[string]models.DerivativeResponse, len(img.Derivatives))
		for name, d := range img.Derivatives {
			resp.Sizes[name] = models.DerivativeResponse{
				URL:              h.presign(ctx, d.ObjectName),
				Format:           d.Format,
				Width:            d.Width,
				Height:           d.Height,
				SizeBytes:        d.SizeBytes,
				CompressionRatio: d.CompressionRatio,
				Optimized:        d.Optimized,
				Error:            d.Error,
			}
		}
	}
	return resp
}
