package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/not-nullexception/image-derivatives/internal/db"
	"github.com/not-nullexception/image-derivatives/internal/db/models"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"github.com/not-nullexception/image-derivatives/internal/minio"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	rabbitmq "github.com/not-nullexception/image-derivatives/internal/queue"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Orchestrator runs the derivative pipeline over local files.
type Orchestrator interface {
	ProcessMultipleImages(ctx context.Context, files []pipeline.File, opts pipeline.Options) []pipeline.BatchItem
}

// Publisher stores pipeline results and records failures.
type Publisher interface {
	Publish(ctx context.Context, img *models.Image, res *pipeline.Result) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error)
}

type Worker struct {
	repo         db.Repository
	store        minio.Client
	queueClient  rabbitmq.Client
	orchestrator Orchestrator
	publisher    Publisher
	tempDir      string
	logger       zerolog.Logger
	maxWorkers   int
	sem          *semaphore.Weighted
	active       int
	mu           sync.Mutex
	wg           sync.WaitGroup
}

func New(
	repo db.Repository,
	store minio.Client,
	queueClient rabbitmq.Client,
	orchestrator Orchestrator,
	publisher Publisher,
	tempDir string,
	maxWorkers int,
) *Worker {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Worker{
		repo:         repo,
		store:        store,
		queueClient:  queueClient,
		orchestrator: orchestrator,
		publisher:    publisher,
		tempDir:      tempDir,
		logger:       logger.GetLogger("worker"),
		maxWorkers:   maxWorkers,
		sem:          semaphore.NewWeighted(int64(maxWorkers)),
	}
}

// Start starts the worker
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Int("max_workers", w.maxWorkers).Msg("Starting worker")

	if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
		return fmt.Errorf("error creating temp dir: %w", err)
	}

	if err := w.queueClient.Consume(ctx, w.processTask); err != nil {
		return fmt.Errorf("error consuming messages: %w", err)
	}

	return nil
}

// Stop waits for in-flight tasks
func (w *Worker) Stop() {
	w.logger.Info().Msg("Stopping worker")
	w.wg.Wait()
	w.logger.Info().Msg("Worker stopped")
}

// processTask processes a task from the queue
func (w *Worker) processTask(ctx context.Context, task rabbitmq.Task) error {
	w.wg.Add(1)
	defer w.wg.Done()

	ctx = logger.ToContext(ctx, w.logger.With().Str("task_id", task.ID).Logger())
	ctx, span := tracing.StartSpan(ctx, "worker.process_task")
	defer span.End()

	w.logger.Info().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Int("items", len(task.Items)).
		Msg("Processing task")

	switch task.Type {
	case rabbitmq.TaskTypeProcessBatch:
		return w.processBatch(ctx, task)
	default:
		return fmt.Errorf("%w: unknown task type %q", rabbitmq.ErrMalformedTask, task.Type)
	}
}

// processBatch downloads the stored originals, runs the pipeline over them
// and publishes each result. A failing image is marked failed and never
// affects its siblings; only infrastructure errors requeue the task.
func (w *Worker) processBatch(ctx context.Context, task rabbitmq.Task) error {
	opts, err := pipeline.NewOptions(task.Options.GenerateSizes, task.Options.Format, task.Options.Quality)
	if err != nil {
		for _, item := range task.Items {
			w.publisher.MarkFailed(ctx, item.ImageID, err)
		}
		return fmt.Errorf("%w: %v", rabbitmq.ErrMalformedTask, err)
	}

	dir, err := os.MkdirTemp(w.tempDir, "batch-*")
	if err != nil {
		return fmt.Errorf("error creating batch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fetched := make([]*pipeline.File, len(task.Items))
	w.forEach(ctx, len(task.Items), func(i int) {
		item := task.Items[i]
		if err := w.repo.UpdateImageStatus(ctx, item.ImageID, models.StatusProcessing, ""); err != nil {
			w.logger.Warn().Err(err).Str("image_id", item.ImageID.String()).Msg("Error updating image status")
		}
		file, err := w.fetch(ctx, dir, item)
		if err != nil {
			w.logger.Error().Err(err).Str("image_id", item.ImageID.String()).Msg("Error fetching original")
			w.publisher.MarkFailed(ctx, item.ImageID, err)
			return
		}
		fetched[i] = file
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	var files []pipeline.File
	var ids []uuid.UUID
	for i, f := range fetched {
		if f != nil {
			files = append(files, *f)
			ids = append(ids, task.Items[i].ImageID)
		}
	}

	results := w.orchestrator.ProcessMultipleImages(ctx, files, opts)

	var failed int
	var mu sync.Mutex
	w.forEach(ctx, len(results), func(i int) {
		id := ids[i]
		if err := w.publishItem(ctx, id, results[i]); err != nil {
			w.logger.Error().Err(err).Str("image_id", id.String()).Msg("Image failed")
			mu.Lock()
			failed++
			mu.Unlock()
		}
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	w.logger.Info().
		Str("task_id", task.ID).
		Int("items", len(task.Items)).
		Int("processed", len(results)-failed).
		Msg("Batch processed")
	return nil
}

func (w *Worker) publishItem(ctx context.Context, id uuid.UUID, item pipeline.BatchItem) error {
	if item.Failed() {
		err := errors.New(item.Error)
		w.publisher.MarkFailed(ctx, id, err)
		return err
	}

	img, err := w.repo.GetImageByID(ctx, id)
	if err != nil {
		return err
	}
	return w.publisher.Publish(ctx, img, item.Result)
}

// fetch copies the stored original of item into dir.
func (w *Worker) fetch(ctx context.Context, dir string, item rabbitmq.TaskItem) (*pipeline.File, error) {
	obj, err := w.store.GetImage(ctx, item.ObjectName)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	ext := strings.ToLower(filepath.Ext(item.ObjectName))
	path := filepath.Join(dir, item.ImageID.String()+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating local copy: %w", err)
	}
	n, err := io.Copy(f, obj)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("error downloading %s: %w", item.ObjectName, err)
	}

	return &pipeline.File{
		Path:         path,
		OriginalName: item.OriginalName,
		MimeType:     item.MimeType,
		Size:         n,
	}, nil
}

// forEach runs fn for 0..n-1 with at most maxWorkers in flight.
func (w *Worker) forEach(ctx context.Context, n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.logger.Warn().Err(err).Msg("Stopped scheduling batch items")
			break
		}
		w.track(1)
		wg.Add(1)
		go func(i int) {
			defer func() {
				w.track(-1)
				w.sem.Release(1)
				wg.Done()
			}()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) track(delta int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active += delta
	metrics.UpdateWorkerUtilization(w.active, w.maxWorkers)
}
