package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Processor is the part of the image processor the orchestrator drives.
type Processor interface {
	Inspect(ctx context.Context, path string) (imageprocessor.Metadata, error)
	OptimizeImage(ctx context.Context, inputPath, outputPath string, opts imageprocessor.OptimizeOptions) (*imageprocessor.OptimizationResult, error)
	GenerateResponsiveSizes(ctx context.Context, inputPath, outputDir string) imageprocessor.DerivativeSet
	GenerateBlurPlaceholder(ctx context.Context, inputPath, outputPath string) (*imageprocessor.BlurPlaceholder, error)
	GetDominantColor(ctx context.Context, inputPath string) (imageprocessor.Color, error)
	Presets() imageprocessor.PresetTable
}

// Orchestrator runs the derivative pipeline for uploaded files.
type Orchestrator struct {
	processor Processor
	outputDir string
	timeout   time.Duration
	logger    zerolog.Logger
}

// New returns an orchestrator writing into outputDir. A zero timeout disables
// the per-file deadline.
func New(processor Processor, outputDir string, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		processor: processor,
		outputDir: outputDir,
		timeout:   timeout,
		logger:    logger.GetLogger("pipeline"),
	}
}

// OutputDir returns the directory derivatives are written to.
func (o *Orchestrator) OutputDir() string {
	return o.outputDir
}

// ProcessSingleImage probes file, generates its derivatives, blur placeholder
// and dominant color, then deletes file.Path. Per-preset failures are kept in
// Result.Sizes. Any other failure aborts the unit: outputs written so far are
// removed, file.Path is left in place and the error is returned.
func (o *Orchestrator) ProcessSingleImage(ctx context.Context, file File, opts Options) (result *Result, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "pipeline.process_single")
	defer span.End()
	tracing.AddAttribute(ctx, "file", file.Name())

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	log := o.logger.With().Str("file", file.Name()).Str("path", file.Path).Logger()

	var written []string
	defer func() {
		if err == nil {
			return
		}
		o.removeOutputs(log, written)
		tracing.RecordError(ctx, err)
		metrics.RecordProcessingTime(ctx, "failed", start)
		log.Error().Err(err).Msg("Image processing failed, source retained")
	}()

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return nil, &imageprocessor.IOError{Op: "creating", Path: o.outputDir, Err: err}
	}

	meta, err := o.processor.Inspect(ctx, file.Path)
	if err != nil {
		return nil, err
	}

	var sizes imageprocessor.DerivativeSet
	if opts.GenerateSizes {
		sizes = o.processor.GenerateResponsiveSizes(ctx, file.Path, o.outputDir)
	} else {
		sizes, err = o.optimizeOriginal(ctx, file, opts)
		if err != nil {
			return nil, err
		}
	}
	written = append(written, sizes.OutputPaths()...)

	placeholder, err := o.processor.GenerateBlurPlaceholder(ctx, file.Path, imageprocessor.PlaceholderPath(o.outputDir, file.Path))
	if err != nil {
		return nil, err
	}
	written = append(written, placeholder.OutputPath)

	color, err := o.processor.GetDominantColor(ctx, file.Path)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &imageprocessor.IOError{Op: "removing", Path: file.Path, Err: err}
	}
	tracing.AddEvent(ctx, "source_removed", attribute.String("path", file.Path))

	status := "success"
	if failed := sizes.Failures(); len(failed) > 0 {
		status = "degraded"
		log.Warn().Strs("failed_presets", failed).Msg("Image processed with failed derivatives")
	}
	metrics.RecordProcessingTime(ctx, status, start)

	log.Info().
		Int("width", meta.Width).
		Int("height", meta.Height).
		Str("format", meta.Format).
		Int("derivatives", len(sizes)).
		Dur("elapsed", time.Since(start)).
		Msg("Image processed")

	return &Result{
		Original: Original{
			Name:      file.Name(),
			Path:      file.Path,
			MimeType:  file.MimeType,
			SizeBytes: meta.SizeBytes,
		},
		Sizes:           sizes,
		Metadata:        meta,
		BlurPlaceholder: placeholder,
		DominantColor:   color,
	}, nil
}

// optimizeOriginal writes a single encode bounded by the largest preset.
func (o *Orchestrator) optimizeOriginal(ctx context.Context, file File, opts Options) (imageprocessor.DerivativeSet, error) {
	largest := o.processor.Presets().Largest()
	outputPath := imageprocessor.DerivativePath(o.outputDir, file.Path, OptimizedKey, opts.Format)

	res, err := o.processor.OptimizeImage(ctx, file.Path, outputPath, imageprocessor.OptimizeOptions{
		Width:   largest.MaxWidth,
		Height:  largest.MaxHeight,
		Quality: opts.Quality,
		Format:  opts.Format,
		Fit:     imageprocessor.FitModeInside,
	})
	if err != nil {
		return nil, err
	}
	return imageprocessor.DerivativeSet{OptimizedKey: {Result: res}}, nil
}

func (o *Orchestrator) removeOutputs(log zerolog.Logger, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("output", p).Msg("Failed to remove output of failed unit")
		}
	}
}

// ProcessMultipleImages processes every file independently and concurrently.
// The result slice matches files by index; a file that fails as a whole gets
// a BatchItem carrying its error and name, and never affects its siblings.
func (o *Orchestrator) ProcessMultipleImages(ctx context.Context, files []File, opts Options) []BatchItem {
	items := make([]BatchItem, len(files))

	// Files sharing an output stem would write the same paths; only the
	// first one runs.
	owners := make(map[string]string, len(files))

	var wg sync.WaitGroup
	for i, file := range files {
		stem := imageprocessor.OutputStem(file.Path)
		if owner, ok := owners[stem]; ok {
			err := &imageprocessor.ValidationError{Field: "file", Reason: fmt.Sprintf("output names collide with %s", owner)}
			items[i] = BatchItem{Error: err.Error(), File: file.Name()}
			continue
		}
		owners[stem] = file.Path

		wg.Add(1)
		go func(i int, file File) {
			defer wg.Done()
			res, err := o.ProcessSingleImage(ctx, file, opts)
			if err != nil {
				items[i] = BatchItem{Error: err.Error(), File: file.Name()}
				return
			}
			items[i] = BatchItem{Result: res}
		}(i, file)
	}
	wg.Wait()

	return items
}

// NewFromConfig builds the processor and orchestrator described by cfg.
func NewFromConfig(cfg *config.PipelineConfig) *Orchestrator {
	processor := imageprocessor.New(
		imageprocessor.WithLimits(imageprocessor.Limits{
			MaxPixels:    cfg.MaxPixels,
			MaxDimension: cfg.MaxDimension,
		}),
		imageprocessor.WithLimiter(imageprocessor.NewLimiter(cfg.MaxConcurrentDecodes)),
	)
	return New(processor, cfg.OutputDir, cfg.Timeout)
}
