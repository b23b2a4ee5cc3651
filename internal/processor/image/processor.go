package image

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/not-nullexception/image-derivatives/internal/logger"
	"github.com/rs/zerolog"
)

// Processor produces image derivatives on the local filesystem. It holds no
// per-call state; a single instance is safe for concurrent use.
type Processor struct {
	presets PresetTable
	codecs  Codecs
	limits  Limits
	limiter *Limiter
	logger  zerolog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPresets replaces the responsive preset table.
func WithPresets(t PresetTable) Option {
	return func(p *Processor) { p.presets = t }
}

// WithCodecs replaces the encoder registry.
func WithCodecs(c Codecs) Option {
	return func(p *Processor) { p.codecs = c }
}

// WithLimits sets the per-source dimension limits.
func WithLimits(l Limits) Option {
	return func(p *Processor) { p.limits = l }
}

// WithLimiter shares a decode limiter between processors.
func WithLimiter(l *Limiter) Option {
	return func(p *Processor) { p.limiter = l }
}

func New(opts ...Option) *Processor {
	p := &Processor{
		presets: DefaultPresets(),
		codecs:  DefaultCodecs(),
		limits:  DefaultLimits(),
		logger:  logger.GetLogger("image-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limiter == nil {
		p.limiter = NewLimiter(4)
	}
	return p
}

// Presets returns the preset table used by GenerateResponsiveSizes.
func (p *Processor) Presets() PresetTable {
	return p.presets
}

// decode fully materializes inputPath after the header passed the limits. The
// returned release func frees the decode slot and must be called once the
// decoded pixels are no longer needed.
func (p *Processor) decode(ctx context.Context, inputPath string, meta Metadata) (image.Image, func(), error) {
	if err := p.limits.Check(meta.Width, meta.Height); err != nil {
		return nil, nil, err
	}

	release, err := p.limiter.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		release()
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, nil, &IOError{Op: "opening", Path: inputPath, Err: err}
		}
		return nil, nil, &DecodeError{Path: inputPath, Err: err}
	}

	p.logger.Debug().
		Str("path", inputPath).
		Str("format", meta.Format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("Image decoded")

	return img, release, nil
}

// writeAtomic encodes img next to outputPath and renames it into place, so a
// failed encode never leaves a partial file at outputPath.
func (p *Processor) writeAtomic(outputPath string, enc Encoder, img image.Image, quality int) (int64, error) {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return 0, &IOError{Op: "creating", Path: outputPath, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn().Err(rmErr).Str("path", tmpPath).Msg("Failed to remove partial output")
		}
		return 0, err
	}

	bw := bufio.NewWriter(tmp)
	if err := enc.Encode(bw, img, quality); err != nil {
		return fail(fmt.Errorf("error encoding %s image: %w", enc.Format(), err))
	}
	if err := bw.Flush(); err != nil {
		return fail(&IOError{Op: "writing", Path: outputPath, Err: err})
	}
	if err := tmp.Close(); err != nil {
		return fail(&IOError{Op: "closing", Path: outputPath, Err: err})
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, &IOError{Op: "renaming", Path: outputPath, Err: err}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, &IOError{Op: "stat", Path: outputPath, Err: err}
	}
	return info.Size(), nil
}

// OutputStem is the prefix shared by every output of inputPath. It keeps the
// source extension, so photo.png and photo.jpg map to photo-png and photo-jpg.
func OutputStem(inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	if ext == "" {
		return base
	}
	return strings.TrimSuffix(base, ext) + "-" + strings.TrimPrefix(ext, ".")
}

// DerivativePath names an output for inputPath: <outputDir>/<stem>-<suffix>.<ext>.
func DerivativePath(outputDir, inputPath, suffix string, format Format) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s-%s.%s", OutputStem(inputPath), suffix, format.Extension()))
}
