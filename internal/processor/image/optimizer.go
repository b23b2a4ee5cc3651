package image

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
)

// OptimizeOptions is the target of a single optimize call.
type OptimizeOptions struct {
	Width   int
	Height  int
	Quality int
	Format  Format
	Fit     Fit
}

// Validate rejects out-of-range bounds and quality, and formats the
// optimizer cannot produce. An empty Fit means FitModeInside.
func (o OptimizeOptions) Validate() error {
	if o.Width <= 0 {
		return &ValidationError{Field: "width", Reason: "must be positive"}
	}
	if o.Height <= 0 {
		return &ValidationError{Field: "height", Reason: "must be positive"}
	}
	if o.Quality <= 0 || o.Quality > 100 {
		return &ValidationError{Field: "quality", Reason: "must be in (0, 100]"}
	}
	if o.Fit != "" && o.Fit != FitModeInside {
		return &ValidationError{Field: "fit", Reason: "only \"inside\" is supported"}
	}
	switch o.Format {
	case FormatWebP, FormatJPEG, FormatPNG:
		return nil
	default:
		return &UnsupportedFormatError{Format: string(o.Format)}
	}
}

// OptimizationResult describes one optimize call. When Optimized is false the
// call was a no-op and only OriginalSizeBytes is set.
type OptimizationResult struct {
	Optimized               bool     `json:"optimized"`
	OriginalSizeBytes       int64    `json:"originalSizeBytes"`
	OptimizedSizeBytes      int64    `json:"optimizedSizeBytes,omitempty"`
	CompressionRatioPercent *float64 `json:"compressionRatioPercent,omitempty"`
	OutputPath              string   `json:"outputPath,omitempty"`
	Width                   int      `json:"width,omitempty"`
	Height                  int      `json:"height,omitempty"`
}

// CompressionRatio returns (1 - optimized/original) * 100 rounded to two
// decimals. It is negative when the output grew.
func CompressionRatio(originalSize, optimizedSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	ratio := (1 - float64(optimizedSize)/float64(originalSize)) * 100
	return math.Round(ratio*100) / 100
}

// FitInside returns the size of a srcW x srcH image scaled to fit within
// maxW x maxH, preserving aspect ratio and never enlarging.
func FitInside(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxW <= 0 || maxH <= 0 {
		return srcW, srcH
	}

	widthFactor := float64(maxW) / float64(srcW)
	heightFactor := float64(maxH) / float64(srcH)
	scaleFactor := math.Min(widthFactor, heightFactor)
	if scaleFactor >= 1.0 {
		return srcW, srcH
	}

	newW := int(math.Round(float64(srcW) * scaleFactor))
	newH := int(math.Round(float64(srcH) * scaleFactor))
	return max(1, min(newW, maxW)), max(1, min(newH, maxH))
}

// OptimizeImage resizes inputPath to fit opts and re-encodes it to outputPath.
// An input already within bounds and in the target format is left alone and
// outputPath is not written.
func (p *Processor) OptimizeImage(ctx context.Context, inputPath, outputPath string, opts OptimizeOptions) (*OptimizationResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "image.optimize")
	defer span.End()
	tracing.AddAttribute(ctx, "output_format", string(opts.Format))

	meta, err := p.GetDimensions(ctx, inputPath)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if meta.Width <= opts.Width && meta.Height <= opts.Height && meta.Format == string(opts.Format) {
		p.logger.Debug().
			Str("path", inputPath).
			Int("width", meta.Width).
			Int("height", meta.Height).
			Str("format", meta.Format).
			Msg("Image already within bounds, skipping")
		return &OptimizationResult{Optimized: false, OriginalSizeBytes: meta.SizeBytes}, nil
	}

	return p.encodeTo(ctx, inputPath, outputPath, meta, opts.Format, opts.Quality, func(img image.Image) image.Image {
		bounds := img.Bounds()
		newW, newH := FitInside(bounds.Dx(), bounds.Dy(), opts.Width, opts.Height)
		if newW == bounds.Dx() && newH == bounds.Dy() {
			return img
		}
		return imaging.Resize(img, newW, newH, imaging.Lanczos)
	})
}

// encodeTo decodes inputPath, applies transform and writes the result in format.
func (p *Processor) encodeTo(
	ctx context.Context,
	inputPath, outputPath string,
	meta Metadata,
	format Format,
	quality int,
	transform func(image.Image) image.Image,
) (*OptimizationResult, error) {
	enc, err := p.codecs.lookup(format)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	img, release, err := p.decode(ctx, inputPath, meta)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer release()

	if err := checkContext(ctx, "resize"); err != nil {
		return nil, err
	}
	out := transform(img)

	if err := checkContext(ctx, "encode"); err != nil {
		return nil, err
	}
	size, err := p.writeAtomic(outputPath, enc, out, quality)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	ratio := CompressionRatio(meta.SizeBytes, size)
	metrics.RecordSizeReduction(ctx, meta.SizeBytes, size)

	p.logger.Info().
		Str("path", inputPath).
		Str("output", outputPath).
		Str("format", string(format)).
		Int("width", out.Bounds().Dx()).
		Int("height", out.Bounds().Dy()).
		Int64("original_size", meta.SizeBytes).
		Int64("optimized_size", size).
		Float64("reduction_percentage", ratio).
		Dur("elapsed", time.Since(start)).
		Msg("Image optimized")

	return &OptimizationResult{
		Optimized:               true,
		OriginalSizeBytes:       meta.SizeBytes,
		OptimizedSizeBytes:      size,
		CompressionRatioPercent: &ratio,
		OutputPath:              outputPath,
		Width:                   out.Bounds().Dx(),
		Height:                  out.Bounds().Dy(),
	}, nil
}
