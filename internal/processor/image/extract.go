package image

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/not-nullexception/image-derivatives/internal/tracing"
)

const (
	// DefaultConvertQuality is used by ConvertFormat when quality is 0.
	DefaultConvertQuality = 85

	placeholderBox     = 20
	placeholderSigma   = 2.0
	placeholderQuality = 20
	placeholderFormat  = FormatWebP
)

// ConvertFormat re-encodes inputPath to format without resizing. A quality of
// 0 selects DefaultConvertQuality. Unlike OptimizeImage it always writes and
// also accepts AVIF.
func (p *Processor) ConvertFormat(ctx context.Context, inputPath, outputPath string, format Format, quality int) (*OptimizationResult, error) {
	if quality == 0 {
		quality = DefaultConvertQuality
	}
	if quality < 0 || quality > 100 {
		return nil, &ValidationError{Field: "quality", Reason: "must be in (0, 100]"}
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "image.convert")
	defer span.End()

	meta, err := p.GetDimensions(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return p.encodeTo(ctx, inputPath, outputPath, meta, format, quality, func(img image.Image) image.Image {
		return img
	})
}

// BlurPlaceholder is a tiny blurred preview used while a derivative loads.
type BlurPlaceholder struct {
	OutputPath string `json:"outputPath"`
	Format     Format `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// PlaceholderPath names the blur placeholder for inputPath in outputDir.
func PlaceholderPath(outputDir, inputPath string) string {
	return DerivativePath(outputDir, inputPath, "placeholder", placeholderFormat)
}

// GenerateBlurPlaceholder fits inputPath into 20x20 (never enlarging), blurs
// it and writes a low quality WebP. The output depends only on the source bytes.
func (p *Processor) GenerateBlurPlaceholder(ctx context.Context, inputPath, outputPath string) (*BlurPlaceholder, error) {
	ctx, span := tracing.StartSpan(ctx, "image.blur")
	defer span.End()

	meta, err := p.GetDimensions(ctx, inputPath)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	res, err := p.encodeTo(ctx, inputPath, outputPath, meta, placeholderFormat, placeholderQuality, func(img image.Image) image.Image {
		b := img.Bounds()
		w, h := FitInside(b.Dx(), b.Dy(), placeholderBox, placeholderBox)
		small := imaging.Resize(img, w, h, imaging.Lanczos)
		return imaging.Blur(small, placeholderSigma)
	})
	if err != nil {
		return nil, err
	}

	return &BlurPlaceholder{
		OutputPath: res.OutputPath,
		Format:     placeholderFormat,
		Width:      res.Width,
		Height:     res.Height,
		SizeBytes:  res.OptimizedSizeBytes,
	}, nil
}

// Color is an 8-bit RGB triple.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// GetDominantColor reduces the image to a single pixel with an area-averaging
// box filter and returns that pixel. This is the mean color, an approximation;
// it is not a clustering palette and can return a color absent from the image.
func (p *Processor) GetDominantColor(ctx context.Context, inputPath string) (Color, error) {
	ctx, span := tracing.StartSpan(ctx, "image.dominant_color")
	defer span.End()

	meta, err := p.GetDimensions(ctx, inputPath)
	if err != nil {
		tracing.RecordError(ctx, err)
		return Color{}, err
	}

	img, release, err := p.decode(ctx, inputPath, meta)
	if err != nil {
		tracing.RecordError(ctx, err)
		return Color{}, err
	}
	defer release()

	px := imaging.Resize(img, 1, 1, imaging.Box)
	c := px.NRGBAAt(0, 0)
	return Color{R: int(c.R), G: int(c.G), B: int(c.B)}, nil
}
