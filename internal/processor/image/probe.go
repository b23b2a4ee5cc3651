package image

import (
	"context"
	"image"
	"os"

	// Header decoders for the formats accepted at the upload boundary.
	// AVIF is registered by github.com/gen2brain/avif.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Metadata is a header-only snapshot of a source image.
type Metadata struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"sizeBytes"`
}

// GetDimensions reads width, height and container format from the image
// header without decoding pixel data. It is recomputed on every call.
func (p *Processor) GetDimensions(ctx context.Context, path string) (Metadata, error) {
	if err := checkContext(ctx, "probe"); err != nil {
		return Metadata{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, &IOError{Op: "opening", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, &IOError{Op: "stat", Path: path, Err: err}
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Metadata{}, &DecodeError{Path: path, Err: err}
	}

	return Metadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		SizeBytes: info.Size(),
	}, nil
}

// Inspect probes path and rejects declared dimensions beyond the processor's
// limits before any decode is attempted.
func (p *Processor) Inspect(ctx context.Context, path string) (Metadata, error) {
	meta, err := p.GetDimensions(ctx, path)
	if err != nil {
		return Metadata{}, err
	}
	if err := p.limits.Check(meta.Width, meta.Height); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
