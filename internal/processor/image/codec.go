package image

import (
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/jpegli"
)

// Format is an output encoding.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatAVIF Format = "avif"
)

// ParseFormat normalizes a format name ("jpg", "image/webp", "PNG" ...).
// Unknown names yield an UnsupportedFormatError.
func ParseFormat(name string) (Format, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "image/")
	n = strings.TrimPrefix(n, ".")
	switch n {
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return "", &UnsupportedFormatError{Format: name}
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Encoder writes an image in one output format.
type Encoder interface {
	Format() Format
	// Encode writes img at the given quality (1-100).
	Encode(w io.Writer, img image.Image, quality int) error
}

// Codecs maps output formats to their encoders.
type Codecs map[Format]Encoder

// DefaultCodecs returns the encoders for every supported output format.
func DefaultCodecs() Codecs {
	return Codecs{
		FormatWebP: webpEncoder{},
		FormatJPEG: jpegEncoder{},
		FormatPNG:  pngEncoder{},
		FormatAVIF: avifEncoder{},
	}
}

// With returns a copy of the registry with enc registered for its format.
func (c Codecs) With(enc Encoder) Codecs {
	out := make(Codecs, len(c)+1)
	for f, e := range c {
		out[f] = e
	}
	out[enc.Format()] = enc
	return out
}

func (c Codecs) lookup(f Format) (Encoder, error) {
	enc, ok := c[f]
	if !ok {
		return nil, &UnsupportedFormatError{Format: string(f)}
	}
	return enc, nil
}

type webpEncoder struct{}

func (webpEncoder) Format() Format { return FormatWebP }

func (webpEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
}

type jpegEncoder struct{}

func (jpegEncoder) Format() Format { return FormatJPEG }

func (jpegEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return jpegli.Encode(w, img, &jpegli.EncodingOptions{Quality: quality})
}

// pngEncoder ignores quality; PNG is lossless and always written at best compression.
type pngEncoder struct{}

func (pngEncoder) Format() Format { return FormatPNG }

func (pngEncoder) Encode(w io.Writer, img image.Image, _ int) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
}

type avifEncoder struct{}

func (avifEncoder) Format() Format { return FormatAVIF }

func (avifEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return avif.Encode(w, img, avif.Options{
		Quality:           quality,
		QualityAlpha:      quality,
		Speed:             8,
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	})
}
