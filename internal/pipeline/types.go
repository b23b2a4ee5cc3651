package pipeline

import (
	"encoding/json"
	"path/filepath"

	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
)

// File is an uploaded source handed over by the upload layer. The pipeline
// deletes Path once every step for it has succeeded.
type File struct {
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// Name returns the name used to report the file.
func (f File) Name() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return filepath.Base(f.Path)
}

// Options selects what ProcessSingleImage produces.
type Options struct {
	// GenerateSizes runs the full preset family; otherwise a single
	// optimized encode is written under the "optimized" key.
	GenerateSizes bool
	Format        imageprocessor.Format
	Quality       int
}

// OptimizedKey is the DerivativeSet key used when GenerateSizes is false.
const OptimizedKey = "optimized"

// NewOptions validates caller supplied options.
func NewOptions(generateSizes bool, format string, quality int) (Options, error) {
	f, err := imageprocessor.ParseFormat(format)
	if err != nil {
		return Options{}, err
	}
	if f == imageprocessor.FormatAVIF {
		return Options{}, &imageprocessor.UnsupportedFormatError{Format: format}
	}
	if quality <= 0 || quality > 100 {
		return Options{}, &imageprocessor.ValidationError{Field: "quality", Reason: "must be in (0, 100]"}
	}
	return Options{GenerateSizes: generateSizes, Format: f, Quality: quality}, nil
}

// DefaultOptions generates every preset; Format and Quality apply only when
// GenerateSizes is switched off.
func DefaultOptions() Options {
	return Options{GenerateSizes: true, Format: imageprocessor.FormatWebP, Quality: 85}
}

// Original describes the consumed source.
type Original struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Result is the aggregate produced for one source image.
type Result struct {
	Original        Original                        `json:"original"`
	Sizes           imageprocessor.DerivativeSet    `json:"sizes"`
	Metadata        imageprocessor.Metadata         `json:"metadata"`
	BlurPlaceholder *imageprocessor.BlurPlaceholder `json:"blurPlaceholder"`
	DominantColor   imageprocessor.Color            `json:"dominantColor"`
}

// OutputPaths lists every file the result refers to in the output directory.
func (r *Result) OutputPaths() []string {
	paths := r.Sizes.OutputPaths()
	if r.BlurPlaceholder != nil {
		paths = append(paths, r.BlurPlaceholder.OutputPath)
	}
	return paths
}

// BatchItem is one slot of a batch: a Result, or the error and file name of
// a source that failed as a whole.
type BatchItem struct {
	Result *Result
	Error  string
	File   string
}

// Failed reports whether the whole file failed.
func (b BatchItem) Failed() bool { return b.Error != "" }

func (b BatchItem) MarshalJSON() ([]byte, error) {
	if b.Failed() {
		return json.Marshal(struct {
			Error string `json:"error"`
			File  string `json:"file"`
		}{b.Error, b.File})
	}
	return json.Marshal(b.Result)
}
