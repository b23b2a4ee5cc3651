package image

import (
	"context"
	"errors"
	"fmt"
)

// DecodeError reports a source that could not be parsed as an image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a requested output format with no encoder.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format: %s", e.Format)
}

// IOError reports a filesystem failure while reading, writing or removing a file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("error %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ResourceLimitError reports an input or a unit of work that exceeded the
// configured safety bounds (pixel count, dimension, processing time).
type ResourceLimitError struct {
	Reason string
	Err    error
}

func (e *ResourceLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource limit exceeded: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("resource limit exceeded: %s", e.Reason)
}

func (e *ResourceLimitError) Unwrap() error { return e.Err }

// ValidationError reports an option or preset rejected at construction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// checkContext converts a finished context into a ResourceLimitError so a
// timed out unit surfaces as a limit violation rather than a bare context error.
func checkContext(ctx context.Context, stage string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ResourceLimitError{Reason: "processing timeout during " + stage, Err: err}
	}
	return err
}
