package image

import (
	"context"
	"fmt"

	"github.com/not-nullexception/image-derivatives/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Limits bounds what a single source may cost.
type Limits struct {
	MaxPixels    int64
	MaxDimension int
}

// DefaultLimits allows up to 50 megapixels and 16384px on either side.
func DefaultLimits() Limits {
	return Limits{MaxPixels: 50_000_000, MaxDimension: 16384}
}

// Check rejects declared dimensions before anything is decoded.
func (l Limits) Check(width, height int) error {
	if width <= 0 || height <= 0 {
		return &ResourceLimitError{Reason: fmt.Sprintf("invalid declared dimensions %dx%d", width, height)}
	}
	if l.MaxDimension > 0 && (width > l.MaxDimension || height > l.MaxDimension) {
		return &ResourceLimitError{Reason: fmt.Sprintf("dimensions %dx%d exceed %dpx", width, height, l.MaxDimension)}
	}
	if l.MaxPixels > 0 && int64(width)*int64(height) > l.MaxPixels {
		return &ResourceLimitError{Reason: fmt.Sprintf("%dx%d exceeds %d pixels", width, height, l.MaxPixels)}
	}
	return nil
}

// Limiter caps the number of full decodes in flight.
type Limiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewLimiter returns a limiter allowing n concurrent decodes (minimum 1).
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), max: int64(n)}
}

// Acquire blocks until a decode slot is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		if cerr := checkContext(ctx, "waiting for decode slot"); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	metrics.DecodesInFlight.Inc()
	return func() {
		metrics.DecodesInFlight.Dec()
		l.sem.Release(1)
	}, nil
}

// Size returns the configured number of slots.
func (l *Limiter) Size() int { return int(l.max) }
