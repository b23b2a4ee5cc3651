package rabbitmq

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	TaskTypeProcessBatch = "process_batch"
)

// ErrMalformedTask marks a task that can never succeed; it is dropped instead
// of requeued.
var ErrMalformedTask = errors.New("malformed task")

// TaskItem is one stored original the worker should derive.
type TaskItem struct {
	ImageID      uuid.UUID `json:"image_id"`
	ObjectName   string    `json:"object_name"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
}

// TaskOptions mirrors the pipeline options in wire form.
type TaskOptions struct {
	GenerateSizes bool   `json:"generate_sizes"`
	Format        string `json:"format"`
	Quality       int    `json:"quality"`
}

type Task struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Items   []TaskItem  `json:"items"`
	Options TaskOptions `json:"options"`
}

// ProcessFunc is a function that processes a task
type ProcessFunc func(ctx context.Context, task Task) error

// Client defines the interface for RabbitMQ operations
type Client interface {
	Publish(ctx context.Context, task Task) error
	Consume(ctx context.Context, processFunc ProcessFunc) error

	// Close closes the RabbitMQ connection
	Close() error
}
