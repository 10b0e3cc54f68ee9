package core

import (
	"context"
	"io"
	"time"
)

// Store is the job record store the queue runs on.
//
// Correctness-critical transitions go through ConditionalUpdate only. Scan is
// eventually consistent and must be treated as advisory.
type Store interface {
	// Get returns ErrJobNotFound when the record is absent.
	Get(ctx context.Context, owner, id string) (*Job, error)

	// Put writes job unconditionally. It is used for creation only.
	Put(ctx context.Context, job *Job) error

	// ConditionalUpdate applies apply to the stored record if cond holds on
	// it at write time, and returns the record as written. It returns
	// ErrConditionFailed when cond does not hold and ErrJobNotFound when the
	// record is absent.
	ConditionalUpdate(ctx context.Context, owner, id string, cond Condition, apply func(*Job)) (*Job, error)

	// Scan returns up to limit records matching filter, starting after
	// cursor. The returned cursor is empty when the scan is exhausted.
	Scan(ctx context.Context, filter Condition, limit int, cursor string) ([]*Job, string, error)
}

// Event types published on job transitions.
const (
	EventJobSubmitted = "job.submitted"
	EventJobClaimed   = "job.claimed"
	EventJobRequeued  = "job.requeued"
	EventJobReleased  = "job.released"
	EventJobDone      = "job.done"
	EventJobError     = "job.error"
)

// JobEvent describes one committed transition.
type JobEvent struct {
	Type     string    `json:"type"`
	JobID    string    `json:"job_id"`
	Owner    string    `json:"owner"`
	Status   string    `json:"status"`
	WorkerID string    `json:"worker_id,omitempty"`
	Time     time.Time `json:"time"`
}

// EventPublisher receives job events. Publishing is best effort.
type EventPublisher interface {
	PublishJobEvent(event *JobEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(*JobEvent) error { return nil }

// BlobStore holds binary objects (original and transcoded media).
type BlobStore interface {
	// Put stores the contents of r under key, replacing any existing object,
	// and returns the number of bytes written.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	// Get copies the object stored under key into w. It returns
	// ErrBlobNotFound when no such object exists.
	Get(ctx context.Context, key string, w io.Writer) error
	// Delete removes the object stored under key. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, key string) error
}
