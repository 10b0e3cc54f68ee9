// Package worker implements the polling loop that discovers, claims and
// executes jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/metrics"
	"github.com/h3nryswan/video-transcoder-2/internal/queue"
)

// Defaults.
const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultBatchSize    = 3

	releaseTimeout = 5 * time.Second
)

// Executor runs the task body of a claimed job. It must return promptly
// once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, job *core.Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *core.Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *core.Job) error { return f(ctx, job) }

// Worker polls the queue and executes one job at a time.
type Worker struct {
	q      *queue.Queue
	exec   Executor
	id     string
	poll   time.Duration
	batch  int
	logger *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithID sets the worker identity recorded on claimed jobs.
func WithID(id string) Option { return func(w *Worker) { w.id = id } }

// WithPollInterval sets the pause after each batch.
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.poll = d } }

// WithBatchSize sets how many candidates are discovered per poll.
func WithBatchSize(n int) Option { return func(w *Worker) { w.batch = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// New creates a worker.
func New(q *queue.Queue, exec Executor, opts ...Option) *Worker {
	w := &Worker{
		q:      q,
		exec:   exec,
		id:     DefaultID(),
		poll:   DefaultPollInterval,
		batch:  DefaultBatchSize,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker_id", w.id)
	return w
}

// DefaultID returns "<hostname>-<pid>".
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// ID returns the worker identity.
func (w *Worker) ID() string { return w.id }

// Run polls until ctx is cancelled. A job that fails, including by
// panicking, never stops the loop. A task interrupted by cancellation is
// released back to the queue.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.poll, "batch_size", w.batch)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-timer.C:
		}

		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("poll failed", "error", err)
		}
		timer.Reset(w.poll)
	}
}

// RunOnce discovers one batch of candidates and works through it in order.
// It returns how many jobs this worker claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	candidates, err := w.q.Discover(ctx, w.batch)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		job, err := w.q.Claim(ctx, c.Owner, c.ID, w.id)
		if err != nil {
			if errors.Is(err, core.ErrConditionFailed) || errors.Is(err, core.ErrJobNotFound) {
				w.logger.Debug("claim contended", "job_id", c.ID, "owner", c.Owner)
			} else {
				w.logger.Warn("claim failed", "job_id", c.ID, "owner", c.Owner, "error", err)
			}
			continue
		}
		claimed++
		w.process(ctx, job)
	}
	return claimed, nil
}

func (w *Worker) process(ctx context.Context, job *core.Job) {
	log := w.logger.With("job_id", job.ID, "owner", job.Owner)
	log.Info("job claimed", "attempt", job.Attempts)

	lease, taskCtx := w.q.Hold(ctx, job, w.id)
	defer lease.Stop()

	start := time.Now()
	taskErr := w.execute(taskCtx, job)
	lease.Stop()
	elapsed := time.Since(start)

	if err := lease.Err(); err != nil {
		metrics.TaskDuration.WithLabelValues("lost").Observe(elapsed.Seconds())
		log.Warn("task abandoned", "error", err, "duration", elapsed)
		return
	}

	if taskErr != nil && ctx.Err() != nil {
		metrics.TaskDuration.WithLabelValues("released").Observe(elapsed.Seconds())
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := w.q.Release(rctx, job.Owner, job.ID, w.id); err != nil {
			log.Warn("release on shutdown failed", "error", err)
			return
		}
		log.Info("job released on shutdown")
		return
	}

	// The terminal write must land even if shutdown began after the task
	// finished.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var err error
	if taskErr != nil {
		metrics.TaskDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		_, err = w.q.Fail(wctx, job.Owner, job.ID, w.id, taskErr.Error())
		log.Warn("job failed", "error", taskErr, "duration", elapsed)
	} else {
		metrics.TaskDuration.WithLabelValues("done").Observe(elapsed.Seconds())
		_, err = w.q.Complete(wctx, job.Owner, job.ID, w.id)
		log.Info("job done", "duration", elapsed)
	}
	switch {
	case err == nil:
	case errors.Is(err, core.ErrConditionFailed):
		log.Debug("job already finished elsewhere")
	default:
		log.Error("terminal write failed", "error", err)
	}
}

func (w *Worker) execute(ctx context.Context, job *core.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("executor panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return w.exec.Execute(ctx, job.Clone())
}
