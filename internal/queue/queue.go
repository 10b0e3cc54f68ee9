// Package queue implements the lease-based job queue on top of core.Store.
//
// Every state transition is a conditional update guarded by a predicate on
// the stored record. A job is claimed by at most one worker at a time; the
// owner proves liveness with heartbeats, and a job whose heartbeat is older
// than the lease timeout can be reclaimed by anyone. Scans are only used to
// find candidates and never decide a transition.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/metrics"
)

// Defaults.
const (
	DefaultLeaseTimeout      = 20 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultScanPageSize      = 100
)

// Queue runs the job state machine on a store.
type Queue struct {
	store             core.Store
	events            core.EventPublisher
	logger            *slog.Logger
	now               func() time.Time
	leaseTimeout      time.Duration
	heartbeatInterval time.Duration
	pageSize          int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock used for timestamps and staleness.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLeaseTimeout sets how old a heartbeat may get before the job is reclaimable.
func WithLeaseTimeout(d time.Duration) Option {
	return func(q *Queue) { q.leaseTimeout = d }
}

// WithHeartbeatInterval sets how often a Lease renews.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(q *Queue) { q.heartbeatInterval = d }
}

// WithScanPageSize bounds the page size of store scans.
func WithScanPageSize(n int) Option {
	return func(q *Queue) { q.pageSize = n }
}

// WithEvents publishes committed transitions to p.
func WithEvents(p core.EventPublisher) Option {
	return func(q *Queue) { q.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue on store.
func New(store core.Store, opts ...Option) *Queue {
	q := &Queue{
		store:             store,
		events:            core.NopPublisher{},
		logger:            slog.Default(),
		now:               time.Now,
		leaseTimeout:      DefaultLeaseTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		pageSize:          DefaultScanPageSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// LeaseTimeout returns the configured lease timeout.
func (q *Queue) LeaseTimeout() time.Duration { return q.leaseTimeout }

// Submit creates job in the queued state. The caller supplies the id.
func (q *Queue) Submit(ctx context.Context, job *core.Job) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	job.Status = core.StatusQueued
	job.WorkerID = ""
	job.HeartbeatAt = nil
	job.StartedAt = nil
	job.FinishedAt = nil
	job.FinishedBy = ""
	job.Error = ""
	job.Attempts = 0
	if job.CreatedAt == nil {
		job.CreatedAt = core.TimePtr(q.now())
	}
	if err := q.store.Put(ctx, job); err != nil {
		return fmt.Errorf("submit job %s: %w", job.ID, err)
	}
	q.publish(core.EventJobSubmitted, job)
	return nil
}

// Get reads a job.
func (q *Queue) Get(ctx context.Context, owner, id string) (*core.Job, error) {
	return q.store.Get(ctx, owner, id)
}

// ListByOwner returns up to limit of owner's jobs, newest first. With
// onlyActive set, only queued and running jobs are returned. The result is a
// read-only projection.
func (q *Queue) ListByOwner(ctx context.Context, owner string, limit int, onlyActive bool) ([]*core.Job, error) {
	if err := core.ValidateKeyToken("owner", owner); err != nil {
		return nil, err
	}
	filter := core.OwnedBy(owner)
	if onlyActive {
		filter = core.All(filter, func(j *core.Job) bool { return core.IsActiveStatus(j.Status) })
	}
	jobs, err := q.scanAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i].CreatedAt, jobs[j].CreatedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Discover returns up to limit claimable jobs. Candidates may already be
// taken by the time they are claimed.
func (q *Queue) Discover(ctx context.Context, limit int) ([]*core.Job, error) {
	var (
		found  []*core.Job
		cursor string
	)
	for {
		page := q.pageSize
		if limit > 0 && limit-len(found) < page {
			page = limit - len(found)
		}
		jobs, next, err := q.store.Scan(ctx, core.Claimable, page, cursor)
		if err != nil {
			return found, fmt.Errorf("discover jobs: %w", err)
		}
		found = append(found, jobs...)
		if next == "" || (limit > 0 && len(found) >= limit) {
			return found, nil
		}
		cursor = next
	}
}

func (q *Queue) scanAll(ctx context.Context, filter core.Condition) ([]*core.Job, error) {
	var (
		all    []*core.Job
		cursor string
	)
	for {
		jobs, next, err := q.store.Scan(ctx, filter, q.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		all = append(all, jobs...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// Claim transitions a claimable job to running for workerID. Exactly one of
// any number of concurrent claimants succeeds; the others get
// core.ErrConditionFailed.
func (q *Queue) Claim(ctx context.Context, owner, id, workerID string) (*core.Job, error) {
	if workerID == "" {
		return nil, errors.New("claim: empty worker id")
	}
	now := core.TimePtr(q.now())
	job, err := q.store.ConditionalUpdate(ctx, owner, id, core.Claimable, func(j *core.Job) {
		j.Status = core.StatusRunning
		j.WorkerID = workerID
		if j.StartedAt == nil {
			j.StartedAt = now
		}
		j.HeartbeatAt = now
		j.Attempts++
	})
	switch {
	case err == nil:
		metrics.Claims.WithLabelValues("won").Inc()
		q.publish(core.EventJobClaimed, job)
		return job, nil
	case errors.Is(err, core.ErrConditionFailed):
		metrics.Claims.WithLabelValues("contended").Inc()
		return nil, err
	case errors.Is(err, core.ErrJobNotFound):
		// Deleted or never existed; not a store failure.
		metrics.Claims.WithLabelValues("missing").Inc()
		return nil, err
	default:
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}
}

// Heartbeat renews workerID's lease on a running job. It returns
// core.ErrConditionFailed when workerID no longer holds the job.
func (q *Queue) Heartbeat(ctx context.Context, owner, id, workerID string) error {
	now := core.TimePtr(q.now())
	_, err := q.store.ConditionalUpdate(ctx, owner, id, core.HeldBy(workerID), func(j *core.Job) {
		j.HeartbeatAt = now
	})
	return err
}

// Complete writes the done state. Terminal states are final, so completing
// a job that already finished returns core.ErrConditionFailed.
func (q *Queue) Complete(ctx context.Context, owner, id, workerID string) (*core.Job, error) {
	return q.finish(ctx, owner, id, workerID, core.StatusDone, "")
}

// Fail writes the error state with message.
func (q *Queue) Fail(ctx context.Context, owner, id, workerID, message string) (*core.Job, error) {
	if message == "" {
		message = "task failed"
	}
	return q.finish(ctx, owner, id, workerID, core.StatusError, message)
}

func (q *Queue) finish(ctx context.Context, owner, id, workerID, status, message string) (*core.Job, error) {
	now := core.TimePtr(q.now())
	job, err := q.store.ConditionalUpdate(ctx, owner, id, core.NotTerminal, func(j *core.Job) {
		j.Status = status
		j.Error = message
		j.FinishedAt = now
		j.FinishedBy = workerID
		j.WorkerID = ""
		j.HeartbeatAt = nil
	})
	if err != nil {
		return nil, err
	}
	metrics.JobsFinished.WithLabelValues(status).Inc()
	if status == core.StatusDone {
		q.publish(core.EventJobDone, job)
	} else {
		q.publish(core.EventJobError, job)
	}
	return job, nil
}

// Release hands a running job held by workerID back to the queue, so that
// it can be claimed again without waiting for the lease to expire.
func (q *Queue) Release(ctx context.Context, owner, id, workerID string) error {
	job, err := q.store.ConditionalUpdate(ctx, owner, id, core.HeldBy(workerID), requeue)
	if err != nil {
		return err
	}
	q.publish(core.EventJobReleased, job)
	return nil
}

// ReclaimStale returns every running job whose heartbeat is missing or older
// than the lease timeout to queued, and reports how many it reclaimed.
// Losing a race against a live heartbeat is the expected outcome for a
// candidate that was renewed after the scan, and is not an error.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.leaseTimeout)
	stale := core.StaleBefore(cutoff)

	reclaimed := 0
	cursor := ""
	for {
		candidates, next, err := q.store.Scan(ctx, stale, q.pageSize, cursor)
		if err != nil {
			return reclaimed, fmt.Errorf("scan stale jobs: %w", err)
		}
		for _, c := range candidates {
			job, err := q.store.ConditionalUpdate(ctx, c.Owner, c.ID, stale, requeue)
			if err != nil {
				if !errors.Is(err, core.ErrConditionFailed) && !errors.Is(err, core.ErrJobNotFound) {
					q.logger.Warn("reclaim failed", "job_id", c.ID, "owner", c.Owner, "error", err)
				}
				continue
			}
			reclaimed++
			metrics.JobsReclaimed.Inc()
			q.logger.Info("reclaimed stale job", "job_id", c.ID, "owner", c.Owner, "worker_id", c.WorkerID)
			q.publish(core.EventJobRequeued, job)
		}
		if next == "" {
			return reclaimed, nil
		}
		cursor = next
	}
}

func requeue(j *core.Job) {
	j.Status = core.StatusQueued
	j.WorkerID = ""
	j.HeartbeatAt = nil
}

func (q *Queue) publish(eventType string, job *core.Job) {
	event := &core.JobEvent{
		Type:     eventType,
		JobID:    job.ID,
		Owner:    job.Owner,
		Status:   job.Status,
		WorkerID: job.WorkerID,
		Time:     q.now().UTC(),
	}
	if eventType == core.EventJobDone || eventType == core.EventJobError {
		event.WorkerID = job.FinishedBy
	}
	if err := q.events.PublishJobEvent(event); err != nil {
		q.logger.Debug("publish event failed", "type", eventType, "job_id", job.ID, "error", err)
	}
}
