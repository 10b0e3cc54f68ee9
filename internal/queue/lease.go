package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/metrics"
)

// ErrLeaseLost is the cancellation cause of a task whose lease is gone.
var ErrLeaseLost = errors.New("lease lost")

// Lease renews a worker's claim on one job for as long as the task runs.
type Lease struct {
	q        *Queue
	owner    string
	id       string
	workerID string

	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Hold starts renewing workerID's lease on a claimed job. The returned
// context is cancelled with ErrLeaseLost when the job is taken away, or
// when no renewal has succeeded for a whole lease timeout. Callers must
// call Stop on every path, typically with defer.
func (q *Queue) Hold(parent context.Context, job *core.Job, workerID string) (*Lease, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	l := &Lease{
		q:        q,
		owner:    job.Owner,
		id:       job.ID,
		workerID: workerID,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run(ctx)
	return l, ctx
}

func (l *Lease) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.q.heartbeatInterval)
	defer ticker.Stop()

	lastRenewed := l.q.now()
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A renewal may not outlive the lease it is renewing.
		remaining := l.q.leaseTimeout - l.q.now().Sub(lastRenewed)
		hbCtx, cancel := context.WithTimeout(ctx, remaining)
		err := l.q.Heartbeat(hbCtx, l.owner, l.id, l.workerID)
		cancel()
		switch {
		case err == nil:
			metrics.Heartbeats.WithLabelValues("ok").Inc()
			lastRenewed = l.q.now()
		case errors.Is(err, core.ErrConditionFailed), errors.Is(err, core.ErrJobNotFound):
			metrics.Heartbeats.WithLabelValues("lost").Inc()
			l.lose(ErrLeaseLost)
			return
		case ctx.Err() != nil:
			return
		default:
			metrics.Heartbeats.WithLabelValues("error").Inc()
			l.q.logger.Warn("heartbeat failed", "job_id", l.id, "owner", l.owner, "worker_id", l.workerID, "error", err)
			if errors.Is(err, context.DeadlineExceeded) || l.q.now().Sub(lastRenewed) >= l.q.leaseTimeout {
				l.lose(fmt.Errorf("%w: no renewal for %s: %v", ErrLeaseLost, l.q.leaseTimeout, err))
				return
			}
		}
	}
}

func (l *Lease) lose(err error) {
	metrics.LeasesLost.Inc()
	l.q.logger.Warn("lease lost, abandoning task", "job_id", l.id, "owner", l.owner, "worker_id", l.workerID, "error", err)
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.cancel(err)
}

// Err returns a non-nil error wrapping ErrLeaseLost once the lease is gone.
func (l *Lease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stop ends renewal and waits for the renewal goroutine to exit. It is safe
// to call more than once.
func (l *Lease) Stop() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.cancel(nil)
	})
}
