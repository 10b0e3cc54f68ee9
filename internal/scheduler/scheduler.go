// Package scheduler runs the stale-lease reclaimer on a cron schedule,
// independently of any worker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the reclaim sweep interval.
const DefaultSchedule = "@every 5s"

// Reclaimer returns abandoned jobs to the queue.
type Reclaimer interface {
	ReclaimStale(ctx context.Context) (int, error)
}

// Scheduler runs reclaim sweeps. A sweep that is still running when the next
// one is due causes that one to be skipped.
type Scheduler struct {
	reclaimer Reclaimer
	logger    *slog.Logger
	cron      *cron.Cron

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler for spec, a standard cron expression or a
// descriptor such as "@every 5s".
func New(r Reclaimer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse reclaim schedule %q: %w", spec, err)
	}

	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		reclaimer: r,
		logger:    logger,
		cron:      c,
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule reclaim: %w", err)
	}
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.logger.Info("reclaimer started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to return. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
	})
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	return s.reclaimer.ReclaimStale(ctx)
}

func (s *Scheduler) sweep() {
	select {
	case <-s.stop:
		return
	default:
	}

	start := time.Now()
	n, err := s.RunOnce(s.ctx)
	if err != nil {
		s.logger.Warn("reclaim sweep failed", "error", err, "reclaimed", n)
		return
	}
	if n > 0 {
		s.logger.Info("reclaim sweep", "reclaimed", n, "duration", time.Since(start))
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
