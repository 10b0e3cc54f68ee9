package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

func newLeaseQueue(t *testing.T, store core.Store, timeout time.Duration) *Queue {
	t.Helper()
	return New(store, WithLeaseTimeout(timeout), WithHeartbeatInterval(5*time.Millisecond))
}

func claimFor(t *testing.T, q *Queue, id, worker string) *core.Job {
	t.Helper()
	submit(t, q, "alice", id)
	job, err := q.Claim(context.Background(), "alice", id, worker)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	return job
}

func TestLeaseRenewsHeartbeat(t *testing.T) {
	q := newLeaseQueue(t, kv.NewJobStore(kv.NewMemoryBucket()), time.Minute)
	job := claimFor(t, q, "j1", "A")
	first := *job.HeartbeatAt

	lease, ctx := q.Hold(context.Background(), job, "A")
	defer lease.Stop()

	deadline := time.After(2 * time.Second)
	for {
		got := mustGet(t, q, "alice", "j1")
		if got.HeartbeatAt.After(first) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat was never renewed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if ctx.Err() != nil {
		t.Fatalf("task context cancelled while lease held: %v", context.Cause(ctx))
	}
}

func TestLeaseCancelsTaskWhenJobIsTakenAway(t *testing.T) {
	q := newLeaseQueue(t, kv.NewJobStore(kv.NewMemoryBucket()), time.Minute)
	job := claimFor(t, q, "j1", "A")

	lease, ctx := q.Hold(context.Background(), job, "A")
	defer lease.Stop()

	if err := q.Release(context.Background(), "alice", "j1", "A"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := q.Claim(context.Background(), "alice", "j1", "B"); err != nil {
		t.Fatalf("Claim(B) error = %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled after losing the lease")
	}
	if !errors.Is(context.Cause(ctx), ErrLeaseLost) {
		t.Fatalf("context.Cause() = %v, want ErrLeaseLost", context.Cause(ctx))
	}
	if !errors.Is(lease.Err(), ErrLeaseLost) {
		t.Fatalf("lease.Err() = %v, want ErrLeaseLost", lease.Err())
	}
}

func TestLeaseGivesUpWhenStoreUnavailable(t *testing.T) {
	hs := &hookStore{Store: kv.NewJobStore(kv.NewMemoryBucket())}
	q := newLeaseQueue(t, hs, 50*time.Millisecond)
	job := claimFor(t, q, "j1", "A")

	lease, ctx := q.Hold(context.Background(), job, "A")
	defer lease.Stop()
	hs.failWrites.Store(true)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled while the store was unreachable")
	}
	if !errors.Is(context.Cause(ctx), ErrLeaseLost) {
		t.Fatalf("context.Cause() = %v, want ErrLeaseLost", context.Cause(ctx))
	}
}

// hangingStore blocks every conditional write until its context is done,
// like a store call stuck in a network partition.
type hangingStore struct {
	core.Store
	hang atomic.Bool
}

func (h *hangingStore) ConditionalUpdate(ctx context.Context, owner, id string, cond core.Condition, apply func(*core.Job)) (*core.Job, error) {
	if h.hang.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.Store.ConditionalUpdate(ctx, owner, id, cond, apply)
}

func TestLeaseExpiresWhileHeartbeatHangs(t *testing.T) {
	hs := &hangingStore{Store: kv.NewJobStore(kv.NewMemoryBucket())}
	q := newLeaseQueue(t, hs, 50*time.Millisecond)
	job := claimFor(t, q, "j1", "A")

	lease, ctx := q.Hold(context.Background(), job, "A")
	defer lease.Stop()
	hs.hang.Store(true)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("task context still live long after the lease expired with a hung heartbeat")
	}
	if !errors.Is(context.Cause(ctx), ErrLeaseLost) {
		t.Fatalf("context.Cause() = %v, want ErrLeaseLost", context.Cause(ctx))
	}
}

func TestLeaseStopIsIdempotent(t *testing.T) {
	q := newLeaseQueue(t, kv.NewJobStore(kv.NewMemoryBucket()), time.Minute)
	job := claimFor(t, q, "j1", "A")

	lease, ctx := q.Hold(context.Background(), job, "A")
	lease.Stop()
	lease.Stop()

	if ctx.Err() == nil {
		t.Fatal("task context still live after Stop")
	}
	if lease.Err() != nil {
		t.Fatalf("lease.Err() = %v after clean stop, want nil", lease.Err())
	}

	// No renewal after Stop.
	before := mustGet(t, q, "alice", "j1").HeartbeatAt
	time.Sleep(30 * time.Millisecond)
	after := mustGet(t, q, "alice", "j1").HeartbeatAt
	if !before.Equal(*after) {
		t.Fatalf("heartbeat renewed after Stop: %v -> %v", before, after)
	}
}

func TestLeaseStopsWithParentContext(t *testing.T) {
	q := newLeaseQueue(t, kv.NewJobStore(kv.NewMemoryBucket()), time.Minute)
	job := claimFor(t, q, "j1", "A")

	parent, cancel := context.WithCancel(context.Background())
	lease, ctx := q.Hold(parent, job, "A")
	cancel()

	done := make(chan struct{})
	go func() {
		lease.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked after parent cancellation")
	}
	if ctx.Err() == nil {
		t.Fatal("task context live after parent cancellation")
	}
	if lease.Err() != nil {
		t.Fatalf("lease.Err() = %v, want nil for parent cancellation", lease.Err())
	}
}
