package kv_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

func newJobStore(t *testing.T) *kv.JobStore {
	t.Helper()
	return kv.NewJobStore(kv.NewMemoryBucket())
}

func putJob(t *testing.T, s *kv.JobStore, owner, id, status string) {
	t.Helper()
	job := &core.Job{ID: id, Owner: owner, Status: status, CreatedAt: core.TimePtr(time.Now())}
	if err := s.Put(context.Background(), job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func TestJobStoreGetNotFound(t *testing.T) {
	s := newJobStore(t)
	if _, err := s.Get(context.Background(), "alice", "nope"); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestJobStoreRejectsInvalidKeys(t *testing.T) {
	s := newJobStore(t)
	err := s.Put(context.Background(), &core.Job{ID: "a.b", Owner: "alice", Status: core.StatusQueued})
	if !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("Put() error = %v, want ErrInvalidKey", err)
	}
	if _, err := s.Get(context.Background(), "al ice", "x"); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("Get() error = %v, want ErrInvalidKey", err)
	}
}

func TestConditionalUpdateAppliesWhenConditionHolds(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusQueued)

	got, err := s.ConditionalUpdate(context.Background(), "alice", "j1", core.Claimable, func(j *core.Job) {
		j.Status = core.StatusRunning
		j.WorkerID = "w1"
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate() error = %v", err)
	}
	if got.Status != core.StatusRunning || got.WorkerID != "w1" {
		t.Fatalf("ConditionalUpdate() = %+v, want running by w1", got)
	}

	stored, err := s.Get(context.Background(), "alice", "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.WorkerID != "w1" {
		t.Fatalf("stored WorkerID = %q, want w1", stored.WorkerID)
	}
}

func TestConditionalUpdateConditionFailed(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusDone)

	called := false
	_, err := s.ConditionalUpdate(context.Background(), "alice", "j1", core.NotTerminal, func(j *core.Job) {
		called = true
	})
	if !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("ConditionalUpdate() error = %v, want ErrConditionFailed", err)
	}
	if called {
		t.Fatal("apply was called although the condition failed")
	}
}

func TestConditionalUpdateMissing(t *testing.T) {
	s := newJobStore(t)
	_, err := s.ConditionalUpdate(context.Background(), "alice", "j1", core.NotTerminal, func(*core.Job) {})
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("ConditionalUpdate() error = %v, want ErrJobNotFound", err)
	}
}

func TestConditionalUpdateKeepsIdentity(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusQueued)

	got, err := s.ConditionalUpdate(context.Background(), "alice", "j1", core.NotTerminal, func(j *core.Job) {
		j.Owner = "mallory"
		j.ID = "other"
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate() error = %v", err)
	}
	if got.Owner != "alice" || got.ID != "j1" {
		t.Fatalf("identity = (%s, %s), want (alice, j1)", got.Owner, got.ID)
	}
}

func TestConditionalUpdateClearsOmittedFields(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusQueued)
	ctx := context.Background()

	if _, err := s.ConditionalUpdate(ctx, "alice", "j1", core.Claimable, func(j *core.Job) {
		j.Status = core.StatusRunning
		j.WorkerID = "w1"
		j.HeartbeatAt = core.TimePtr(time.Now())
	}); err != nil {
		t.Fatalf("claim error = %v", err)
	}
	if _, err := s.ConditionalUpdate(ctx, "alice", "j1", core.HeldBy("w1"), func(j *core.Job) {
		j.Status = core.StatusQueued
		j.WorkerID = ""
		j.HeartbeatAt = nil
	}); err != nil {
		t.Fatalf("requeue error = %v", err)
	}

	stored, err := s.Get(ctx, "alice", "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.WorkerID != "" || stored.HeartbeatAt != nil {
		t.Fatalf("stored = %+v, want worker and heartbeat cleared", stored)
	}
}

func TestConditionalUpdateConcurrentClaimsOneWinner(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusQueued)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < workers; i++ {
		w := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConditionalUpdate(context.Background(), "alice", "j1", core.Claimable, func(j *core.Job) {
				j.Status = core.StatusRunning
				j.WorkerID = w
			})
			if err == nil {
				mu.Lock()
				winners = append(winners, w)
				mu.Unlock()
			} else if !errors.Is(err, core.ErrConditionFailed) {
				t.Errorf("ConditionalUpdate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	stored, _ := s.Get(context.Background(), "alice", "j1")
	if stored.WorkerID != winners[0] {
		t.Fatalf("stored WorkerID = %q, want %q", stored.WorkerID, winners[0])
	}
}

func TestScanPaginates(t *testing.T) {
	s := newJobStore(t)
	for _, id := range []string{"j1", "j2", "j3", "j4", "j5"} {
		putJob(t, s, "alice", id, core.StatusQueued)
	}
	putJob(t, s, "bob", "j6", core.StatusDone)

	ctx := context.Background()
	var (
		seen   []string
		cursor string
		pages  int
	)
	for {
		page, next, err := s.Scan(ctx, core.HasStatus(core.StatusQueued), 2, cursor)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		pages++
		for _, j := range page {
			seen = append(seen, j.ID)
		}
		if next == "" {
			break
		}
		cursor = next
		if pages > 10 {
			t.Fatal("Scan() did not terminate")
		}
	}

	want := []string{"j1", "j2", "j3", "j4", "j5"}
	if len(seen) != len(want) {
		t.Fatalf("Scan() ids = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Scan() ids = %v, want %v", seen, want)
		}
	}
}

func TestScanNoLimit(t *testing.T) {
	s := newJobStore(t)
	putJob(t, s, "alice", "j1", core.StatusQueued)
	putJob(t, s, "alice", "j2", core.StatusRunning)

	jobs, next, err := s.Scan(context.Background(), nil, 0, "")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(jobs) != 2 || next != "" {
		t.Fatalf("Scan() = %d jobs, cursor %q; want 2 jobs, empty cursor", len(jobs), next)
	}
}

// countingBucket counts record reads.
type countingBucket struct {
	kv.Bucket
	gets atomic.Int64
}

func (b *countingBucket) Get(ctx context.Context, key string) (*kv.Entry, error) {
	b.gets.Add(1)
	return b.Bucket.Get(ctx, key)
}

func TestScanReadsEachRecordOnce(t *testing.T) {
	bucket := &countingBucket{Bucket: kv.NewMemoryBucket()}
	s := kv.NewJobStore(bucket)
	for _, id := range []string{"j1", "j2", "j3", "j4", "j5", "j6", "j7"} {
		putJob(t, s, "alice", id, core.StatusQueued)
	}
	bucket.gets.Store(0)

	ctx := context.Background()
	var cursor string
	for pages := 0; ; pages++ {
		_, next, err := s.Scan(ctx, nil, 2, cursor)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if next == "" {
			break
		}
		cursor = next
		if pages > 10 {
			t.Fatal("Scan() did not terminate")
		}
	}
	if got := bucket.gets.Load(); got != 7 {
		t.Fatalf("record reads = %d, want 7", got)
	}
}

func TestScanResumesAfterDeletedCursor(t *testing.T) {
	bucket := kv.NewMemoryBucket()
	s := kv.NewJobStore(bucket)
	for _, id := range []string{"j1", "j2", "j3", "j4"} {
		putJob(t, s, "alice", id, core.StatusQueued)
	}
	ctx := context.Background()

	page, next, err := s.Scan(ctx, nil, 2, "")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(page) != 2 || page[1].ID != "j2" {
		t.Fatalf("first page = %d jobs, want j1 and j2", len(page))
	}
	if err := bucket.Delete(ctx, next); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	page, next, err = s.Scan(ctx, nil, 2, next)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "j3" || page[1].ID != "j4" || next != "" {
		t.Fatalf("second page = %v cursor %q, want j3 j4 and empty cursor", page, next)
	}
}
