package nats

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/kv"
	"github.com/h3nryswan/video-transcoder-2/internal/kv/kvtest"
)

func TestBucketConformance(t *testing.T) {
	backend := newIntegrationBackend(t)
	prefix := "it-" + core.NewUUIDv7() + "."
	kvtest.RunBucketTests(t, backend.Jobs, prefix)
}

func TestJobStoreOverJetStream(t *testing.T) {
	backend := newIntegrationBackend(t)
	ctx := context.Background()
	store := kv.NewJobStore(backend.Jobs)

	id := core.NewUUIDv7()
	job := &core.Job{ID: id, Owner: "it-owner", Status: core.StatusQueued, CreatedAt: core.TimePtr(time.Now())}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	claimed, err := store.ConditionalUpdate(ctx, "it-owner", id, core.Claimable, func(j *core.Job) {
		j.Status = core.StatusRunning
		j.WorkerID = "w1"
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate() error = %v", err)
	}
	if claimed.WorkerID != "w1" {
		t.Fatalf("WorkerID = %q, want w1", claimed.WorkerID)
	}

	_, err = store.ConditionalUpdate(ctx, "it-owner", id, core.Claimable, func(j *core.Job) {
		j.WorkerID = "w2"
	})
	if !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("second claim error = %v, want ErrConditionFailed", err)
	}
}

func TestObjectStoreRoundTrip(t *testing.T) {
	backend := newIntegrationBackend(t)
	ctx := context.Background()
	key := "it/" + core.NewUUIDv7() + "/clip.mp4"

	n, err := backend.Objects.Put(ctx, key, strings.NewReader("frames"), "video/mp4")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if n != int64(len("frames")) {
		t.Fatalf("Put() size = %d, want %d", n, len("frames"))
	}

	var buf bytes.Buffer
	if err := backend.Objects.Get(ctx, key, &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "frames" {
		t.Fatalf("Get() = %q, want %q", buf.String(), "frames")
	}

	if err := backend.Objects.Get(ctx, key+".missing", &buf); !errors.Is(err, core.ErrBlobNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrBlobNotFound", err)
	}

	if err := backend.Objects.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := backend.Objects.Get(ctx, key, &buf); !errors.Is(err, core.ErrBlobNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrBlobNotFound", err)
	}
	if err := backend.Objects.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestPubSubDeliversJobEvents(t *testing.T) {
	backend := newIntegrationBackend(t)
	jobID := core.NewUUIDv7()

	ch, unsubscribe, err := backend.Events.SubscribeJob(jobID)
	if err != nil {
		t.Fatalf("SubscribeJob() error = %v", err)
	}
	defer unsubscribe()
	if err := backend.Conn().Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	event := &core.JobEvent{Type: core.EventJobClaimed, JobID: jobID, Owner: "it-owner", Status: core.StatusRunning, Time: time.Now().UTC()}
	if err := backend.Events.PublishJobEvent(event); err != nil {
		t.Fatalf("PublishJobEvent() error = %v", err)
	}

	select {
	case got := <-ch:
		if got.JobID != jobID || got.Type != core.EventJobClaimed {
			t.Fatalf("received %+v, want claimed event for %s", got, jobID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}

func TestPing(t *testing.T) {
	backend := newIntegrationBackend(t)
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func newIntegrationBackend(t *testing.T) *Backend {
	t.Helper()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	backend, err := Connect(natsURL)
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return backend
}
