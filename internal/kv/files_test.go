package kv_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

func TestFileStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	fs := kv.NewFileStore(kv.NewMemoryBucket())

	f := &core.File{
		ID:        "f1",
		Owner:     "alice",
		Kind:      core.FileKindTranscoded,
		Name:      "clip_transcoded.mp4",
		ObjectKey: "alice/transcoded/f1_clip_transcoded.mp4",
		CreatedAt: time.Now().UTC(),
	}
	if err := fs.Put(ctx, f); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := fs.SetSize(ctx, "alice", "f1", 1024); err != nil {
		t.Fatalf("SetSize() error = %v", err)
	}
	if err := fs.SetReady(ctx, "alice", "f1", true); err != nil {
		t.Fatalf("SetReady() error = %v", err)
	}

	got, err := fs.Get(ctx, "alice", "f1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Size != 1024 || !got.Ready {
		t.Fatalf("Get() = %+v, want size 1024 and ready", got)
	}
	if got.ObjectKey != f.ObjectKey {
		t.Fatalf("ObjectKey = %q, want %q", got.ObjectKey, f.ObjectKey)
	}
}

func TestFileStoreMissing(t *testing.T) {
	ctx := context.Background()
	fs := kv.NewFileStore(kv.NewMemoryBucket())

	if _, err := fs.Get(ctx, "alice", "nope"); !errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("Get() error = %v, want ErrFileNotFound", err)
	}
	if err := fs.SetReady(ctx, "alice", "nope", true); !errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("SetReady() error = %v, want ErrFileNotFound", err)
	}
}

func TestFileStoreListByOwner(t *testing.T) {
	ctx := context.Background()
	fs := kv.NewFileStore(kv.NewMemoryBucket())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		f := &core.File{ID: id, Owner: "alice", Kind: core.FileKindOriginal, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := fs.Put(ctx, f); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := fs.Put(ctx, &core.File{ID: "z", Owner: "bob", CreatedAt: base}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	files, err := fs.ListByOwner(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListByOwner() returned %d files, want 2", len(files))
	}
	if files[0].ID != "c" || files[1].ID != "b" {
		t.Fatalf("ListByOwner() order = [%s %s], want [c b]", files[0].ID, files[1].ID)
	}
}

func TestFileStorePutRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	fs := kv.NewFileStore(kv.NewMemoryBucket())
	f := &core.File{ID: "f1", Owner: "alice", Name: "first.mov", CreatedAt: time.Now().UTC()}

	if err := fs.Put(ctx, f); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	dup := *f
	dup.Name = "second.mov"
	if err := fs.Put(ctx, &dup); !errors.Is(err, kv.ErrKeyExists) {
		t.Fatalf("Put(duplicate) error = %v, want ErrKeyExists", err)
	}
	if got, _ := fs.Get(ctx, "alice", "f1"); got.Name != "first.mov" {
		t.Fatalf("Name = %q after duplicate Put, want first.mov", got.Name)
	}
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	fs := kv.NewFileStore(kv.NewMemoryBucket())
	for _, id := range []string{"f1", "f2"} {
		if err := fs.Put(ctx, &core.File{ID: id, Owner: "alice", CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	if err := fs.Delete(ctx, "alice", "f1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := fs.Get(ctx, "alice", "f1"); !errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrFileNotFound", err)
	}
	if err := fs.Delete(ctx, "alice", "f1"); !errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrFileNotFound", err)
	}
	if err := fs.Delete(ctx, "bob", "f2"); !errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("Delete(other owner) error = %v, want ErrFileNotFound", err)
	}
	files, err := fs.ListByOwner(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(files) != 1 || files[0].ID != "f2" {
		t.Fatalf("ListByOwner() after Delete = %d files, want only f2", len(files))
	}
}

// brokenBucket fails every read.
type brokenBucket struct {
	kv.Bucket
}

func (brokenBucket) Get(context.Context, string) (*kv.Entry, error) {
	return nil, errors.New("connection refused")
}

func TestFileStoreDeleteSurfacesStoreErrors(t *testing.T) {
	fs := kv.NewFileStore(brokenBucket{Bucket: kv.NewMemoryBucket()})
	err := fs.Delete(context.Background(), "alice", "f1")
	if err == nil || errors.Is(err, core.ErrFileNotFound) {
		t.Fatalf("Delete() error = %v, want the store failure", err)
	}
}
