// Package kvtest holds the behavior every kv.Bucket backend must share.
package kvtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

// RunBucketTests exercises b, which must be empty, against the Bucket
// contract. Keys are prefixed with prefix so that shared servers can be used.
func RunBucketTests(t *testing.T, b kv.Bucket, prefix string) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := b.Get(ctx, prefix+"missing"); !errors.Is(err, kv.ErrKeyNotFound) {
			t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("CreateThenExists", func(t *testing.T) {
		key := prefix + "create"
		rev, err := b.Create(ctx, key, []byte("v1"))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if rev == 0 {
			t.Fatal("Create() returned revision 0")
		}
		if _, err := b.Create(ctx, key, []byte("v2")); !errors.Is(err, kv.ErrKeyExists) {
			t.Fatalf("second Create() error = %v, want ErrKeyExists", err)
		}
		e, err := b.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(e.Value) != "v1" || e.Revision != rev {
			t.Fatalf("Get() = (%q, %d), want (%q, %d)", e.Value, e.Revision, "v1", rev)
		}
	})

	t.Run("UpdateChecksRevision", func(t *testing.T) {
		key := prefix + "update"
		rev, err := b.Put(ctx, key, []byte("a"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		rev2, err := b.Update(ctx, key, []byte("b"), rev)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if rev2 <= rev {
			t.Fatalf("Update() revision = %d, want > %d", rev2, rev)
		}
		if _, err := b.Update(ctx, key, []byte("c"), rev); !errors.Is(err, kv.ErrRevisionMismatch) {
			t.Fatalf("stale Update() error = %v, want ErrRevisionMismatch", err)
		}
		e, err := b.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(e.Value) != "b" {
			t.Fatalf("Get() = %q, want %q", e.Value, "b")
		}
	})

	t.Run("ConcurrentUpdatesOneWinner", func(t *testing.T) {
		key := prefix + "race"
		rev, err := b.Put(ctx, key, []byte("0"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.Update(ctx, key, []byte("x"), rev); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("concurrent Update() winners = %d, want 1", wins)
		}
	})

	t.Run("DeleteAndKeys", func(t *testing.T) {
		a, c := prefix+"keys.a", prefix+"keys.c"
		for _, k := range []string{a, c} {
			if _, err := b.Put(ctx, k, []byte("v")); err != nil {
				t.Fatalf("Put(%s) error = %v", k, err)
			}
		}
		if err := b.Delete(ctx, c); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := b.Get(ctx, c); !errors.Is(err, kv.ErrKeyNotFound) {
			t.Fatalf("Get(deleted) error = %v, want ErrKeyNotFound", err)
		}
		keys, err := b.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		sort.Strings(keys)
		idx := sort.SearchStrings(keys, a)
		if idx >= len(keys) || keys[idx] != a {
			t.Fatalf("Keys() = %v, missing %s", keys, a)
		}
		idx = sort.SearchStrings(keys, c)
		if idx < len(keys) && keys[idx] == c {
			t.Fatalf("Keys() = %v, contains deleted %s", keys, c)
		}
	})
}
