package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxCASAttempts bounds how often a compare-and-swap is retried after losing
// a revision race before the conflict is reported to the caller.
const maxCASAttempts = 16

// Store provides typed access to a Bucket.
type Store struct {
	bucket Bucket
}

// NewStore wraps a bucket.
func NewStore(bucket Bucket) *Store {
	return &Store{bucket: bucket}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value, entry.Revision, nil
}

// Put stores a value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.bucket.Put(ctx, key, value)
}

// Create stores a value at key only if it doesn't already exist.
// Returns ErrKeyExists if the key already exists.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.bucket.Create(ctx, key, value)
}

// Update stores a value at key only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.bucket.Update(ctx, key, value, revision)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bucket.Delete(ctx, key)
}

// Keys returns all keys in the bucket in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// KeysWithPrefix returns the keys starting with prefix in lexical order.
func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// PutJSON marshals and stores a JSON value.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// CreateJSON marshals v and stores it at key only if key has no value.
func (s *Store) CreateJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Create(ctx, key, data)
}

// UpdateJSON performs a compare-and-swap update on an existing JSON value.
// Every attempt decodes a fresh T from the bucket and calls mutate on it, so
// a decision taken in mutate always refers to the exact revision being
// replaced. A mutate error aborts the update and is returned unchanged.
// There is no fallback to an unconditional write.
func UpdateJSON[T any](ctx context.Context, s *Store, key string, mutate func(*T) error) (*T, uint64, error) {
	for i := 0; i < maxCASAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		var v T
		rev, err := s.GetJSON(ctx, key, &v)
		if err != nil {
			return nil, 0, err
		}
		if err := mutate(&v); err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(&v)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal key %s: %w", key, err)
		}
		newRev, err := s.Update(ctx, key, data, rev)
		if err == nil {
			return &v, newRev, nil
		}
		if !errors.Is(err, ErrRevisionMismatch) {
			return nil, 0, fmt.Errorf("update key %s: %w", key, err)
		}
		// Lost the race against another writer; reload and re-check.
	}
	return nil, 0, fmt.Errorf("update key %s: %w after %d attempts", key, ErrRevisionMismatch, maxCASAttempts)
}

// Exists reports whether key has a value. Bucket failures are returned
// rather than read as absence.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}
