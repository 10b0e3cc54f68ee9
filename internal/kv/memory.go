package kv

import (
	"context"
	"sync"
)

// MemoryBucket is an in-process Bucket. Revisions are drawn from one
// counter per bucket, like a stream sequence.
type MemoryBucket struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]Entry
}

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{entries: make(map[string]Entry)}
}

func (b *MemoryBucket) Get(_ context.Context, key string) (*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	e.Value = append([]byte(nil), e.Value...)
	return &e, nil
}

func (b *MemoryBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(key, value), nil
}

func (b *MemoryBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return b.write(key, value), nil
}

func (b *MemoryBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.Revision != revision {
		return 0, ErrRevisionMismatch
	}
	return b.write(key, value), nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBucket) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *MemoryBucket) write(key string, value []byte) uint64 {
	b.seq++
	b.entries[key] = Entry{
		Key:      key,
		Value:    append([]byte(nil), value...),
		Revision: b.seq,
	}
	return b.seq
}
