package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned when a key has no value.
	ErrKeyNotFound = errors.New("kv: key not found")
	// ErrKeyExists is returned by Create when the key already has a value.
	ErrKeyExists = errors.New("kv: key exists")
	// ErrRevisionMismatch is returned by Update when the stored revision
	// differs from the expected one.
	ErrRevisionMismatch = errors.New("kv: wrong last revision")
)

// Entry is a value together with the revision that wrote it.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Bucket is a key-value bucket with revision-checked writes. Every backend
// (NATS KV, Redis, Postgres, memory) implements it, and everything above it
// is backend independent.
type Bucket interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// Create writes value only if key has no value.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update writes value only if the current revision of key is revision.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
