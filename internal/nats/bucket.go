package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

// Bucket adapts a JetStream KeyValue bucket to kv.Bucket. The revision of
// an entry is its stream sequence, and Update is the server-side
// compare-and-swap on it.
type Bucket struct {
	kv jetstream.KeyValue
}

// NewBucket wraps a JetStream KV bucket.
func NewBucket(b jetstream.KeyValue) *Bucket {
	return &Bucket{kv: b}
}

func (b *Bucket) Get(ctx context.Context, key string) (*kv.Entry, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, mapError(err)
	}
	return &kv.Entry{Key: entry.Key(), Value: entry.Value(), Revision: entry.Revision()}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Put(ctx, key, value)
	return rev, mapError(err)
}

func (b *Bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Create(ctx, key, value)
	return rev, mapError(err)
}

func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := b.kv.Update(ctx, key, value, revision)
	if err != nil {
		if isWrongLastSequence(err) || errors.Is(err, jetstream.ErrKeyExists) {
			return 0, kv.ErrRevisionMismatch
		}
		return 0, mapError(err)
	}
	return rev, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	return mapError(b.kv.Delete(ctx, key))
}

func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return kv.ErrKeyNotFound
	case errors.Is(err, jetstream.ErrKeyExists):
		return kv.ErrKeyExists
	case isWrongLastSequence(err):
		return kv.ErrRevisionMismatch
	default:
		return err
	}
}

func isWrongLastSequence(err error) bool {
	var jsErr jetstream.JetStreamError
	if !errors.As(err, &jsErr) {
		return false
	}
	apiErr := jsErr.APIError()
	return apiErr != nil && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
