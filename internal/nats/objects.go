package nats

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// ObjectStore implements core.BlobStore on a JetStream object store bucket.
type ObjectStore struct {
	obj jetstream.ObjectStore
}

// NewObjectStore wraps a JetStream object store.
func NewObjectStore(obj jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{obj: obj}
}

// Put streams r into the object named key, replacing any previous version.
func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	meta := jetstream.ObjectMeta{Name: key}
	if contentType != "" {
		meta.Headers = nats.Header{"Content-Type": []string{contentType}}
	}
	info, err := s.obj.Put(ctx, meta, r)
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}
	return int64(info.Size), nil
}

// Get copies the object named key into w.
func (s *ObjectStore) Get(ctx context.Context, key string, w io.Writer) error {
	res, err := s.obj.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return core.ErrBlobNotFound
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer res.Close()

	if _, err := io.Copy(w, res); err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object named key.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	err := s.obj.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
