package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// SetupJetStream creates the KV buckets and the object store.
func SetupJetStream(ctx context.Context, js jetstream.JetStream) error {
	buckets := []struct {
		name    string
		history uint8
	}{
		{BucketJobs, 5},
		{BucketFiles, 1},
	}

	for _, b := range buckets {
		cfg := jetstream.KeyValueConfig{
			Bucket:  b.name,
			Storage: jetstream.FileStorage,
			History: b.history,
		}
		if _, err := js.CreateOrUpdateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", b.name, err)
		}
	}

	_, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:  ObjectStoreMedia,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating object store %s: %w", ObjectStoreMedia, err)
	}

	return nil
}
