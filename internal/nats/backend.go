package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Backend holds the NATS connection and the JetStream resources the
// transcoder runs on.
type Backend struct {
	nc *nats.Conn
	js jetstream.JetStream

	Jobs    *Bucket
	Files   *Bucket
	Objects *ObjectStore
	Events  *PubSubBroker
}

// Connect dials NATS, creates the JetStream resources if needed and opens them.
func Connect(natsURL string) (*Backend, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("transcoder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	openKV := func(name string) (*Bucket, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return NewBucket(bucket), nil
	}

	jobs, err := openKV(BucketJobs)
	if err != nil {
		nc.Close()
		return nil, err
	}
	files, err := openKV(BucketFiles)
	if err != nil {
		nc.Close()
		return nil, err
	}
	obj, err := js.ObjectStore(ctx, ObjectStoreMedia)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening object store %s: %w", ObjectStoreMedia, err)
	}

	return &Backend{
		nc:      nc,
		js:      js,
		Jobs:    jobs,
		Files:   files,
		Objects: NewObjectStore(obj),
		Events:  NewPubSubBroker(nc),
	}, nil
}

// Conn returns the underlying NATS connection.
func (b *Backend) Conn() *nats.Conn {
	return b.nc
}

// Ping reports whether the connection is up, measured by a round trip to the server.
func (b *Backend) Ping(ctx context.Context) error {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("NATS status: %v", status)
	}
	if _, err := b.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("NATS round trip: %w", err)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Backend) Close() error {
	_ = b.Events.Close()
	b.nc.Close()
	return nil
}
