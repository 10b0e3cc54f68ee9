package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/h3nryswan/video-transcoder-2/internal/blob"
	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/kv"
	natsbackend "github.com/h3nryswan/video-transcoder-2/internal/nats"
	"github.com/h3nryswan/video-transcoder-2/internal/postgres"
	"github.com/h3nryswan/video-transcoder-2/internal/redis"
)

// Bucket names used by the redis and postgres backends.
const (
	jobsBucket  = "jobs"
	filesBucket = "files"
)

// Stores is the storage selected by STORE_BACKEND.
type Stores struct {
	Jobs   *kv.JobStore
	Files  *kv.FileStore
	Blobs  core.BlobStore
	Events core.EventPublisher
	// Broker is set for the nats backend only.
	Broker *natsbackend.PubSubBroker

	ping    func(ctx context.Context) error
	closers []func() error
}

// OpenStores connects the configured backend. Backends without an object
// store keep media under BlobDir.
func OpenStores(ctx context.Context, cfg Config) (*Stores, error) {
	s := &Stores{Events: core.NopPublisher{}}

	var jobs, files kv.Bucket
	switch cfg.StoreBackend {
	case BackendNATS:
		backend, err := natsbackend.Connect(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, backend.Close)
		s.ping = backend.Ping
		jobs, files = backend.Jobs, backend.Files
		s.Blobs = backend.Objects
		s.Events = backend.Events
		s.Broker = backend.Events
		slog.Info("connected to NATS", "url", cfg.NatsURL)

	case BackendRedis:
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
		s.ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		jobs, files = redis.NewBucket(rdb, jobsBucket), redis.NewBucket(rdb, filesBucket)
		slog.Info("connected to Redis")

	case BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.ping = pool.Ping
		jobs, files = postgres.NewBucket(pool, jobsBucket), postgres.NewBucket(pool, filesBucket)
		slog.Info("connected to Postgres")

	case BackendMemory:
		jobs, files = kv.NewMemoryBucket(), kv.NewMemoryBucket()
		slog.Warn("using in-memory store; jobs are lost on exit and not shared between processes")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if s.Blobs == nil {
		dir, err := blob.NewDir(cfg.BlobDir)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Blobs = dir
	}
	s.Jobs = kv.NewJobStore(jobs)
	s.Files = kv.NewFileStore(files)
	return s, nil
}

// Ping checks the backend connection. The memory backend is always up.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases backend connections in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
