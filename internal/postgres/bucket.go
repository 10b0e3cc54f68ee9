// Package postgres implements kv.Bucket on a PostgreSQL table. The
// revision column is the compare-and-swap token: an update only matches the
// row when the revision it read is still current.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

const schema = `
CREATE SEQUENCE IF NOT EXISTS kv_revision_seq;
CREATE TABLE IF NOT EXISTS kv_entries (
	bucket     TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	revision   BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, key)
);
`

// Connect creates a connection pool and applies the schema.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}

// Bucket is one named key space in kv_entries.
type Bucket struct {
	pool *pgxpool.Pool
	name string
}

// NewBucket returns the bucket called name.
func NewBucket(pool *pgxpool.Pool, name string) *Bucket {
	return &Bucket{pool: pool, name: name}
}

func (b *Bucket) Get(ctx context.Context, key string) (*kv.Entry, error) {
	var (
		value []byte
		rev   int64
	)
	err := b.pool.QueryRow(ctx,
		`SELECT value, revision FROM kv_entries WHERE bucket = $1 AND key = $2`,
		b.name, key).Scan(&value, &rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return &kv.Entry{Key: key, Value: value, Revision: uint64(rev)}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev int64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO kv_entries (bucket, key, value, revision)
		VALUES ($1, $2, $3, nextval('kv_revision_seq'))
		ON CONFLICT (bucket, key) DO UPDATE
		SET value = EXCLUDED.value, revision = EXCLUDED.revision, updated_at = now()
		RETURNING revision`,
		b.name, key, value).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	return uint64(rev), nil
}

func (b *Bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev int64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO kv_entries (bucket, key, value, revision)
		VALUES ($1, $2, $3, nextval('kv_revision_seq'))
		ON CONFLICT (bucket, key) DO NOTHING
		RETURNING revision`,
		b.name, key, value).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, kv.ErrKeyExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", key, err)
	}
	return uint64(rev), nil
}

func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	var rev int64
	err := b.pool.QueryRow(ctx, `
		UPDATE kv_entries
		SET value = $3, revision = nextval('kv_revision_seq'), updated_at = now()
		WHERE bucket = $1 AND key = $2 AND revision = $4
		RETURNING revision`,
		b.name, key, value, int64(revision)).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, kv.ErrRevisionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return uint64(rev), nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM kv_entries WHERE bucket = $1 AND key = $2`, b.name, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT key FROM kv_entries WHERE bucket = $1 ORDER BY key`, b.name)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
