// Package redis implements kv.Bucket on Redis. Each key is a hash holding
// the value and its revision; revisions come from one counter per bucket,
// and every write is a Lua script so the revision check and the write are
// atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	r "github.com/redis/go-redis/v9"

	"github.com/h3nryswan/video-transcoder-2/internal/kv"
)

// All keys of a bucket share the {bucket} hash tag so that scripts touching
// the entry and the counter stay in one cluster slot.
var (
	putScript = r.NewScript(`
local rev = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'rev', rev)
return rev
`)

	createScript = r.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local rev = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'rev', rev)
return rev
`)

	updateScript = r.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'rev')
if not cur or cur ~= ARGV[2] then
  return 0
end
local rev = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'rev', rev)
return rev
`)
)

// Bucket is a revisioned key space on a Redis server.
type Bucket struct {
	rdb    r.UniversalClient
	prefix string
	seq    string
}

// NewBucket returns the bucket called name on rdb.
func NewBucket(rdb r.UniversalClient, name string) *Bucket {
	tag := "{" + name + "}"
	return &Bucket{rdb: rdb, prefix: tag + ":k:", seq: tag + ":seq"}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*r.Client, error) {
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := r.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (b *Bucket) Get(ctx context.Context, key string) (*kv.Entry, error) {
	fields, err := b.rdb.HGetAll(ctx, b.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	v, ok := fields["v"]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	rev, err := strconv.ParseUint(fields["rev"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis get %s: bad revision %q", key, fields["rev"])
	}
	return &kv.Entry{Key: key, Value: []byte(v), Revision: rev}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := putScript.Run(ctx, b.rdb, []string{b.prefix + key, b.seq}, value).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redis put %s: %w", key, err)
	}
	return rev, nil
}

func (b *Bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := createScript.Run(ctx, b.rdb, []string{b.prefix + key, b.seq}, value).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redis create %s: %w", key, err)
	}
	if rev == 0 {
		return 0, kv.ErrKeyExists
	}
	return rev, nil
}

func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	keys := []string{b.prefix + key, b.seq}
	rev, err := updateScript.Run(ctx, b.rdb, keys, value, strconv.FormatUint(revision, 10)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redis update %s: %w", key, err)
	}
	if rev == 0 {
		return 0, kv.ErrRevisionMismatch
	}
	return rev, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Keys walks the bucket with SCAN. Keys written during the walk may or may
// not be included.
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		page, next, err := b.rdb.Scan(ctx, cursor, b.prefix+"*", 500).Result()
		if err != nil {
			if errors.Is(err, r.Nil) {
				break
			}
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range page {
			k = strings.TrimPrefix(k, b.prefix)
			// SCAN may return a key more than once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}
