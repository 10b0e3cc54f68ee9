package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// JobStore implements core.Store on top of a Bucket. Records are keyed
// "<owner>.<id>" so that one owner's jobs share a key prefix.
type JobStore struct {
	store *Store
}

// NewJobStore creates a JobStore over bucket.
func NewJobStore(bucket Bucket) *JobStore {
	return &JobStore{store: NewStore(bucket)}
}

// JobKey returns the bucket key for a job.
func JobKey(owner, id string) string {
	return owner + "." + id
}

func recordKey(owner, id string) (string, error) {
	if err := core.ValidateKeyToken("owner", owner); err != nil {
		return "", err
	}
	if err := core.ValidateKeyToken("id", id); err != nil {
		return "", err
	}
	return JobKey(owner, id), nil
}

// Get returns the job stored under (owner, id).
func (s *JobStore) Get(ctx context.Context, owner, id string) (*core.Job, error) {
	key, err := recordKey(owner, id)
	if err != nil {
		return nil, err
	}
	var job core.Job
	if _, err := s.store.GetJSON(ctx, key, &job); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, core.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", key, err)
	}
	return &job, nil
}

// Put writes job unconditionally.
func (s *JobStore) Put(ctx context.Context, job *core.Job) error {
	key, err := recordKey(job.Owner, job.ID)
	if err != nil {
		return err
	}
	if _, err := s.store.PutJSON(ctx, key, job); err != nil {
		return fmt.Errorf("put job %s: %w", key, err)
	}
	return nil
}

// ConditionalUpdate applies apply when cond holds on the stored revision.
// The write is revision-checked; when another writer gets in between, the
// record is re-read and cond is evaluated again on the new state.
func (s *JobStore) ConditionalUpdate(ctx context.Context, owner, id string, cond core.Condition, apply func(*core.Job)) (*core.Job, error) {
	key, err := recordKey(owner, id)
	if err != nil {
		return nil, err
	}
	job, _, err := UpdateJSON(ctx, s.store, key, func(j *core.Job) error {
		if !cond(j) {
			return core.ErrConditionFailed
		}
		apply(j)
		// Identity is immutable whatever apply did.
		j.Owner, j.ID = owner, id
		return nil
	})
	switch {
	case err == nil:
		return job, nil
	case errors.Is(err, core.ErrConditionFailed):
		return nil, core.ErrConditionFailed
	case errors.Is(err, ErrKeyNotFound):
		return nil, core.ErrJobNotFound
	default:
		return nil, fmt.Errorf("conditional update %s: %w", key, err)
	}
}

// Scan walks the bucket in key order starting after cursor and returns up
// to limit jobs matching filter. A limit <= 0 means no limit. Keys removed
// while the scan runs are skipped.
func (s *JobStore) Scan(ctx context.Context, filter core.Condition, limit int, cursor string) ([]*core.Job, string, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list job keys: %w", err)
	}

	// Keys are sorted, so resume right after the cursor without touching
	// the records before it.
	start := 0
	if cursor != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > cursor })
	}

	var jobs []*core.Job
	for i := start; i < len(keys); i++ {
		key := keys[i]
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		var job core.Job
		if _, err := s.store.GetJSON(ctx, key, &job); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, "", fmt.Errorf("scan job %s: %w", key, err)
		}
		if filter != nil && !filter(&job) {
			continue
		}
		jobs = append(jobs, &job)
		if limit > 0 && len(jobs) >= limit {
			if i == len(keys)-1 {
				return jobs, "", nil
			}
			return jobs, key, nil
		}
	}
	return jobs, "", nil
}
