package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// FileStore manages file metadata, keyed like jobs by "<owner>.<id>".
type FileStore struct {
	store *Store
}

// NewFileStore creates a FileStore over bucket.
func NewFileStore(bucket Bucket) *FileStore {
	return &FileStore{store: NewStore(bucket)}
}

// Put registers new file metadata. Ids are never reused, so an existing
// record fails with ErrKeyExists instead of being replaced.
func (f *FileStore) Put(ctx context.Context, file *core.File) error {
	key, err := recordKey(file.Owner, file.ID)
	if err != nil {
		return err
	}
	if _, err := f.store.CreateJSON(ctx, key, file); err != nil {
		return fmt.Errorf("put file %s: %w", key, err)
	}
	return nil
}

// Get retrieves file metadata.
func (f *FileStore) Get(ctx context.Context, owner, id string) (*core.File, error) {
	key, err := recordKey(owner, id)
	if err != nil {
		return nil, err
	}
	var file core.File
	if _, err := f.store.GetJSON(ctx, key, &file); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, core.ErrFileNotFound
		}
		return nil, fmt.Errorf("get file %s: %w", key, err)
	}
	return &file, nil
}

// SetSize records the stored size of a file.
func (f *FileStore) SetSize(ctx context.Context, owner, id string, size int64) error {
	return f.update(ctx, owner, id, func(file *core.File) { file.Size = size })
}

// SetReady marks whether a file can be downloaded.
func (f *FileStore) SetReady(ctx context.Context, owner, id string, ready bool) error {
	return f.update(ctx, owner, id, func(file *core.File) { file.Ready = ready })
}

func (f *FileStore) update(ctx context.Context, owner, id string, apply func(*core.File)) error {
	key, err := recordKey(owner, id)
	if err != nil {
		return err
	}
	_, _, err = UpdateJSON(ctx, f.store, key, func(file *core.File) error {
		apply(file)
		return nil
	})
	if errors.Is(err, ErrKeyNotFound) {
		return core.ErrFileNotFound
	}
	return err
}

// Delete removes file metadata. It returns core.ErrFileNotFound when there is
// nothing to remove.
func (f *FileStore) Delete(ctx context.Context, owner, id string) error {
	key, err := recordKey(owner, id)
	if err != nil {
		return err
	}
	ok, err := f.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("get file %s: %w", key, err)
	}
	if !ok {
		return core.ErrFileNotFound
	}
	if err := f.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete file %s: %w", key, err)
	}
	return nil
}

// ListByOwner returns an owner's files, newest first.
func (f *FileStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*core.File, error) {
	if err := core.ValidateKeyToken("owner", owner); err != nil {
		return nil, err
	}
	keys, err := f.store.KeysWithPrefix(ctx, owner+".")
	if err != nil {
		return nil, fmt.Errorf("list file keys: %w", err)
	}

	files := make([]*core.File, 0, len(keys))
	for _, key := range keys {
		var file core.File
		if _, err := f.store.GetJSON(ctx, key, &file); err != nil {
			continue
		}
		files = append(files, &file)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
