// Package blob stores media objects in a local directory. It backs the
// object storage role when the store backend has no object store of its own.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// Dir implements core.BlobStore on a directory tree. Object keys map to
// relative paths below root.
type Dir struct {
	root string
}

// NewDir creates root if needed and returns a store on it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object key %q", core.ErrInvalidKey, key)
	}
	return filepath.Join(d.root, clean), nil
}

// Put writes r to a temporary file and renames it into place, so readers
// never observe a partial object.
func (d *Dir) Put(ctx context.Context, key string, r io.Reader, _ string) (int64, error) {
	p, err := d.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}
	return n, nil
}

// Get copies the object into w.
func (d *Dir) Get(ctx context.Context, key string, w io.Writer) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.ErrBlobNotFound
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, readerWithContext(ctx, f)); err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object file. Emptied parent directories are left behind.
func (d *Dir) Delete(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
