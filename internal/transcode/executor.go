// Package transcode executes transcode jobs: it fetches the input object,
// runs ffmpeg on it and stores the result under the output placeholder.
package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// DefaultPreset is the x264 preset used when a job does not name one.
const DefaultPreset = "veryfast"

// Args is the payload of a transcode job.
type Args struct {
	InputID  string `json:"input_id"`
	OutputID string `json:"output_id"`
	Preset   string `json:"preset,omitempty"`
}

// Files is the file metadata the executor reads and updates.
type Files interface {
	Get(ctx context.Context, owner, id string) (*core.File, error)
	SetSize(ctx context.Context, owner, id string, size int64) error
	SetReady(ctx context.Context, owner, id string, ready bool) error
}

// Executor runs transcode jobs. Re-running a job overwrites its output.
type Executor struct {
	files   Files
	blobs   core.BlobStore
	runner  Runner
	preset  string
	tempDir string
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner replaces the ffmpeg runner.
func WithRunner(r Runner) Option { return func(e *Executor) { e.runner = r } }

// WithPreset sets the default x264 preset.
func WithPreset(p string) Option { return func(e *Executor) { e.preset = p } }

// WithTempDir sets where scratch files are written.
func WithTempDir(dir string) Option { return func(e *Executor) { e.tempDir = dir } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// NewExecutor creates an executor.
func NewExecutor(files Files, blobs core.BlobStore, opts ...Option) *Executor {
	e := &Executor{
		files:  files,
		blobs:  blobs,
		runner: FFmpeg{},
		preset: DefaultPreset,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute transcodes one job. Cancelling ctx kills ffmpeg.
func (e *Executor) Execute(ctx context.Context, job *core.Job) error {
	var args Args
	if len(job.Args) > 0 {
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("decode job args: %w", err)
		}
	}

	in, err := e.lookup(ctx, job.Owner, args.InputID, "input", "input object key not found")
	if err != nil {
		return err
	}
	out, err := e.lookup(ctx, job.Owner, args.OutputID, "output", "output placeholder not found")
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(e.tempDir, "transcode-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input"+filepath.Ext(in.Name))
	outPath := filepath.Join(dir, "output.mp4")

	if err := e.download(ctx, in.ObjectKey, inPath); err != nil {
		return err
	}

	preset := args.Preset
	if preset == "" {
		preset = e.preset
	}
	e.logger.Debug("running ffmpeg", "job_id", job.ID, "input", in.ObjectKey, "preset", preset)
	if err := e.runner.Run(ctx, Command(inPath, outPath, preset)); err != nil {
		return err
	}

	size, err := e.upload(ctx, outPath, out.ObjectKey)
	if err != nil {
		return err
	}
	if err := e.files.SetSize(ctx, job.Owner, out.ID, size); err != nil {
		return fmt.Errorf("record output size: %w", err)
	}
	if err := e.files.SetReady(ctx, job.Owner, out.ID, true); err != nil {
		return fmt.Errorf("mark output ready: %w", err)
	}
	return nil
}

// lookup returns the metadata of file id. A missing record, an unusable id or
// a record without an object key fails with the plain text missing; store
// failures are wrapped so they stay distinguishable.
func (e *Executor) lookup(ctx context.Context, owner, id, role, missing string) (*core.File, error) {
	f, err := e.files.Get(ctx, owner, id)
	switch {
	case errors.Is(err, core.ErrFileNotFound), errors.Is(err, core.ErrInvalidKey):
		return nil, errors.New(missing)
	case err != nil:
		return nil, fmt.Errorf("load %s metadata: %w", role, err)
	case f.ObjectKey == "":
		return nil, errors.New(missing)
	}
	return f, nil
}

func (e *Executor) download(ctx context.Context, key, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	if err := e.blobs.Get(ctx, key, f); err != nil {
		f.Close()
		return fmt.Errorf("download input: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write input file: %w", err)
	}
	return nil
}

func (e *Executor) upload(ctx context.Context, path, key string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	size, err := e.blobs.Put(ctx, key, f, "video/mp4")
	if err != nil {
		return 0, fmt.Errorf("upload output: %w", err)
	}
	return size, nil
}
