package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/transcode"
)

// MaxUploadSize limits uploaded media.
const MaxUploadSize = 2 << 30 // 2 GB

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// JobService is the queue surface the API needs.
type JobService interface {
	Submit(ctx context.Context, job *core.Job) error
	Get(ctx context.Context, owner, id string) (*core.Job, error)
	ListByOwner(ctx context.Context, owner string, limit int, onlyActive bool) ([]*core.Job, error)
}

// FileService is the file catalog surface the API needs.
type FileService interface {
	Put(ctx context.Context, file *core.File) error
	Get(ctx context.Context, owner, id string) (*core.File, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*core.File, error)
	Delete(ctx context.Context, owner, id string) error
}

// FileHandler serves uploads, listings and downloads.
type FileHandler struct {
	files FileService
	blobs core.BlobStore
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(files FileService, blobs core.BlobStore) *FileHandler {
	return &FileHandler{files: files, blobs: blobs}
}

// Upload handles PUT /v1/files/{name}. The request body is the media itself.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	name := core.SafeFileName(chi.URLParam(r, "name"))

	mimeType := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	} else {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}

	file := &core.File{
		ID:        core.NewUUIDv7(),
		Owner:     owner,
		Kind:      core.FileKindOriginal,
		Name:      name,
		MimeType:  mimeType,
		CreatedAt: time.Now().UTC(),
	}
	file.ObjectKey = core.ObjectKey(owner, file.Kind, file.ID, file.Name)

	body := http.MaxBytesReader(w, r.Body, MaxUploadSize)
	size, err := h.blobs.Put(r.Context(), file.ObjectKey, body, mimeType)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, core.NewInvalidRequestError(
				"Upload exceeds the maximum size.",
				map[string]any{"max_bytes": tooLarge.Limit},
			))
			return
		}
		HandleError(w, fmt.Errorf("store upload: %w", err))
		return
	}
	if size == 0 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Request body is empty.", nil))
		return
	}
	file.Size = size
	file.Ready = true

	if err := h.files.Put(r.Context(), file); err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/files/"+file.ID+"/content")
	WriteJSON(w, http.StatusCreated, map[string]any{"file": file})
}

// List handles GET /v1/files.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	files, err := h.files.ListByOwner(r.Context(), OwnerFrom(r.Context()), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"files": files})
}

// Content handles GET /v1/files/{id}/content.
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := h.files.Get(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		if errors.Is(err, core.ErrFileNotFound) {
			WriteError(w, http.StatusNotFound, core.NewNotFoundError("File", id))
			return
		}
		HandleError(w, err)
		return
	}
	if !file.Downloadable() {
		WriteError(w, http.StatusConflict, core.NewConflictError("Transcode not finished yet.", map[string]any{"file_id": id}))
		return
	}

	// Headers go out with the first byte, so a missing object is still a 404.
	cw := &lazyWriter{w: w, file: file}
	if err := h.blobs.Get(r.Context(), file.ObjectKey, cw); err != nil {
		if cw.started {
			slog.Warn("download interrupted", "file_id", id, "error", err)
			return
		}
		if errors.Is(err, core.ErrBlobNotFound) {
			WriteError(w, http.StatusNotFound, &core.APIError{
				Code:    core.ErrCodeNotFound,
				Message: "Object missing for " + file.ObjectKey,
			})
			return
		}
		HandleError(w, err)
		return
	}
	if !cw.started {
		cw.start()
	}
}

// Delete handles DELETE /v1/files/{id}. The object goes first so a failure
// leaves the metadata in place and the request can be retried.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	id := chi.URLParam(r, "id")
	file, err := h.files.Get(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, core.ErrFileNotFound) {
			WriteError(w, http.StatusNotFound, core.NewNotFoundError("File", id))
			return
		}
		HandleError(w, err)
		return
	}

	if file.ObjectKey != "" {
		if err := h.blobs.Delete(r.Context(), file.ObjectKey); err != nil {
			HandleError(w, fmt.Errorf("delete object: %w", err))
			return
		}
	}
	if err := h.files.Delete(r.Context(), owner, id); err != nil && !errors.Is(err, core.ErrFileNotFound) {
		HandleError(w, err)
		return
	}
	slog.Info("file deleted", "owner", owner, "file_id", id, "object_key", file.ObjectKey)
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "file_id": id})
}

// lazyWriter sends download headers on the first write.
type lazyWriter struct {
	w       http.ResponseWriter
	file    *core.File
	started bool
}

func (l *lazyWriter) start() {
	l.started = true
	h := l.w.Header()
	if l.file.MimeType != "" {
		h.Set("Content-Type", l.file.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if l.file.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(l.file.Size, 10))
	}
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": l.file.Name}))
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if !l.started {
		l.start()
	}
	return l.w.Write(p)
}

// TranscodeHandler queues transcode jobs.
type TranscodeHandler struct {
	files FileService
	jobs  JobService
}

// NewTranscodeHandler creates a TranscodeHandler.
func NewTranscodeHandler(files FileService, jobs JobService) *TranscodeHandler {
	return &TranscodeHandler{files: files, jobs: jobs}
}

type transcodeRequest struct {
	Preset string `json:"preset,omitempty"`
}

var allowedPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
}

// Create handles POST /v1/transcode/{fileID}: it registers the output
// placeholder and submits a queued job for it.
func (h *TranscodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	fileID := chi.URLParam(r, "fileID")

	var req transcodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Invalid JSON body.", map[string]any{"error": err.Error()}))
		return
	}
	if req.Preset != "" && !allowedPresets[req.Preset] {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Unknown preset.", map[string]any{"preset": req.Preset}))
		return
	}

	input, err := h.files.Get(r.Context(), owner, fileID)
	if err != nil && !errors.Is(err, core.ErrFileNotFound) {
		HandleError(w, err)
		return
	}
	if input == nil || input.Kind != core.FileKindOriginal {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("Original video", fileID))
		return
	}

	output := &core.File{
		ID:        core.NewUUIDv7(),
		Owner:     owner,
		Kind:      core.FileKindTranscoded,
		Name:      core.TranscodedName(input.Name),
		MimeType:  "video/mp4",
		CreatedAt: time.Now().UTC(),
		InputID:   input.ID,
	}
	output.ObjectKey = core.ObjectKey(owner, output.Kind, output.ID, output.Name)
	if err := h.files.Put(r.Context(), output); err != nil {
		HandleError(w, err)
		return
	}

	args, err := json.Marshal(transcode.Args{InputID: input.ID, OutputID: output.ID, Preset: req.Preset})
	if err != nil {
		HandleError(w, err)
		return
	}
	job := &core.Job{ID: core.NewUUIDv7(), Owner: owner, Args: args}
	if err := h.jobs.Submit(r.Context(), job); err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":         job.ID,
		"output_file_id": output.ID,
		"status":         job.Status,
	})
}

// JobHandler serves job status.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Get handles GET /v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, core.NewNotFoundError("Job", id))
			return
		}
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// List handles GET /v1/jobs. With active=1 only queued and running jobs are
// returned.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	onlyActive, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	jobs, err := h.jobs.ListByOwner(r.Context(), OwnerFrom(r.Context()), limit, onlyActive)
	if err != nil {
		HandleError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// SystemHandler serves health checks.
type SystemHandler struct {
	ping func(ctx context.Context) error
}

// NewSystemHandler creates a SystemHandler. ping checks the store; nil
// means always healthy.
func NewSystemHandler(ping func(ctx context.Context) error) *SystemHandler {
	return &SystemHandler{ping: ping}
}

// Health handles GET /health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, core.NewInvalidRequestError("limit must be a positive integer.", map[string]any{"limit": raw})
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
