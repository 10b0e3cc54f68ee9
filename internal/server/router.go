package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/h3nryswan/video-transcoder-2/internal/api"
	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/metrics"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Jobs  api.JobService
	Files api.FileService
	Blobs core.BlobStore
	// Ping checks the store for /health. Nil reports healthy.
	Ping func(ctx context.Context) error
}

// NewRouter creates the chi router with all transcoder routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger)

	systemH := api.NewSystemHandler(d.Ping)
	fileH := api.NewFileHandler(d.Files, d.Blobs)
	transcodeH := api.NewTranscodeHandler(d.Files, d.Jobs)
	jobH := api.NewJobHandler(d.Jobs)

	r.Get("/health", systemH.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RequireOwner)

		// Uploads stream the raw media and carry their own size limit.
		r.Put("/files/{name}", fileH.Upload)
		r.Get("/files", fileH.List)
		r.Get("/files/{id}/content", fileH.Content)
		r.Delete("/files/{id}", fileH.Delete)

		r.Get("/jobs", jobH.List)
		r.Get("/jobs/{id}", jobH.Get)

		r.Group(func(r chi.Router) {
			r.Use(api.LimitBody)
			r.Use(api.ValidateContentType)
			r.Post("/transcode/{fileID}", transcodeH.Create)
		})
	})

	return r
}
