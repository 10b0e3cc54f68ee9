package api

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/metrics"
)

// MaxBodySize limits JSON request bodies.
const MaxBodySize = 1 << 20 // 1 MB

// OwnerHeader carries the authenticated owner, set by the gateway in front
// of the API.
const OwnerHeader = "X-Owner"

type ctxKey int

const ownerKey ctxKey = iota

// RequestID echoes X-Request-Id or generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// RequestLogger middleware logs HTTP requests with structured logging.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", w.Header().Get("X-Request-Id"),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// LimitBody middleware restricts request body size.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		next.ServeHTTP(w, r)
	})
}

// ValidateContentType rejects POST bodies that are not JSON. An empty
// Content-Type is accepted.
func ValidateContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mt, _, err := mime.ParseMediaType(ct)
				if err != nil || mt != MediaType {
					WriteError(w, http.StatusUnsupportedMediaType, core.NewInvalidRequestError(
						"Content-Type must be application/json.",
						map[string]any{"content_type": ct},
					))
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOwner rejects requests without a valid owner header and stores the
// owner in the request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			WriteError(w, http.StatusUnauthorized, core.NewUnauthorizedError("Missing "+OwnerHeader+" header."))
			return
		}
		if err := core.ValidateKeyToken("owner", owner); err != nil {
			WriteError(w, http.StatusUnauthorized, core.NewUnauthorizedError("Invalid "+OwnerHeader+" header."))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// WithOwner returns a context carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFrom returns the owner stored by RequireOwner.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}
