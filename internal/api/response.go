package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
)

// MediaType is the Content-Type of every JSON response.
const MediaType = "application/json"

// ErrorResponse is the body of an error response.
type ErrorResponse struct {
	Error *ErrorBody `json:"error"`
}

// ErrorBody describes one error.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes apiErr with the given status.
func WriteError(w http.ResponseWriter, status int, apiErr *core.APIError) {
	WriteJSON(w, status, ErrorResponse{Error: &ErrorBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Retryable: apiErr.Retryable,
		Details:   apiErr.Details,
		RequestID: w.Header().Get("X-Request-Id"),
	}})
}

// HandleError maps err to an error response.
func HandleError(w http.ResponseWriter, err error) {
	var apiErr *core.APIError
	switch {
	case errors.As(err, &apiErr):
		WriteError(w, statusForCode(apiErr.Code), apiErr)
	case errors.Is(err, core.ErrInvalidKey):
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(err.Error(), nil))
	case errors.Is(err, core.ErrConditionFailed):
		WriteError(w, http.StatusConflict, core.NewConflictError("The resource changed concurrently.", nil))
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrFileNotFound), errors.Is(err, core.ErrBlobNotFound):
		WriteError(w, http.StatusNotFound, &core.APIError{Code: core.ErrCodeNotFound, Message: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, core.NewInternalError("Internal server error."))
	}
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
