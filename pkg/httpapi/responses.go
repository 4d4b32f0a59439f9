package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/reindex"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	reqID := middleware.GetReqID(r.Context())
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{"status_code", status, "path", r.URL.Path, "method", r.Method, "request_id", reqID}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Log(r.Context(), level, "API error response", attrs...)
	respondJSON(w, status, ErrorResponse{Error: message, RequestID: reqID})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, reindex.ErrStrandNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, core.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnknownJobType),
		errors.Is(err, core.ErrNoProcessor),
		errors.Is(err, core.ErrInvalidPayload),
		errors.Is(err, security.ErrInvalidStrandPath):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// messageFor returns the client-safe text for err.
func messageFor(status int, err error) string {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return "internal error"
	}
	return security.SanitizeErrorMessage(err.Error())
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.respondError(w, r, status, messageFor(status, err), err)
}

// decodeJSON strictly decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, security.MaxPayloadSize+4096)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
