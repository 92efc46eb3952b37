package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quizhub/adminview/internal/logger"
)

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Named("server").Warn(context.Background(),
			"writeJSON: encoding response", logger.Error(err))
	}
}

// writeError writes a JSON error response with the given status
// and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonError{Error: msg})
}

// handleContextError detects context.Canceled and
// context.DeadlineExceeded errors, returning true so the
// caller stops processing. It does not write an HTTP
// response: the withTimeout middleware answers with 503 via
// http.TimeoutHandler, and writing here would race with its
// buffered response.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// internalError logs err under msg and writes the generic 500.
func (s *Server) internalError(
	w http.ResponseWriter, r *http.Request, msg string, err error,
) {
	s.log.Error(r.Context(), msg,
		logger.Error(err),
		logger.String("path", r.URL.Path),
		logger.String("request_id", RequestID(r.Context())),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
