package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// ErrorResponse is the wire form of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps a service error onto the HTTP surface. Client-caused
// errors keep their message; everything else is logged and reported as a
// generic internal error so store and crypto details never leak.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, errdefs.ErrInvalidRequest):
		status, message = http.StatusBadRequest, err.Error()
	default:
		status, message = http.StatusInternalServerError, "internal error"
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get("X-Request-ID"),
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
