// Package api exposes the resolve service over HTTP: GET /health,
// POST /resolve and POST /update. Errors are {"error": "..."} with
// 400/404/500 status.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/silexium-dev/silexium/pkg/resolve"
)

const maxBodyBytes = 1 << 20

// Handler serves the resolve endpoints.
type Handler struct {
	svc    *resolve.Service
	logger *slog.Logger
}

func NewHandler(svc *resolve.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "OK")
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req resolve.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	resp, err := h.svc.Install(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req resolve.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	resp, err := h.svc.Update(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
