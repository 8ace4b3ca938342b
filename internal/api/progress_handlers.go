package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/progress/sinks"
)

// ProgressReader exposes folded progress snapshots.
type ProgressReader interface {
	Latest() (sinks.Snapshot, bool)
	Snapshot(id uuid.UUID) (sinks.Snapshot, bool)
}

// ProgressHandler serves live progress snapshots.
type ProgressHandler struct {
	reader ProgressReader
	logger *zap.Logger
}

// NewProgressHandler builds a handler. A nil reader answers 503.
func NewProgressHandler(reader ProgressReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{reader: reader, logger: logger}
}

// Latest handles GET /v1/progress.
func (h *ProgressHandler) Latest(w http.ResponseWriter, _ *http.Request) {
	if h.reader == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "progress reporting disabled")
		return
	}
	snap, ok := h.reader.Latest()
	if !ok {
		writeError(h.logger, w, http.StatusNotFound, "no session progress yet")
		return
	}
	h.write(w, snap)
}

// Get handles GET /v1/progress/{session_id}.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "progress reporting disabled")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid session_id")
		return
	}
	snap, ok := h.reader.Snapshot(id)
	if !ok {
		writeError(h.logger, w, http.StatusNotFound, "session not found")
		return
	}
	h.write(w, snap)
}

func (h *ProgressHandler) write(w http.ResponseWriter, snap sinks.Snapshot) {
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"progress":  snap,
		"processed": snap.Processed(),
	})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "session_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, err //nolint:wrapcheck // caller maps to 400
	}
	return id, nil
}
