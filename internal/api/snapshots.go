package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

var errNoArchive = errors.New("snapshot archive is not configured")

// CreateSnapshot archives a client-supplied document.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.app.Archive == nil {
		Error(w, http.StatusServiceUnavailable, errNoArchive.Error())
		return
	}
	var snap domain.Snapshot
	if err := decode(r, &snap); err != nil {
		h.fail(w, r, err)
		return
	}
	snap.ID = ""
	if snap.ExportedBy == "" {
		snap.ExportedBy = h.app.ExportedBy()
	}
	saved, err := h.app.Archive.SaveSnapshot(r.Context(), snap)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.app.Hub.Publish(events.TypeSnapshot, "archive", map[string]string{"id": saved.ID, "kind": saved.Kind})
	JSON(w, http.StatusCreated, saved)
}

// ListSnapshots returns archived snapshots, newest first.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.app.Archive == nil {
		Error(w, http.StatusServiceUnavailable, errNoArchive.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	snaps, err := h.app.Archive.ListSnapshots(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// GetSnapshot returns one archived snapshot.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.app.Archive == nil {
		Error(w, http.StatusServiceUnavailable, errNoArchive.Error())
		return
	}
	snap, err := h.app.Archive.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if snap == nil {
		Error(w, http.StatusNotFound, "snapshot not found")
		return
	}
	JSON(w, http.StatusOK, snap)
}
