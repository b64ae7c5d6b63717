package api

import (
	"context"
	"net/http"
)

type adapterRequest struct {
	Adapter string `json:"adapter"`
}

// Adapters rediscovers adapters through the gateway.
func (h *Handler) Adapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := h.app.Session.RefreshAdapters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"adapters": adapters, "session": h.app.Session.Snapshot()})
}

// SelectAdapter records the adapter the next connect uses.
func (h *Handler) SelectAdapter(w http.ResponseWriter, r *http.Request) {
	var req adapterRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.app.Session.SelectAdapter(req.Adapter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Connect connects the given or selected adapter and returns the resulting state.
// The transition outlives the request so a dropped client cannot strand it.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req adapterRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.app.Session.Connect(context.WithoutCancel(r.Context()), req.Adapter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Disconnect disconnects the adapter or cancels a pending connect.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Session.Disconnect(context.WithoutCancel(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}
