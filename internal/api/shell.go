package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
)

type moduleInfo struct {
	domain.ModuleDescriptor
	View bool `json:"view"`
}

type navigateRequest struct {
	Module string `json:"module"`
}

type navigateResponse struct {
	Target     string              `json:"target"`
	Active     domain.ActiveModule `json:"active"`
	Superseded bool                `json:"superseded,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type executeRequest struct {
	Command string      `json:"command"`
	Args    module.Args `json:"args"`
}

// Modules lists every registered module descriptor.
func (h *Handler) Modules(w http.ResponseWriter, _ *http.Request) {
	views := make(map[string]bool)
	for _, id := range registry.Views() {
		views[id] = true
	}
	var out []moduleInfo
	for _, id := range h.app.Registry.IDs() {
		out = append(out, moduleInfo{ModuleDescriptor: h.app.Registry.Describe(id), View: views[id]})
	}
	JSON(w, http.StatusOK, map[string]any{"views": registry.Views(), "modules": out})
}

// State returns a snapshot of the whole shell.
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.app.State())
}

// Navigate switches the view slot and reports the outcome.
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.app.Navigate(r.Context(), req.Module)
	body := navigateResponse{Target: res.Target, Active: res.Active, Superseded: res.Superseded}
	for _, warn := range res.Warnings {
		body.Warnings = append(body.Warnings, warn.Error())
	}
	if err != nil {
		body.Error = err.Error()
		JSON(w, StatusFor(err), body)
		return
	}
	JSON(w, http.StatusOK, body)
}

// Execute dispatches a command. Completion is reported on the log.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.app.Execute(r.Context(), req.Command, req.Args); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"command": req.Command})
}

// Press dispatches the command bound to a surface element.
func (h *Handler) Press(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Args module.Args `json:"args"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	element := chi.URLParam(r, "element")
	command, err := h.app.Press(r.Context(), element, req.Args)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"element": element, "command": command})
}
