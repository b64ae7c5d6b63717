// Package api provides HTTP handlers for the shell API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batteryshell/internal/app"
	"github.com/ashureev/batteryshell/internal/domain"
)

const maxBodyBytes = 1 << 20

// Handler serves the shell API on top of a running App.
type Handler struct {
	app    *app.App
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(a *app.App, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{app: a, logger: logger}
}

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/modules", h.Modules)
		r.Get("/state", h.State)
		r.Post("/navigate", h.Navigate)
		r.Post("/execute", h.Execute)
		r.Post("/surface/{element}/press", h.Press)

		r.Get("/adapters", h.Adapters)
		r.Post("/session/select", h.SelectAdapter)
		r.Post("/session/connect", h.Connect)
		r.Post("/session/disconnect", h.Disconnect)

		r.Get("/log", h.GetLog)
		r.Delete("/log", h.ClearLog)
		r.Get("/log/export", h.ExportLog)
		r.Post("/log/import", h.ImportLog)

		r.Post("/snapshots", h.CreateSnapshot)
		r.Get("/snapshots", h.ListSnapshots)
		r.Get("/snapshots/{id}", h.GetSnapshot)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var backend *domain.BackendError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrUnsupportedCommand):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTransport), errors.As(err, &backend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
}
