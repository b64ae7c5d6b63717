package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/batteryshell/internal/domain"
)

// GetLog returns the log entries in order.
func (h *Handler) GetLog(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"entries": h.app.Log.Entries()})
}

// ClearLog empties the log.
func (h *Handler) ClearLog(w http.ResponseWriter, _ *http.Request) {
	h.app.Log.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ExportLog downloads the log as "[timestamp] message" lines.
func (h *Handler) ExportLog(w http.ResponseWriter, _ *http.Request) {
	name := fmt.Sprintf("battery_log_%s.txt", h.app.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := h.app.Log.ExportText(w); err != nil {
		h.logger.Debug("Log export interrupted", "error", err)
	}
}

type importRequest struct {
	Content string `json:"content"`
}

// ImportLog replaces the log with an uploaded text export. The body is either
// the raw text or a JSON object carrying it in "content".
func (h *Handler) ImportLog(w http.ResponseWriter, r *http.Request) {
	var src io.Reader = io.LimitReader(r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req importRequest
		if err := decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		src = strings.NewReader(req.Content)
	}
	n, err := h.app.Log.ImportText(src)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	h.app.Notices.Show(fmt.Sprintf("Loaded %d log entries", n), domain.SeveritySuccess)
	JSON(w, http.StatusOK, map[string]int{"loaded": n})
}
