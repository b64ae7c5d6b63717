// Package stream pushes shell events to browser clients over a websocket and
// accepts navigation and command messages on the same connection.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/batteryshell/internal/app"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/middleware"
	"github.com/ashureev/batteryshell/internal/module"
)

const writeTimeout = 5 * time.Second

// Handler serves /ws/shell.
type Handler struct {
	app            *app.App
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(a *app.App, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{app: a, allowedOrigins: allowedOrigins, isDev: isDev, logger: logger}
}

// clientMessage is sent by the browser.
type clientMessage struct {
	Type    string      `json:"type"`
	Module  string      `json:"module,omitempty"`
	Command string      `json:"command,omitempty"`
	Element string      `json:"element,omitempty"`
	Args    module.Args `json:"args,omitempty"`
}

// serverMessage carries replies that are not hub events.
type serverMessage struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	clientID := uuid.NewString()
	log := h.logger.With("client_id", clientID)
	log.Info("Shell client connected", "ip", r.RemoteAddr, "since", since)

	hub := h.app.Hub
	feed := hub.Subscribe(clientID)
	defer hub.Unsubscribe(clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, serverMessage{Type: "state", Data: h.app.State()}); err != nil {
		log.Debug("Failed to send initial state", "error", err)
		return
	}
	replayed := since
	for _, ev := range hub.Since(since) {
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			log.Debug("Failed to replay event", "error", err)
			return
		}
		replayed = ev.ID
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, feed, replayed, log)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, log)
	}()
	wg.Wait()
	log.Info("Shell client disconnected")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || middleware.OriginAllowed(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// outputLoop forwards hub events, skipping any already sent during replay.
func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, feed <-chan events.Event, after int64, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				log.Debug("Event feed closed")
				return
			}
			if ev.ID <= after {
				continue
			}
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				log.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, log *slog.Logger) {
	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				log.Debug("WebSocket closed by client")
			} else {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "malformed message"}, log)
			continue
		}

		switch msg.Type {
		case "ping":
			h.reply(ctx, ws, serverMessage{Type: "pong"}, log)
		case "navigate":
			// Navigation waits for the loader, so it must not stall reads.
			pending.Add(1)
			go func() {
				defer pending.Done()
				res, err := h.app.Navigate(ctx, msg.Module)
				out := serverMessage{Type: "navigated", Data: map[string]any{
					"target":     res.Target,
					"active":     res.Active,
					"superseded": res.Superseded,
				}}
				if err != nil {
					out.Error = err.Error()
				}
				h.reply(ctx, ws, out, log)
			}()
		case "execute":
			out := serverMessage{Type: "accepted", Data: map[string]string{"command": msg.Command}}
			if err := h.app.Execute(context.WithoutCancel(ctx), msg.Command, msg.Args); err != nil {
				out = serverMessage{Type: "error", Error: err.Error()}
			}
			h.reply(ctx, ws, out, log)
		case "press":
			command, err := h.app.Press(context.WithoutCancel(ctx), msg.Element, msg.Args)
			out := serverMessage{Type: "accepted", Data: map[string]string{"element": msg.Element, "command": command}}
			if err != nil {
				out = serverMessage{Type: "error", Error: err.Error()}
			}
			h.reply(ctx, ws, out, log)
		default:
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "unknown message type: " + msg.Type}, log)
		}
	}
}

func (h *Handler) reply(ctx context.Context, ws *websocket.Conn, msg serverMessage, log *slog.Logger) {
	if err := h.writeJSON(ctx, ws, msg); err != nil {
		log.Debug("Failed to send reply", "type", msg.Type, "error", err)
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
