package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketChannel is a gateway.Channel over a websocket connection.
type WebSocketChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialWebSocket connects to a host websocket endpoint such as ws://localhost:9091/host.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocketChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend host at %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	logger.Info("Connected to backend host", "address", url, "transport", "websocket")
	return &WebSocketChannel{conn: conn, logger: logger}, nil
}

// Send writes one text frame.
func (c *WebSocketChannel) Send(ctx context.Context, msg []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

// Receive reads the next frame.
func (c *WebSocketChannel) Receive(ctx context.Context) ([]byte, error) {
	_, msg, err := c.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("websocket receive: %w", err)
	}
	return msg, nil
}

// Close sends a normal closure.
func (c *WebSocketChannel) Close() error {
	if err := c.conn.Close(websocket.StatusNormalClosure, "shell closed"); err != nil {
		c.logger.Debug("Failed to close backend websocket", "error", err)
	}
	return nil
}

// WebSocketHost serves the backend protocol to websocket clients.
type WebSocketHost struct {
	responder Responder
	logger    *slog.Logger
}

// NewWebSocketHost creates a host handler.
func NewWebSocketHost(r Responder, logger *slog.Logger) *WebSocketHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHost{responder: r, logger: logger}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "host closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	defer wg.Wait()

	h.logger.Info("Backend websocket opened", "ip", r.RemoteAddr)
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Backend websocket closed by client")
			} else if ctx.Err() == nil {
				h.logger.Warn("Backend websocket read error", "error", err)
			}
			cancel()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			out, ok := answer(ctx, h.responder, raw, h.logger)
			if !ok {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := ws.Write(ctx, websocket.MessageText, out); err != nil {
				h.logger.Debug("Failed to send host response", "error", err)
			}
		}()
	}
}
