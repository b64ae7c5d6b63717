// Package bridge carries backend protocol messages over gRPC or websocket,
// on both the shell side (gateway channels) and the host side (servers).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/gateway"
)

// Responder answers one backend command. *gateway.Simulator implements it.
type Responder interface {
	Handle(ctx context.Context, command string, payload any) (json.RawMessage, error)
}

// answer runs one request through r and encodes the response envelope.
func answer(ctx context.Context, r Responder, raw []byte, logger *slog.Logger) ([]byte, bool) {
	var req struct {
		RequestID   int64          `json:"requestId"`
		CommandName string         `json:"commandName"`
		Payload     map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Warn("Dropping malformed host request", "error", err)
		return nil, false
	}

	resp := gateway.Response{RequestID: req.RequestID}
	data, err := r.Handle(ctx, req.CommandName, req.Payload)
	switch {
	case err == nil:
		resp.Success = true
		resp.Data = data
	case errors.Is(err, context.Canceled):
		return nil, false
	default:
		resp.Error = hostMessage(err)
		logger.Debug("Host command failed", "command", req.CommandName, "error", err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to encode host response", "error", err)
		return nil, false
	}
	return out, true
}

func hostMessage(err error) string {
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error()
	}
	return err.Error()
}
