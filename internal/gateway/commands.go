package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/batteryshell/internal/domain"
)

// Backend command names.
const (
	CmdGetAdapters       = "GetAdapters"
	CmdConnectAdapter    = "ConnectAdapter"
	CmdDisconnectAdapter = "DisconnectAdapter"
	CmdGetBatteryInfo    = "GetBatteryInfo"
	CmdReadMemory        = "ReadMemory"
	CmdWriteMemory       = "WriteMemory"
	CmdExecuteFunction   = "ExecuteFunction"
)

// DefaultReadLength is the number of bytes ReadMemory requests when length is zero.
const DefaultReadLength = 16

// Commands lists every command the backend protocol defines.
func Commands() []string {
	return []string{
		CmdGetAdapters, CmdConnectAdapter, CmdDisconnectAdapter, CmdGetBatteryInfo,
		CmdReadMemory, CmdWriteMemory, CmdExecuteFunction,
	}
}

func decode[T any](ctx context.Context, g *Gateway, command string, payload any) (T, error) {
	var out T
	raw, err := g.Send(ctx, command, payload)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &domain.OpError{Op: "decode", Target: command, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	return out, nil
}

func invalid(command, msg string) error {
	return &domain.OpError{Op: "send", Target: command, Err: fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)}
}

// GetAdapters lists the adapters the host can see.
func (g *Gateway) GetAdapters(ctx context.Context) ([]string, error) {
	return decode[[]string](ctx, g, CmdGetAdapters, nil)
}

// ConnectAdapter opens adapter on the host.
func (g *Gateway) ConnectAdapter(ctx context.Context, adapter string) (domain.AdapterResult, error) {
	if strings.TrimSpace(adapter) == "" {
		return domain.AdapterResult{}, invalid(CmdConnectAdapter, "adapter is required")
	}
	return decode[domain.AdapterResult](ctx, g, CmdConnectAdapter, map[string]any{"adapter": adapter})
}

// DisconnectAdapter closes the open adapter.
func (g *Gateway) DisconnectAdapter(ctx context.Context) (domain.AdapterResult, error) {
	return decode[domain.AdapterResult](ctx, g, CmdDisconnectAdapter, nil)
}

// GetBatteryInfo reads the pack gauge.
func (g *Gateway) GetBatteryInfo(ctx context.Context) (domain.BatteryInfo, error) {
	return decode[domain.BatteryInfo](ctx, g, CmdGetBatteryInfo, nil)
}

// ReadMemory reads length bytes at address. Zero length reads DefaultReadLength bytes.
func (g *Gateway) ReadMemory(ctx context.Context, address string, length int) (domain.MemoryDump, error) {
	if strings.TrimSpace(address) == "" {
		return domain.MemoryDump{}, invalid(CmdReadMemory, "address is required")
	}
	if length < 0 {
		return domain.MemoryDump{}, invalid(CmdReadMemory, "length must not be negative")
	}
	if length == 0 {
		length = DefaultReadLength
	}
	return decode[domain.MemoryDump](ctx, g, CmdReadMemory, map[string]any{"address": address, "length": length})
}

// WriteMemory writes data at address.
func (g *Gateway) WriteMemory(ctx context.Context, address, data string) (domain.WriteResult, error) {
	if strings.TrimSpace(address) == "" {
		return domain.WriteResult{}, invalid(CmdWriteMemory, "address is required")
	}
	if data == "" {
		return domain.WriteResult{}, invalid(CmdWriteMemory, "data is required")
	}
	return decode[domain.WriteResult](ctx, g, CmdWriteMemory, map[string]any{"address": address, "data": data})
}

// ExecuteFunction runs a named chip function with parameters.
func (g *Gateway) ExecuteFunction(ctx context.Context, function string, params map[string]any) (domain.FunctionResult, error) {
	if strings.TrimSpace(function) == "" {
		return domain.FunctionResult{}, invalid(CmdExecuteFunction, "function is required")
	}
	if params == nil {
		params = map[string]any{}
	}
	return decode[domain.FunctionResult](ctx, g, CmdExecuteFunction, map[string]any{"function": function, "parameters": params})
}
