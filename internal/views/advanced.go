package views

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/gateway"
	"github.com/ashureev/batteryshell/internal/module"
)

// ChipLoadDelay is how long the advanced tools view waits before loading the chip.
const ChipLoadDelay = time.Second

// Memory editor element ids.
const (
	regionMemoryHeader  = "memory-header"
	regionMemoryHex     = "memory-hex"
	regionMemoryASCII   = "memory-ascii"
	regionMemoryAddress = "memory-address"
)

// AdvancedTools owns the log surface, the memory editor and the chip slot.
type AdvancedTools struct {
	env  *module.Env
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// Handlers implements module.Module.
func (a *AdvancedTools) Handlers() map[string]module.Handler {
	return map[string]module.Handler{
		"read_memory":    a.readMemory,
		"clear_memory":   a.clearMemory,
		"clear_main_log": a.clearLog,
		"save_main_log":  a.saveLog,
		"load_log_file":  a.loadLog,
	}
}

// OnActivate warns when no adapter is connected, otherwise schedules the chip load.
func (a *AdvancedTools) OnActivate(ctx context.Context, env *module.Env) error {
	a.env = env
	ctx, a.stop = context.WithCancel(ctx)

	if !connected(env) {
		env.Log.Warn("Device not connected. Please connect to enable advanced tools.")
		return nil
	}

	adapter := env.Session.Snapshot().SelectedAdapterID
	if adapter == "" || env.Chips == nil {
		return nil
	}
	env.Log.Info("Loading chip information for %s...", adapter)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := clock.Sleep(ctx, clock.OrReal(env.Clock), ChipLoadDelay); err != nil {
			return
		}
		env.Chips.Request(adapter)
		env.Log.Success("Chip detected: %s", adapter)
	}()
	return nil
}

// OnDeactivate clears the log and unloads the chip.
func (a *AdvancedTools) OnDeactivate(ctx context.Context) error {
	if a.stop != nil {
		a.stop()
	}
	a.wg.Wait()
	if a.env == nil {
		return nil
	}
	a.env.Log.Clear()
	if a.env.Chips != nil {
		if err := a.env.Chips.Unload(ctx); err != nil {
			return fmt.Errorf("unload chip: %w", err)
		}
	}
	return nil
}

func (a *AdvancedTools) readMemory(ctx context.Context, env *module.Env, args module.Args) error {
	address := args.Get("address", "")
	if address == "" {
		notify(env, "Please enter a memory address", domain.SeverityWarning)
		return nil
	}
	if !connected(env) {
		notify(env, "Device not connected", domain.SeverityError)
		return nil
	}
	if err := requireGateway(env); err != nil {
		return err
	}

	length := gateway.DefaultReadLength
	if raw := args.Get("length", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: invalid length %q", domain.ErrInvalidInput, raw)
		}
		length = n
	}

	env.Log.Info("Reading memory at address: %s", address)
	dump, err := env.Gateway.ReadMemory(ctx, address, length)
	if err != nil {
		return fmt.Errorf("read memory at %s: %w", address, err)
	}
	env.Slot.SetRegions(map[string]string{
		regionMemoryHeader: "Address: " + address,
		regionMemoryHex:    dump.Data,
		regionMemoryASCII:  dump.ASCII,
	})
	env.Log.Success("Memory read completed: %s", address)
	return nil
}

func (a *AdvancedTools) clearMemory(_ context.Context, env *module.Env, _ module.Args) error {
	env.Slot.SetRegions(map[string]string{
		regionMemoryHeader:  "",
		regionMemoryHex:     "",
		regionMemoryASCII:   "",
		regionMemoryAddress: "",
	})
	return nil
}

func (a *AdvancedTools) clearLog(_ context.Context, env *module.Env, _ module.Args) error {
	env.Log.Clear()
	notify(env, "Main log cleared", domain.SeverityInfo)
	return nil
}

func (a *AdvancedTools) saveLog(ctx context.Context, env *module.Env, _ module.Args) error {
	if env.Log.Len() == 0 {
		notify(env, "No log entries to save", domain.SeverityWarning)
		return nil
	}
	if env.Archive == nil {
		return fmt.Errorf("%w: no archive configured", domain.ErrInvalidInput)
	}

	var buf bytes.Buffer
	if _, err := env.Log.ExportText(&buf); err != nil {
		return fmt.Errorf("export log: %w", err)
	}
	_, err := env.Archive.SaveSnapshot(ctx, domain.Snapshot{
		Kind:       domain.SnapshotLog,
		Payload:    buf.String(),
		ExportedBy: env.ExportedBy,
	})
	if err != nil {
		return fmt.Errorf("save log: %w", err)
	}
	notify(env, "Log saved successfully", domain.SeveritySuccess)
	return nil
}

func (a *AdvancedTools) loadLog(_ context.Context, env *module.Env, args module.Args) error {
	content := args["content"]
	if strings.TrimSpace(content) == "" {
		notify(env, "No log file provided", domain.SeverityWarning)
		return nil
	}
	n, err := env.Log.ImportText(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("load log file: %w", err)
	}
	notify(env, fmt.Sprintf("Loaded %d log entries", n), domain.SeveritySuccess)
	return nil
}
