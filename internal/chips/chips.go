// Package chips holds the behavior of the chip modules loaded into the
// advanced tools chip slot.
package chips

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
)

// DefaultEEPROMAddress is read when read_eeprom is given no address.
const DefaultEEPROMAddress = "0x0000"

// Register adds every chip behavior to t. Chips without an entry fall back
// to the default descriptor and the dispatcher's default handler.
func Register(t *module.Table) {
	t.Register(registry.ChipEV2300, func() module.Module { return &EV2300{} })
}

// EV2300 drives a gas gauge through an EV2300 interface board.
type EV2300 struct {
	module.Base
}

// Handlers implements module.Module. Bound commands missing here run the
// default handler.
func (e *EV2300) Handlers() map[string]module.Handler {
	return map[string]module.Handler{
		"unseal_chip":       functionHandler("unseal", "Chip unsealed"),
		"seal_chip":         functionHandler("seal", "Chip sealed"),
		"clear_errors":      functionHandler("clear_errors", "Errors cleared"),
		"read_battery_info": readBatteryInfo,
		"read_eeprom":       readEEPROM,
		"write_eeprom":      writeEEPROM,
	}
}

// OnActivate implements module.Module.
func (e *EV2300) OnActivate(_ context.Context, env *module.Env) error {
	if env.Logger != nil {
		env.Logger.Debug("Chip module loaded", "chip", registry.ChipEV2300)
	}
	return nil
}

func ready(env *module.Env) error {
	if env.Session != nil && !env.Session.IsConnected() {
		return domain.ErrNotConnected
	}
	if env.Gateway == nil {
		return fmt.Errorf("%w: no gateway configured", domain.ErrTransport)
	}
	return nil
}

func functionHandler(function, done string) module.Handler {
	return func(ctx context.Context, env *module.Env, args module.Args) error {
		if err := ready(env); err != nil {
			return err
		}
		env.Log.Info("Executing %s...", strings.ReplaceAll(function, "_", " "))
		params := make(map[string]any, len(args))
		for k, v := range args {
			params[k] = v
		}
		res, err := env.Gateway.ExecuteFunction(ctx, function, params)
		if err != nil {
			return fmt.Errorf("%s: %w", function, err)
		}
		env.Log.Success("%s (%s, return value %d)", done, res.Result, res.ReturnValue)
		return nil
	}
}

func readBatteryInfo(ctx context.Context, env *module.Env, _ module.Args) error {
	if err := ready(env); err != nil {
		return err
	}
	info, err := env.Gateway.GetBatteryInfo(ctx)
	if err != nil {
		return fmt.Errorf("read battery info: %w", err)
	}
	env.Log.Success("Battery: %d%% %s, %.2fV, %.2fA, %d°C, health %d%% (%s)",
		info.ChargePercentage, info.Status, info.Voltage, info.Current,
		info.Temperature, info.Health, domain.HealthStatus(info.Health))
	return nil
}

func readEEPROM(ctx context.Context, env *module.Env, args module.Args) error {
	if err := ready(env); err != nil {
		return err
	}
	address := args.Get("address", DefaultEEPROMAddress)
	dump, err := env.Gateway.ReadMemory(ctx, address, 0)
	if err != nil {
		return fmt.Errorf("read eeprom at %s: %w", address, err)
	}
	env.Log.Success("EEPROM %s: %s |%s|", dump.Address, dump.Data, dump.ASCII)
	return nil
}

func writeEEPROM(ctx context.Context, env *module.Env, args module.Args) error {
	address, data := args.Get("address", ""), args.Get("data", "")
	if address == "" || data == "" {
		return fmt.Errorf("%w: write_eeprom needs address and data", domain.ErrInvalidInput)
	}
	if err := ready(env); err != nil {
		return err
	}
	res, err := env.Gateway.WriteMemory(ctx, address, data)
	if err != nil {
		return fmt.Errorf("write eeprom at %s: %w", address, err)
	}
	if !res.Success {
		return &domain.BackendError{Command: "WriteMemory", Message: "write rejected"}
	}
	env.Log.Success("Wrote %d bytes at %s", res.BytesWritten, address)
	return nil
}
