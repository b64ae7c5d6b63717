package views

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
)

// Calibrated quantities.
const (
	QuantityVoltage     = "voltage"
	QuantityCurrent     = "current"
	QuantityTemperature = "temperature"
	QuantityCapacity    = "capacity"
)

var quantityUnits = map[string]string{
	QuantityVoltage:     "V",
	QuantityCurrent:     "A",
	QuantityTemperature: "°C",
	QuantityCapacity:    "mAh",
}

// Factor is the correction applied to one measured quantity.
type Factor struct {
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
}

// Calibration keeps per-quantity correction factors for the session.
type Calibration struct {
	module.Base
	env *module.Env

	mu      sync.Mutex
	factors map[string]Factor
}

// NewCalibration returns a calibration view at factory defaults.
func NewCalibration() *Calibration {
	return &Calibration{factors: factoryDefaults()}
}

func factoryDefaults() map[string]Factor {
	f := make(map[string]Factor, len(quantityUnits))
	for q := range quantityUnits {
		f[q] = Factor{Scale: 1}
	}
	return f
}

// Handlers implements module.Module.
func (c *Calibration) Handlers() map[string]module.Handler {
	return map[string]module.Handler{
		"calibrate":         c.calibrate,
		"save_calibration":  c.save,
		"reset_calibration": c.reset,
	}
}

// OnActivate renders the current factors.
func (c *Calibration) OnActivate(_ context.Context, env *module.Env) error {
	c.env = env
	c.render()
	return nil
}

// Factors returns a copy of the current factors.
func (c *Calibration) Factors() map[string]Factor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Factor, len(c.factors))
	for k, v := range c.factors {
		out[k] = v
	}
	return out
}

// calibrate sets offset = reference - measured. Without a "measured" argument
// the current reading is taken from the device.
func (c *Calibration) calibrate(ctx context.Context, env *module.Env, args module.Args) error {
	quantity := args.Get("quantity", "")
	unit, ok := quantityUnits[quantity]
	if !ok {
		return fmt.Errorf("%w: unknown quantity %q", domain.ErrInvalidInput, quantity)
	}
	reference, err := parseNumber("reference", args.Get("reference", ""))
	if err != nil {
		return err
	}

	var measured float64
	if raw := args.Get("measured", ""); raw != "" {
		if measured, err = parseNumber("measured", raw); err != nil {
			return err
		}
	} else if measured, err = c.measure(ctx, env, quantity); err != nil {
		return err
	}

	c.mu.Lock()
	f := c.factors[quantity]
	f.Offset = reference - measured
	c.factors[quantity] = f
	c.mu.Unlock()

	env.Log.Success("Calibrating %s with reference: %s%s (offset %s)", quantity, formatFloat(reference), unit, formatFloat(f.Offset))
	c.render()
	return nil
}

func (c *Calibration) measure(ctx context.Context, env *module.Env, quantity string) (float64, error) {
	if quantity == QuantityCapacity {
		return 0, fmt.Errorf("%w: capacity calibration needs a measured value", domain.ErrInvalidInput)
	}
	if !connected(env) {
		return 0, domain.ErrNotConnected
	}
	if err := requireGateway(env); err != nil {
		return 0, err
	}
	info, err := env.Gateway.GetBatteryInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", quantity, err)
	}
	switch quantity {
	case QuantityVoltage:
		return info.Voltage, nil
	case QuantityCurrent:
		return info.Current, nil
	default:
		return float64(info.Temperature), nil
	}
}

func (c *Calibration) save(ctx context.Context, env *module.Env, _ module.Args) error {
	if env.Archive == nil {
		return fmt.Errorf("%w: no archive configured", domain.ErrInvalidInput)
	}
	_, err := env.Archive.SaveSnapshot(ctx, domain.Snapshot{
		Kind:       domain.SnapshotCalibration,
		Payload:    c.Factors(),
		ExportedBy: env.ExportedBy,
	})
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	notify(env, "Calibration data saved successfully", domain.SeveritySuccess)
	return nil
}

func (c *Calibration) reset(_ context.Context, env *module.Env, _ module.Args) error {
	c.mu.Lock()
	c.factors = factoryDefaults()
	c.mu.Unlock()
	c.render()
	notify(env, "Calibration reset to factory defaults", domain.SeverityInfo)
	return nil
}

func (c *Calibration) render() {
	if c.env == nil || c.env.Slot == nil {
		return
	}
	factors := c.Factors()
	regions := make(map[string]string, 2*len(factors))
	for q, f := range factors {
		regions[q+"-offset"] = formatFloat(f.Offset)
		regions[q+"-scale"] = formatFloat(f.Scale)
	}
	c.env.Slot.SetRegions(regions)
}

func parseNumber(name, raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidInput, name, raw)
	}
	return v, nil
}
