package views

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
)

// RefreshInterval is the auto-refresh period of the battery info view.
const RefreshInterval = 5 * time.Second

// BatteryInfo renders GetBatteryInfo into the battery-info regions and
// refreshes it periodically while an adapter is connected.
type BatteryInfo struct {
	env  *module.Env
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu         sync.Mutex
	last       domain.BatteryInfo
	lastUpdate time.Time
}

// Handlers implements module.Module.
func (b *BatteryInfo) Handlers() map[string]module.Handler {
	return map[string]module.Handler{
		"refresh_data": func(ctx context.Context, _ *module.Env, _ module.Args) error {
			return b.Refresh(ctx)
		},
		"export_data": func(ctx context.Context, _ *module.Env, _ module.Args) error {
			_, err := b.Export(ctx)
			return err
		},
	}
}

// OnActivate renders the first reading and starts auto-refresh when connected.
func (b *BatteryInfo) OnActivate(ctx context.Context, env *module.Env) error {
	b.env = env
	ctx, b.stop = context.WithCancel(ctx)

	if err := b.Refresh(ctx); err != nil {
		loggerOf(env).Warn("Initial battery refresh failed", "error", err)
	}
	if connected(env) {
		b.wg.Add(1)
		go b.autoRefresh(ctx)
	}
	return nil
}

// OnDeactivate stops auto-refresh.
func (b *BatteryInfo) OnDeactivate(context.Context) error {
	if b.stop != nil {
		b.stop()
	}
	b.wg.Wait()
	return nil
}

func (b *BatteryInfo) autoRefresh(ctx context.Context) {
	defer b.wg.Done()
	logger := loggerOf(b.env)
	logger.Debug("Auto-refresh started", "interval", RefreshInterval)
	for {
		if err := clock.Sleep(ctx, clock.OrReal(b.env.Clock), RefreshInterval); err != nil {
			logger.Debug("Auto-refresh stopped")
			return
		}
		if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Auto-refresh failed", "error", err)
		}
	}
}

// Refresh fetches battery data and renders it.
func (b *BatteryInfo) Refresh(ctx context.Context) error {
	env := b.env
	notify(env, "Refreshing battery data...", domain.SeverityInfo)

	info, err := b.read(ctx)
	if err != nil {
		notify(env, "Failed to refresh battery data", domain.SeverityError)
		return fmt.Errorf("refresh battery data: %w", err)
	}

	env.Slot.SetRegions(Regions(info))

	b.mu.Lock()
	b.last = info
	b.lastUpdate = clock.OrReal(env.Clock).Now()
	b.mu.Unlock()

	notify(env, "Battery data updated successfully", domain.SeveritySuccess)
	return nil
}

// Export reads fresh battery data and archives it as a snapshot.
func (b *BatteryInfo) Export(ctx context.Context) (domain.Snapshot, error) {
	env := b.env
	info, err := b.read(ctx)
	if err == nil && env.Archive == nil {
		err = fmt.Errorf("%w: no archive configured", domain.ErrInvalidInput)
	}
	var snap domain.Snapshot
	if err == nil {
		snap, err = env.Archive.SaveSnapshot(ctx, domain.Snapshot{
			Kind:       domain.SnapshotBattery,
			Timestamp:  clock.OrReal(env.Clock).Now().UTC().Format(time.RFC3339Nano),
			Payload:    map[string]any{"batteryInfo": info},
			ExportedBy: env.ExportedBy,
		})
	}
	if err != nil {
		notify(env, "Failed to export battery data", domain.SeverityError)
		return domain.Snapshot{}, fmt.Errorf("export battery data: %w", err)
	}
	notify(env, "Battery data exported successfully", domain.SeveritySuccess)
	return snap, nil
}

// Last returns the most recent reading and when it was taken.
func (b *BatteryInfo) Last() (domain.BatteryInfo, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.lastUpdate
}

func (b *BatteryInfo) read(ctx context.Context) (domain.BatteryInfo, error) {
	if err := requireGateway(b.env); err != nil {
		return domain.BatteryInfo{}, err
	}
	return b.env.Gateway.GetBatteryInfo(ctx)
}

// Regions maps a reading onto the battery-info element ids.
func Regions(info domain.BatteryInfo) map[string]string {
	pct := func(v int) string { return strconv.Itoa(v) + "%" }
	return map[string]string{
		"charge-percentage": pct(info.ChargePercentage),
		"charge-status":     info.Status,
		"charge-fill":       pct(info.ChargePercentage),
		"voltage":           formatFloat(info.Voltage) + "V",
		"current":           formatFloat(info.Current) + "A",
		"temperature":       strconv.Itoa(info.Temperature) + "°C",
		"temp-status":       domain.TemperatureStatus(info.Temperature),
		"temp-fill":         strconv.FormatFloat(domain.TemperaturePercentage(info.Temperature), 'f', 0, 64) + "%",
		"health-percentage": pct(info.Health),
		"health-status":     domain.HealthStatus(info.Health),
		"health-circle":     strconv.Itoa(info.Health) + ", 100",
	}
}
