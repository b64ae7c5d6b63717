package views

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/gateway"
	"github.com/ashureev/batteryshell/internal/logbook"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
	"github.com/ashureev/batteryshell/internal/shell"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	state domain.SessionState
}

func (s *fakeSession) Snapshot() domain.SessionState { return s.state }
func (s *fakeSession) IsConnected() bool {
	return s.state.ConnectionStatus == domain.Connected
}

type fakeChips struct {
	mu        sync.Mutex
	requested []string
	unloads   int
}

func (c *fakeChips) Request(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, id)
}

func (c *fakeChips) Unload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unloads++
	return nil
}

func (c *fakeChips) CurrentChip() string { return "" }

func (c *fakeChips) requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requested...)
}

type memArchive struct {
	mu    sync.Mutex
	saved []domain.Snapshot
}

func (a *memArchive) SaveSnapshot(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap.ID = "snap-1"
	a.saved = append(a.saved, snap)
	return snap, nil
}

type fixture struct {
	env     *module.Env
	clock   *clock.Fake
	hub     *events.Hub
	session *fakeSession
	chips   *fakeChips
	archive *memArchive
}

func newFixture(t *testing.T, markup string, connected bool) *fixture {
	t.Helper()
	fc := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := events.NewHub(256)
	slot := shell.NewSlot("view", hub)
	require.NoError(t, slot.Apply("test", markup))

	sess := &fakeSession{state: domain.SessionState{ConnectionStatus: domain.Disconnected}}
	if connected {
		sess.state = domain.SessionState{ConnectionStatus: domain.Connected, SelectedAdapterID: "EV2300"}
	}
	f := &fixture{
		clock:   fc,
		hub:     hub,
		session: sess,
		chips:   &fakeChips{},
		archive: &memArchive{},
	}
	f.env = &module.Env{
		Session: sess,
		Gateway: gateway.New(gateway.Options{
			Simulator: gateway.NewSimulator(gateway.SimulatorConfig{DelayMin: time.Nanosecond, Seed: 7}),
		}),
		Log:        logbook.New(fc, hub, nil),
		Slot:       slot,
		Notices:    shell.NewNotifier(hub, fc, nil),
		Chips:      f.chips,
		Archive:    f.archive,
		Clock:      fc,
		ExportedBy: "Smart Battery Tool v3.1.03",
	}
	return f
}

func (f *fixture) notices() []string {
	var out []string
	for _, ev := range f.hub.Since(0) {
		if n, ok := ev.Data.(shell.Notice); ok && ev.Type == events.TypeNotice {
			out = append(out, n.Message)
		}
	}
	return out
}

func (f *fixture) messages() []string {
	var out []string
	for _, e := range f.env.Log.Entries() {
		out = append(out, e.Message)
	}
	return out
}

const batteryMarkup = `<div>
<span id="charge-percentage"></span><span id="charge-status"></span>
<span id="voltage"></span><span id="current"></span>
<span id="temperature"></span><span id="temp-status"></span>
<span id="health-percentage"></span><span id="health-status"></span>
</div>`

func TestRegisterCoversEveryView(t *testing.T) {
	table := module.NewTable(false)
	Register(table)
	for _, id := range registry.Views() {
		m, err := table.Behavior(id)
		require.NoError(t, err, id)
		assert.NotNil(t, m)
	}
}

func TestRegionsDerivesLabels(t *testing.T) {
	r := Regions(domain.BatteryInfo{ChargePercentage: 85, Voltage: 12.6, Current: 2.1, Temperature: 32, Health: 92, Status: "Charging"})
	assert.Equal(t, "85%", r["charge-percentage"])
	assert.Equal(t, "12.6V", r["voltage"])
	assert.Equal(t, "2.1A", r["current"])
	assert.Equal(t, "32°C", r["temperature"])
	assert.Equal(t, "Normal", r["temp-status"])
	assert.Equal(t, "53%", r["temp-fill"])
	assert.Equal(t, "Excellent", r["health-status"])
}

func TestBatteryInfoRefreshRendersRegions(t *testing.T) {
	f := newFixture(t, batteryMarkup, false)
	b := &BatteryInfo{}

	require.NoError(t, b.OnActivate(context.Background(), f.env))
	defer b.OnDeactivate(context.Background())

	v, ok := f.env.Slot.Region("voltage")
	assert.True(t, ok)
	assert.Equal(t, "12.6V", v)
	v, _ = f.env.Slot.Region("health-status")
	assert.Equal(t, "Excellent", v)
	assert.Equal(t, []string{"Refreshing battery data...", "Battery data updated successfully"}, f.notices())

	last, at := b.Last()
	assert.Equal(t, 85, last.ChargePercentage)
	assert.Equal(t, f.clock.Now(), at)
}

func TestBatteryInfoAutoRefreshWhileConnected(t *testing.T) {
	f := newFixture(t, batteryMarkup, true)
	b := &BatteryInfo{}
	require.NoError(t, b.OnActivate(context.Background(), f.env))

	require.True(t, f.clock.BlockUntil(1, time.Second))
	f.clock.Advance(RefreshInterval)

	assert.Eventually(t, func() bool {
		return len(f.notices()) >= 4
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.OnDeactivate(context.Background()))
}

func TestBatteryInfoExportArchivesSnapshot(t *testing.T) {
	f := newFixture(t, batteryMarkup, false)
	b := &BatteryInfo{}
	require.NoError(t, b.OnActivate(context.Background(), f.env))
	defer b.OnDeactivate(context.Background())

	require.NoError(t, b.Handlers()["export_data"](context.Background(), f.env, nil))

	require.Len(t, f.archive.saved, 1)
	snap := f.archive.saved[0]
	assert.Equal(t, domain.SnapshotBattery, snap.Kind)
	assert.Equal(t, "Smart Battery Tool v3.1.03", snap.ExportedBy)
	assert.Equal(t, "2024-03-01T12:00:00Z", snap.Timestamp)
	assert.Contains(t, f.notices(), "Battery data exported successfully")
}

func TestAdvancedToolsWarnsWhenDisconnected(t *testing.T) {
	f := newFixture(t, `<div id="main-log-content"></div>`, false)
	a := &AdvancedTools{}

	require.NoError(t, a.OnActivate(context.Background(), f.env))
	assert.Equal(t, []string{"Device not connected. Please connect to enable advanced tools."}, f.messages())
	assert.Empty(t, f.chips.requests())

	require.NoError(t, a.OnDeactivate(context.Background()))
	assert.Zero(t, f.env.Log.Len())
	assert.Equal(t, 1, f.chips.unloads)
}

func TestAdvancedToolsLoadsChipAfterDelay(t *testing.T) {
	f := newFixture(t, `<div id="main-log-content"></div>`, true)
	a := &AdvancedTools{}
	require.NoError(t, a.OnActivate(context.Background(), f.env))

	require.True(t, f.clock.BlockUntil(1, time.Second))
	assert.Empty(t, f.chips.requests())
	f.clock.Advance(ChipLoadDelay)

	assert.Eventually(t, func() bool {
		return len(f.chips.requests()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"EV2300"}, f.chips.requests())
	require.NoError(t, a.OnDeactivate(context.Background()))
}

func TestAdvancedToolsTeardownCancelsPendingChipLoad(t *testing.T) {
	f := newFixture(t, `<div id="main-log-content"></div>`, true)
	a := &AdvancedTools{}
	require.NoError(t, a.OnActivate(context.Background(), f.env))
	require.True(t, f.clock.BlockUntil(1, time.Second))

	require.NoError(t, a.OnDeactivate(context.Background()))
	f.clock.Advance(ChipLoadDelay)
	assert.Empty(t, f.chips.requests())
}

func TestAdvancedToolsReadMemory(t *testing.T) {
	markup := `<div><input id="memory-address"><div id="memory-header"></div><div id="memory-hex"></div><div id="memory-ascii"></div></div>`
	f := newFixture(t, markup, true)
	a := &AdvancedTools{}
	h := a.Handlers()

	require.NoError(t, h["read_memory"](context.Background(), f.env, module.Args{"address": "0x0040"}))
	hdr, _ := f.env.Slot.Region("memory-header")
	assert.Equal(t, "Address: 0x0040", hdr)
	hex, _ := f.env.Slot.Region("memory-hex")
	assert.NotEmpty(t, hex)
	assert.Equal(t, []string{"Reading memory at address: 0x0040", "Memory read completed: 0x0040"}, f.messages())

	require.NoError(t, h["clear_memory"](context.Background(), f.env, nil))
	hex, _ = f.env.Slot.Region("memory-hex")
	assert.Empty(t, hex)
}

func TestAdvancedToolsReadMemoryGuards(t *testing.T) {
	f := newFixture(t, `<div></div>`, false)
	h := (&AdvancedTools{}).Handlers()

	require.NoError(t, h["read_memory"](context.Background(), f.env, nil))
	require.NoError(t, h["read_memory"](context.Background(), f.env, module.Args{"address": "0x10"}))
	assert.Equal(t, []string{"Please enter a memory address", "Device not connected"}, f.notices())
	assert.Zero(t, f.env.Log.Len())
}

func TestAdvancedToolsLogCommands(t *testing.T) {
	f := newFixture(t, `<div></div>`, false)
	h := (&AdvancedTools{}).Handlers()
	ctx := context.Background()

	require.NoError(t, h["save_main_log"](ctx, f.env, nil))
	assert.Empty(t, f.archive.saved)

	f.env.Log.Info("first")
	f.env.Log.Success("second")
	require.NoError(t, h["save_main_log"](ctx, f.env, nil))
	require.Len(t, f.archive.saved, 1)
	text := f.archive.saved[0].Payload.(string)
	assert.Contains(t, text, "] first\n[")

	require.NoError(t, h["clear_main_log"](ctx, f.env, nil))
	assert.Zero(t, f.env.Log.Len())

	require.NoError(t, h["load_log_file"](ctx, f.env, module.Args{"content": text + "\ngarbage\n"}))
	assert.Equal(t, []string{"first", "second"}, f.messages())
	assert.Equal(t, []string{
		"No log entries to save",
		"Log saved successfully",
		"Main log cleared",
		"Loaded 2 log entries",
	}, f.notices())
}

func TestCalibrationOffsets(t *testing.T) {
	markup := `<div><span id="voltage-offset"></span><span id="capacity-offset"></span></div>`
	f := newFixture(t, markup, true)
	c := NewCalibration()
	require.NoError(t, c.OnActivate(context.Background(), f.env))
	h := c.Handlers()
	ctx := context.Background()

	require.NoError(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "capacity", "reference": "2500", "measured": "2450"}))
	assert.Equal(t, 50.0, c.Factors()[QuantityCapacity].Offset)
	v, _ := f.env.Slot.Region("capacity-offset")
	assert.Equal(t, "50", v)

	// Measured voltage comes from the simulated device (12.6V).
	require.NoError(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "voltage", "reference": "12.5"}))
	assert.InDelta(t, -0.1, c.Factors()[QuantityVoltage].Offset, 1e-9)

	require.NoError(t, h["save_calibration"](ctx, f.env, nil))
	require.Len(t, f.archive.saved, 1)
	assert.Equal(t, domain.SnapshotCalibration, f.archive.saved[0].Kind)

	require.NoError(t, h["reset_calibration"](ctx, f.env, nil))
	for q, factor := range c.Factors() {
		assert.Equal(t, Factor{Scale: 1}, factor, q)
	}
}

func TestCalibrationRejectsBadInput(t *testing.T) {
	f := newFixture(t, `<div></div>`, false)
	h := NewCalibration().Handlers()
	ctx := context.Background()

	assert.ErrorIs(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "pressure", "reference": "1"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "voltage", "reference": "x"}), domain.ErrInvalidInput)
	for _, raw := range []string{"NaN", "Inf", "-inf", "1e400"} {
		assert.ErrorIs(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "voltage", "reference": raw}), domain.ErrInvalidInput, raw)
		assert.ErrorIs(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "voltage", "reference": "12", "measured": raw}), domain.ErrInvalidInput, raw)
	}
	assert.ErrorIs(t, h["calibrate"](ctx, f.env, module.Args{"quantity": "voltage", "reference": "12"}), domain.ErrNotConnected)
}
