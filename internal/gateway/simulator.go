package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
)

// Simulated delay bounds used when no SimulatorConfig override is given.
const (
	DefaultSimDelayMin = 500 * time.Millisecond
	DefaultSimDelayMax = 1500 * time.Millisecond
)

// SimulatedAdapters is the adapter list the simulator reports.
var SimulatedAdapters = []string{"CP2112", "EV2300"}

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	Clock    clock.Clock
	DelayMin time.Duration
	DelayMax time.Duration
	// Seed makes delays and random values reproducible when non-zero.
	Seed uint64
}

// Simulator answers backend commands with canned payloads after a randomized delay.
type Simulator struct {
	clock    clock.Clock
	delayMin time.Duration
	delayMax time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = DefaultSimDelayMin
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		clock:    clock.OrReal(cfg.Clock),
		delayMin: cfg.DelayMin,
		delayMax: cfg.DelayMax,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Delay returns the next simulated round-trip delay.
func (s *Simulator) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.delayMax - s.delayMin
	if span <= 0 {
		return s.delayMin
	}
	return s.delayMin + time.Duration(s.rng.Int64N(int64(span)+1))
}

func (s *Simulator) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Handle waits the simulated delay and returns the canned payload for command.
func (s *Simulator) Handle(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	if err := clock.Sleep(ctx, s.clock, s.Delay()); err != nil {
		return nil, err
	}
	data, err := s.Respond(command, payload)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode simulated %s: %w", command, err)
	}
	return raw, nil
}

// Respond builds the canned payload for command without any delay.
func (s *Simulator) Respond(command string, payload any) (any, error) {
	args, err := payloadFields(payload)
	if err != nil {
		return nil, &domain.OpError{Op: "send", Target: command, Err: fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)}
	}

	switch command {
	case CmdGetAdapters:
		return append([]string(nil), SimulatedAdapters...), nil
	case CmdConnectAdapter:
		return domain.AdapterResult{Success: true, Adapter: stringField(args, "adapter")}, nil
	case CmdDisconnectAdapter:
		return domain.AdapterResult{Success: true}, nil
	case CmdGetBatteryInfo:
		return domain.BatteryInfo{
			ChargePercentage: 85,
			Voltage:          12.6,
			Current:          2.1,
			Temperature:      32,
			Health:           92,
			Status:           "Charging",
		}, nil
	case CmdReadMemory:
		return domain.MemoryDump{
			Address: stringField(args, "address"),
			Data:    "AA BB CC DD EE FF 00 11 22 33 44 55 66 77 88 99",
			ASCII:   strings.Repeat(".", 15),
		}, nil
	case CmdWriteMemory:
		return domain.WriteResult{Success: true, BytesWritten: len(stringField(args, "data"))}, nil
	case CmdExecuteFunction:
		return domain.FunctionResult{
			Result:      fmt.Sprintf("Function %s executed successfully", stringField(args, "function")),
			ReturnValue: s.intN(100),
		}, nil
	default:
		return nil, &domain.OpError{Op: "send", Target: command, Err: fmt.Errorf("%w: %s", domain.ErrUnsupportedCommand, command)}
	}
}

func payloadFields(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload must be an object: %w", err)
	}
	return out, nil
}

func stringField(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
