// Package session holds the process-wide connection, adapter and view state.
//
// At most one connect or disconnect is in flight. A disconnect issued while a
// connect is pending aborts it: the pending connect never publishes Connected,
// and a backend connect that completes anyway is undone. A connect issued while
// a disconnect or an aborted connect is still in flight is a no-op.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/shell"
)

// Simulated transition delays.
const (
	DefaultConnectDelay    = 1500 * time.Millisecond
	DefaultDisconnectDelay = 500 * time.Millisecond
)

// Backend performs the adapter round trips. *gateway.Gateway implements it.
type Backend interface {
	GetAdapters(ctx context.Context) ([]string, error)
	ConnectAdapter(ctx context.Context, adapter string) (domain.AdapterResult, error)
	DisconnectAdapter(ctx context.Context) (domain.AdapterResult, error)
}

// Config configures a State.
type Config struct {
	DefaultView     string
	ConnectDelay    time.Duration
	DisconnectDelay time.Duration
	// Backend is optional; without it transitions are purely simulated.
	Backend   Backend
	Clock     clock.Clock
	Notices   *shell.Notifier
	Publisher events.Publisher
	Logger    *slog.Logger
}

// State is the session singleton.
type State struct {
	cfg    Config
	clock  clock.Clock
	pub    events.Publisher
	logger *slog.Logger

	mu            sync.RWMutex
	state         domain.SessionState
	gen           uint64
	disconnecting bool
	// connecting stays set until the connect call returns, backend round trip included.
	connecting    bool
	cancelConnect context.CancelFunc
}

// New creates a disconnected session.
func New(cfg Config) *State {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = DefaultConnectDelay
	}
	if cfg.DisconnectDelay <= 0 {
		cfg.DisconnectDelay = DefaultDisconnectDelay
	}
	return &State{
		cfg:    cfg,
		clock:  clock.OrReal(cfg.Clock),
		pub:    events.OrNop(cfg.Publisher),
		logger: cfg.Logger,
		state: domain.SessionState{
			ConnectionStatus: domain.Disconnected,
			CurrentViewID:    cfg.DefaultView,
		},
	}
}

// Snapshot returns a copy of the session state.
func (s *State) Snapshot() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// IsConnected reports whether an adapter is connected.
func (s *State) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ConnectionStatus == domain.Connected
}

// SelectAdapter records the adapter the next connect will use.
// Once adapters have been discovered, id must be one of them.
func (s *State) SelectAdapter(id string) (domain.SessionState, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	if id != "" && len(s.state.Adapters) > 0 && !slices.Contains(s.state.Adapters, id) {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: unknown adapter %q", domain.ErrInvalidInput, id)
	}
	s.state.SelectedAdapterID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return snap, nil
}

// SetView records the current top-level view.
func (s *State) SetView(id string) domain.SessionState {
	s.mu.Lock()
	s.state.CurrentViewID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return snap
}

// RefreshAdapters rediscovers adapters. The selection is kept only if still present.
func (s *State) RefreshAdapters(ctx context.Context) ([]string, error) {
	if s.cfg.Backend == nil {
		return nil, fmt.Errorf("%w: no adapter backend configured", domain.ErrNotConnected)
	}
	s.notify("Searching for adapters...", domain.SeverityInfo)

	adapters, err := s.cfg.Backend.GetAdapters(ctx)
	if err != nil {
		s.notify("Adapter search failed", domain.SeverityError)
		return nil, fmt.Errorf("get adapters: %w", err)
	}

	s.mu.Lock()
	s.state.Adapters = slices.Clone(adapters)
	if !slices.Contains(adapters, s.state.SelectedAdapterID) {
		s.state.SelectedAdapterID = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.notify(fmt.Sprintf("Found %d adapters", len(adapters)), domain.SeveritySuccess)
	return slices.Clone(adapters), nil
}

// Connect moves Disconnected -> Connecting -> Connected after the connect delay.
// adapter overrides the selected adapter when non-empty. While a transition is
// in flight or already connected it returns the current state unchanged.
func (s *State) Connect(ctx context.Context, adapter string) (domain.SessionState, error) {
	adapter = strings.TrimSpace(adapter)

	s.mu.Lock()
	if s.state.ConnectionStatus != domain.Disconnected || s.disconnecting || s.connecting {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	if adapter == "" {
		adapter = s.state.SelectedAdapterID
	}
	if adapter == "" {
		s.mu.Unlock()
		s.notify("Please select an adapter first", domain.SeverityWarning)
		return s.Snapshot(), fmt.Errorf("%w: no adapter selected", domain.ErrInvalidInput)
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.connecting = true
	s.cancelConnect = cancel
	s.state.SelectedAdapterID = adapter
	s.state.ConnectionStatus = domain.Connecting
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.cancelConnect = nil
		s.mu.Unlock()
	}()

	s.publish(snap)
	s.notify(fmt.Sprintf("Connecting to %s...", adapter), domain.SeverityInfo)
	s.logger.Info("Connecting adapter", "adapter", adapter)

	err := clock.Sleep(ctx, s.clock, s.cfg.ConnectDelay)
	backendConnected := false
	if err == nil && s.cfg.Backend != nil && !s.aborted(gen) {
		_, err = s.cfg.Backend.ConnectAdapter(ctx, adapter)
		backendConnected = err == nil
	}

	s.mu.Lock()
	if s.gen != gen {
		// Aborted by a disconnect; that call already published Disconnected.
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if backendConnected {
			if _, berr := s.cfg.Backend.DisconnectAdapter(context.WithoutCancel(ctx)); berr != nil {
				s.logger.Warn("Backend disconnect after aborted connect failed", "adapter", adapter, "error", berr)
			}
		}
		s.logger.Info("Connect aborted", "adapter", adapter)
		return snap, nil
	}
	if err != nil {
		s.state.ConnectionStatus = domain.Disconnected
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		s.notify(fmt.Sprintf("Failed to connect to %s", adapter), domain.SeverityError)
		s.logger.Warn("Connect failed", "adapter", adapter, "error", err)
		return snap, fmt.Errorf("connect %s: %w", adapter, err)
	}
	s.state.ConnectionStatus = domain.Connected
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.notify(fmt.Sprintf("Connected to %s", adapter), domain.SeveritySuccess)
	s.logger.Info("Adapter connected", "adapter", adapter)
	return snap, nil
}

// Disconnect moves Connected -> Disconnected after the disconnect delay, or
// aborts a pending connect immediately. It is a no-op when already disconnected
// or while another disconnect is in flight.
func (s *State) Disconnect(ctx context.Context) (domain.SessionState, error) {
	s.mu.Lock()
	switch {
	case s.disconnecting || s.state.ConnectionStatus == domain.Disconnected:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	case s.state.ConnectionStatus == domain.Connecting:
		s.gen++
		s.state.ConnectionStatus = domain.Disconnected
		if s.cancelConnect != nil {
			s.cancelConnect()
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		s.notify("Connection cancelled", domain.SeverityInfo)
		return snap, nil
	}
	s.disconnecting = true
	s.gen++
	s.mu.Unlock()

	s.notify("Disconnecting...", domain.SeverityInfo)
	err := clock.Sleep(ctx, s.clock, s.cfg.DisconnectDelay)
	if err == nil && s.cfg.Backend != nil {
		if _, berr := s.cfg.Backend.DisconnectAdapter(ctx); berr != nil {
			s.logger.Warn("Backend disconnect failed", "error", berr)
		}
	}

	s.mu.Lock()
	s.disconnecting = false
	if err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	s.state.ConnectionStatus = domain.Disconnected
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.notify("Disconnected", domain.SeverityInfo)
	s.logger.Info("Adapter disconnected")
	return snap, nil
}

func (s *State) aborted(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != gen
}

func (s *State) snapshotLocked() domain.SessionState {
	out := s.state
	out.Adapters = slices.Clone(s.state.Adapters)
	return out
}

func (s *State) publish(snap domain.SessionState) {
	s.pub.Publish(events.TypeSession, "session", snap)
}

func (s *State) notify(msg string, sev domain.Severity) {
	if s.cfg.Notices != nil {
		s.cfg.Notices.Show(msg, sev)
	}
}
