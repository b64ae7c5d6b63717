package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	adapters   []string
	connectErr error
	connects   int
}

func (b *fakeBackend) GetAdapters(context.Context) ([]string, error) {
	return b.adapters, nil
}

func (b *fakeBackend) ConnectAdapter(_ context.Context, adapter string) (domain.AdapterResult, error) {
	b.connects++
	if b.connectErr != nil {
		return domain.AdapterResult{}, b.connectErr
	}
	return domain.AdapterResult{Success: true, Adapter: adapter}, nil
}

func (b *fakeBackend) DisconnectAdapter(context.Context) (domain.AdapterResult, error) {
	return domain.AdapterResult{Success: true}, nil
}

// blockingBackend holds every ConnectAdapter call until release is closed.
type blockingBackend struct {
	release chan struct{}
	entered chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	connects    int
	disconnects int
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{release: make(chan struct{}), entered: make(chan struct{}, 4)}
}

func (b *blockingBackend) GetAdapters(context.Context) ([]string, error) {
	return []string{"EV2300"}, nil
}

func (b *blockingBackend) ConnectAdapter(_ context.Context, adapter string) (domain.AdapterResult, error) {
	b.mu.Lock()
	b.connects++
	b.inFlight++
	b.maxInFlight = max(b.maxInFlight, b.inFlight)
	b.mu.Unlock()
	b.entered <- struct{}{}

	// Ignores ctx like a host that finishes the connect regardless.
	<-b.release

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return domain.AdapterResult{Success: true, Adapter: adapter}, nil
}

func (b *blockingBackend) DisconnectAdapter(context.Context) (domain.AdapterResult, error) {
	b.mu.Lock()
	b.disconnects++
	b.mu.Unlock()
	return domain.AdapterResult{Success: true}, nil
}

func (b *blockingBackend) counts() (connects, disconnects, maxInFlight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.disconnects, b.maxInFlight
}

type outcome struct {
	state domain.SessionState
	err   error
}

func newState(fake *clock.Fake, hub *events.Hub, backend Backend) *State {
	cfg := Config{DefaultView: "battery-info", Clock: fake, Backend: backend}
	if hub != nil {
		cfg.Publisher = hub
	}
	return New(cfg)
}

func connectAsync(s *State, adapter string) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		st, err := s.Connect(context.Background(), adapter)
		out <- outcome{st, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("transition did not complete")
		return outcome{}
	}
}

func TestConnectTransitionsAfterDelay(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := newState(fake, nil, nil)

	res := connectAsync(s, "EV2300")
	require.True(t, fake.BlockUntil(1, time.Second))
	assert.Equal(t, domain.Connecting, s.Snapshot().ConnectionStatus)

	// A second connect while connecting changes nothing.
	st, err := s.Connect(context.Background(), "CP2112")
	require.NoError(t, err)
	assert.Equal(t, domain.Connecting, st.ConnectionStatus)
	assert.Equal(t, "EV2300", st.SelectedAdapterID)

	fake.Advance(DefaultConnectDelay - time.Millisecond)
	assert.False(t, s.IsConnected())
	fake.Advance(time.Millisecond)

	o := wait(t, res)
	require.NoError(t, o.err)
	assert.Equal(t, domain.Connected, o.state.ConnectionStatus)
	assert.True(t, s.IsConnected())
}

func TestDisconnectDuringConnectNeverExposesConnected(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	hub := events.NewHub(100)
	s := newState(fake, hub, nil)

	res := connectAsync(s, "EV2300")
	require.True(t, fake.BlockUntil(1, time.Second))

	st, err := s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Disconnected, st.ConnectionStatus)

	fake.Advance(DefaultConnectDelay)
	o := wait(t, res)
	require.NoError(t, o.err)
	assert.Equal(t, domain.Disconnected, o.state.ConnectionStatus)
	assert.Equal(t, domain.Disconnected, s.Snapshot().ConnectionStatus)

	for _, ev := range hub.Since(0) {
		if snap, ok := ev.Data.(domain.SessionState); ok {
			assert.NotEqual(t, domain.Connected, snap.ConnectionStatus)
		}
	}

	// The session is usable again.
	res = connectAsync(s, "")
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultConnectDelay)
	assert.Equal(t, domain.Connected, wait(t, res).state.ConnectionStatus)
}

func TestConnectDuringDisconnectIsNoop(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := newState(fake, nil, nil)

	res := connectAsync(s, "EV2300")
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultConnectDelay)
	wait(t, res)

	disc := make(chan outcome, 1)
	go func() {
		st, err := s.Disconnect(context.Background())
		disc <- outcome{st, err}
	}()
	require.True(t, fake.BlockUntil(1, time.Second))

	st, err := s.Connect(context.Background(), "EV2300")
	require.NoError(t, err)
	assert.Equal(t, domain.Connected, st.ConnectionStatus)

	// A second disconnect is also a no-op.
	_, err = s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Pending())

	fake.Advance(DefaultDisconnectDelay)
	o := wait(t, disc)
	require.NoError(t, o.err)
	assert.Equal(t, domain.Disconnected, o.state.ConnectionStatus)
}

func TestDisconnectWhenDisconnectedIsNoop(t *testing.T) {
	t.Parallel()
	s := newState(clock.NewFake(time.Unix(0, 0)), nil, nil)
	st, err := s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Disconnected, st.ConnectionStatus)
}

func TestConnectRequiresAdapter(t *testing.T) {
	t.Parallel()
	s := newState(clock.NewFake(time.Unix(0, 0)), nil, nil)
	_, err := s.Connect(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.Disconnected, s.Snapshot().ConnectionStatus)
}

func TestConnectBackendFailure(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	backend := &fakeBackend{connectErr: errors.New("adapter busy")}
	s := newState(fake, nil, backend)

	res := connectAsync(s, "EV2300")
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultConnectDelay)

	o := wait(t, res)
	require.Error(t, o.err)
	assert.Equal(t, domain.Disconnected, o.state.ConnectionStatus)
	assert.Equal(t, 1, backend.connects)
}

func TestRefreshAdaptersKeepsSelection(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{adapters: []string{"CP2112", "EV2300"}}
	s := newState(clock.NewFake(time.Unix(0, 0)), nil, backend)

	_, err := s.SelectAdapter("EV2300")
	require.NoError(t, err)

	adapters, err := s.RefreshAdapters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CP2112", "EV2300"}, adapters)
	assert.Equal(t, "EV2300", s.Snapshot().SelectedAdapterID)

	backend.adapters = []string{"CP2112"}
	_, err = s.RefreshAdapters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().SelectedAdapterID)

	_, err = s.SelectAdapter("EV2300")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSetView(t *testing.T) {
	t.Parallel()
	s := newState(clock.NewFake(time.Unix(0, 0)), nil, nil)
	assert.Equal(t, "battery-info", s.Snapshot().CurrentViewID)
	assert.Equal(t, "about", s.SetView("about").CurrentViewID)
}

func TestAbortedBackendConnectBlocksNewConnectAndIsUndone(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	backend := newBlockingBackend()
	s := newState(fake, nil, backend)

	res := connectAsync(s, "EV2300")
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultConnectDelay)
	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("backend connect was not issued")
	}

	st, err := s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Disconnected, st.ConnectionStatus)

	// The aborted backend round trip is still running, so this connect is refused.
	st, err = s.Connect(context.Background(), "EV2300")
	require.NoError(t, err)
	assert.Equal(t, domain.Disconnected, st.ConnectionStatus)
	assert.Equal(t, 0, fake.Pending())

	close(backend.release)
	o := wait(t, res)
	require.NoError(t, o.err)
	assert.Equal(t, domain.Disconnected, s.Snapshot().ConnectionStatus)

	connects, disconnects, maxInFlight := backend.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects, "a backend connect that finished after the abort must be undone")
	assert.Equal(t, 1, maxInFlight)

	// Once the aborted call has returned, connecting works again.
	res = connectAsync(s, "")
	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultConnectDelay)
	assert.Equal(t, domain.Connected, wait(t, res).state.ConnectionStatus)
}
