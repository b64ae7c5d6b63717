package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChannel struct {
	sent    chan []byte
	inbound chan []byte
	sendErr error

	mu     sync.Mutex
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: make(chan []byte, 16), inbound: make(chan []byte, 16)}
}

func (c *fakeChannel) Send(_ context.Context, msg []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- msg
	return nil
}

func (c *fakeChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return nil, errors.New("channel closed")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type sendResult struct {
	data json.RawMessage
	err  error
}

func sendAsync(g *Gateway, command string, payload any) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		data, err := g.Send(context.Background(), command, payload)
		out <- sendResult{data: data, err: err}
	}()
	return out
}

func nextSent(t *testing.T, c *fakeChannel) Request {
	t.Helper()
	select {
	case raw := <-c.sent:
		var req Request
		require.NoError(t, json.Unmarshal(raw, &req))
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return Request{}
	}
}

func waitResult(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
		return sendResult{}
	}
}

func TestSimulatorGetAdaptersWithinDelayBound(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	g := New(Options{Clock: fake})
	require.False(t, g.HasBackend())

	out := make(chan []string, 1)
	errs := make(chan error, 1)
	go func() {
		adapters, err := g.GetAdapters(context.Background())
		errs <- err
		out <- adapters
	}()

	require.True(t, fake.BlockUntil(1, time.Second))
	fake.Advance(DefaultSimDelayMax)

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("simulated GetAdapters did not resolve within the delay bound")
	}
	assert.Equal(t, []string{"CP2112", "EV2300"}, <-out)
	assert.Zero(t, g.Pending())
}

func TestSimulatorDelayRange(t *testing.T) {
	t.Parallel()
	sim := NewSimulator(SimulatorConfig{Seed: 42})
	for range 500 {
		d := sim.Delay()
		assert.GreaterOrEqual(t, d, DefaultSimDelayMin)
		assert.LessOrEqual(t, d, DefaultSimDelayMax)
	}
}

func TestSimulatorUnknownCommand(t *testing.T) {
	t.Parallel()
	sim := NewSimulator(SimulatorConfig{Seed: 1})
	_, err := sim.Respond("FlashFirmware", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCommand)
}

func TestSimulatorEchoesPayload(t *testing.T) {
	t.Parallel()
	sim := NewSimulator(SimulatorConfig{Seed: 1})

	got, err := sim.Respond(CmdWriteMemory, map[string]any{"address": "0x10", "data": "AABB"})
	require.NoError(t, err)
	assert.Equal(t, domain.WriteResult{Success: true, BytesWritten: 4}, got)

	got, err = sim.Respond(CmdConnectAdapter, struct {
		Adapter string `json:"adapter"`
	}{Adapter: "EV2300"})
	require.NoError(t, err)
	assert.Equal(t, domain.AdapterResult{Success: true, Adapter: "EV2300"}, got)
}

func TestSendCorrelatesResponse(t *testing.T) {
	ch := newFakeChannel()
	g := New(Options{Channel: ch, Clock: clock.NewFake(time.Unix(0, 0))})
	require.True(t, g.HasBackend())

	first := sendAsync(g, CmdGetBatteryInfo, nil)
	req1 := nextSent(t, ch)
	second := sendAsync(g, CmdGetAdapters, nil)
	req2 := nextSent(t, ch)

	assert.Equal(t, int64(1), req1.RequestID)
	assert.Equal(t, int64(2), req2.RequestID)
	assert.Equal(t, 2, g.Pending())

	// Answer out of order.
	g.Deliver([]byte(`{"requestId":2,"success":true,"data":["EV2300"]}`))
	g.Deliver([]byte(`{"requestId":1,"success":true,"data":{"chargePercentage":50}}`))

	r2 := waitResult(t, second)
	require.NoError(t, r2.err)
	assert.JSONEq(t, `["EV2300"]`, string(r2.data))

	r1 := waitResult(t, first)
	require.NoError(t, r1.err)
	assert.JSONEq(t, `{"chargePercentage":50}`, string(r1.data))
	assert.Zero(t, g.Pending())
}

func TestSendTimeoutResolvesExactlyOnce(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ch := newFakeChannel()
	g := New(Options{Channel: ch, Clock: fake})

	res := sendAsync(g, CmdReadMemory, map[string]any{"address": "0x00"})
	req := nextSent(t, ch)

	fake.Advance(DefaultTimeout - time.Millisecond)
	assert.Equal(t, 1, g.Pending())

	fake.Advance(time.Millisecond)
	r := waitResult(t, res)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, domain.ErrTimeout)
	assert.Zero(t, g.Pending())

	// A late answer for the expired request is dropped.
	late, _ := json.Marshal(Response{RequestID: req.RequestID, Success: true})
	g.Deliver(late)
	assert.Zero(t, g.Pending())

	select {
	case extra := <-res:
		t.Fatalf("request resolved twice: %+v", extra)
	default:
	}
}

func TestSendBackendFailure(t *testing.T) {
	ch := newFakeChannel()
	g := New(Options{Channel: ch, Clock: clock.NewFake(time.Unix(0, 0))})

	res := sendAsync(g, CmdDisconnectAdapter, nil)
	req := nextSent(t, ch)
	g.Deliver([]byte(`{"requestId":` + jsonInt(req.RequestID) + `,"success":false}`))

	r := waitResult(t, res)
	var backendErr *domain.BackendError
	require.ErrorAs(t, r.err, &backendErr)
	assert.Equal(t, "Unknown error", backendErr.Message)
	assert.Equal(t, CmdDisconnectAdapter, backendErr.Command)
}

func TestSendTransportFailure(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	ch.sendErr = errors.New("pipe closed")
	g := New(Options{Channel: ch, Clock: clock.NewFake(time.Unix(0, 0))})

	_, err := g.Send(context.Background(), CmdGetAdapters, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Zero(t, g.Pending())
}

func TestSendRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	g := New(Options{Clock: clock.NewFake(time.Unix(0, 0))})

	_, err := g.ConnectAdapter(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = g.ReadMemory(context.Background(), "", 16)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = g.WriteMemory(context.Background(), "0x00", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = g.Send(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeliverDropsMalformedAndUnmatched(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	g := New(Options{Channel: ch, Clock: clock.NewFake(time.Unix(0, 0))})

	assert.NotPanics(t, func() {
		g.Deliver([]byte("not json"))
		g.Deliver([]byte(`{"success":true}`))
		g.Deliver([]byte(`{"requestId":99,"success":true}`))
	})
	assert.Zero(t, g.Pending())
}

func TestRunDeliversAndCloseFailsPending(t *testing.T) {
	ch := newFakeChannel()
	g := New(Options{Channel: ch, Clock: clock.NewFake(time.Unix(0, 0))})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- g.Run(ctx) }()

	res := sendAsync(g, CmdGetAdapters, nil)
	req := nextSent(t, ch)
	ch.inbound <- []byte(`{"requestId":` + jsonInt(req.RequestID) + `,"success":true,"data":["CP2112"]}`)
	r := waitResult(t, res)
	require.NoError(t, r.err)

	pending := sendAsync(g, CmdGetBatteryInfo, nil)
	nextSent(t, ch)
	require.NoError(t, g.Close())
	r = waitResult(t, pending)
	assert.ErrorIs(t, r.err, domain.ErrTransport)

	cancel()
	require.NoError(t, <-runDone)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
