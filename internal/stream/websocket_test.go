package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/batteryshell/internal/app"
	"github.com/ashureev/batteryshell/internal/gateway"
)

type frame struct {
	ID    int64           `json:"id"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newServer(t *testing.T, allowed []string) (*app.App, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := gateway.NewSimulator(gateway.SimulatorConfig{DelayMin: time.Nanosecond, Seed: 3})
	a := app.New(app.Options{
		Gateway:      gateway.New(gateway.Options{Simulator: sim, Logger: logger}),
		CommandDelay: time.Millisecond,
		Logger:       logger,
	})
	srv := httptest.NewServer(NewHandler(a, allowed, false, logger))
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/shell" + query
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %q", typ)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestInitialStateThenEvents(t *testing.T) {
	a, srv := newServer(t, nil)
	conn := dial(t, srv, "")

	state := readUntil(t, conn, "state")
	var st app.State
	require.NoError(t, json.Unmarshal(state.Data, &st))
	assert.Equal(t, "simulator", st.Backend)

	// The subscription is registered before the state frame is written.
	a.Log.Info("Chip detected: %s", "BQ40Z50")
	ev := readUntil(t, conn, "log")
	assert.Contains(t, string(ev.Data), "Chip detected: BQ40Z50")
	assert.Positive(t, ev.ID)
}

func TestReplaySinceSkipsSeenEvents(t *testing.T) {
	a, srv := newServer(t, nil)
	a.Log.Info("first")
	seen := a.Hub.Since(0)
	first := seen[len(seen)-1].ID
	a.Log.Info("second")

	conn := dial(t, srv, "?since="+strconv.FormatInt(first, 10))
	readUntil(t, conn, "state")
	ev := readUntil(t, conn, "log")
	assert.Contains(t, string(ev.Data), "second")
	assert.Greater(t, ev.ID, first)
}

func TestPingAndNavigate(t *testing.T) {
	a, srv := newServer(t, nil)
	conn := dial(t, srv, "")
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "ping"})
	readUntil(t, conn, "pong")

	send(t, conn, map[string]string{"type": "navigate", "module": "about"})
	nav := readUntil(t, conn, "navigated")
	assert.Empty(t, nav.Error)
	assert.Equal(t, "about", a.Views.Active().ID)
}

func TestExecuteAndErrors(t *testing.T) {
	a, srv := newServer(t, nil)
	conn := dial(t, srv, "")
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "execute", "command": "reset_device"})
	readUntil(t, conn, "accepted")
	a.Dispatcher.Wait()

	send(t, conn, map[string]string{"type": "press", "element": "missing-button"})
	assert.NotEmpty(t, readUntil(t, conn, "error").Error)

	send(t, conn, map[string]string{"type": "teleport"})
	assert.Contains(t, readUntil(t, conn, "error").Error, "unknown message type")
}

func TestOriginRejected(t *testing.T) {
	_, srv := newServer(t, []string{"https://bench.example"})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/shell", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
