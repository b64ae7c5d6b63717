// Package gateway is the request/response channel to the native backend host.
// Without a backend channel every request is answered by the local Simulator.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
)

// DefaultTimeout bounds every backend round trip.
const DefaultTimeout = 30 * time.Second

// Channel is a message transport to the native host.
type Channel interface {
	// Send transmits one encoded request. An error means the message was not sent.
	Send(ctx context.Context, msg []byte) error
	// Receive blocks until the next inbound message arrives.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Request is the outbound envelope.
type Request struct {
	RequestID   int64  `json:"requestId"`
	CommandName string `json:"commandName"`
	Payload     any    `json:"payload"`
}

// Response is the inbound envelope.
type Response struct {
	RequestID int64           `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	command  string
	deadline time.Time
	done     chan result
	timer    clock.Timer
}

// Gateway correlates requests with responses by request id.
type Gateway struct {
	channel Channel
	sim     *Simulator
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
}

// Options configures a Gateway.
type Options struct {
	Channel   Channel // nil selects the simulator
	Simulator *Simulator
	Clock     clock.Clock
	Timeout   time.Duration
	Logger    *slog.Logger
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := clock.OrReal(opts.Clock)
	sim := opts.Simulator
	if sim == nil && opts.Channel == nil {
		sim = NewSimulator(SimulatorConfig{Clock: c})
	}
	return &Gateway{
		channel: opts.Channel,
		sim:     sim,
		clock:   c,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		pending: make(map[int64]*pendingRequest),
	}
}

// HasBackend reports whether requests go to a real channel.
func (g *Gateway) HasBackend() bool {
	return g.channel != nil
}

// Pending returns the number of requests awaiting a response.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Send issues command with payload and waits for its result.
// It never retries; the caller decides whether to try again.
func (g *Gateway) Send(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	if command == "" {
		return nil, &domain.OpError{Op: "send", Err: fmt.Errorf("%w: command name is required", domain.ErrInvalidInput)}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if g.channel == nil {
		return g.sim.Handle(ctx, command, payload)
	}

	g.mu.Lock()
	g.nextID++
	id := g.nextID
	p := &pendingRequest{
		command:  command,
		deadline: g.clock.Now().Add(g.timeout),
		done:     make(chan result, 1),
	}
	g.pending[id] = p
	p.timer = g.clock.AfterFunc(g.timeout, func() { g.expire(id) })
	g.mu.Unlock()

	msg, err := json.Marshal(Request{RequestID: id, CommandName: command, Payload: payload})
	if err != nil {
		g.remove(id)
		return nil, &domain.OpError{Op: "send", Target: command, Err: fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidInput, err)}
	}

	if err := g.channel.Send(ctx, msg); err != nil {
		g.remove(id)
		return nil, &domain.OpError{Op: "send", Target: command, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	g.logger.Debug("Backend request sent", "request_id", id, "command", command)

	select {
	case r := <-p.done:
		return r.data, r.err
	case <-ctx.Done():
		g.remove(id)
		return nil, ctx.Err()
	}
}

// Deliver correlates one inbound message. Malformed or unmatched messages are dropped.
func (g *Gateway) Deliver(raw []byte) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		g.logger.Warn("Dropping malformed backend message", "error", err, "size", len(raw))
		return
	}
	if resp.RequestID == 0 {
		g.logger.Warn("Dropping backend message without request id")
		return
	}

	g.mu.Lock()
	p, ok := g.pending[resp.RequestID]
	if ok {
		delete(g.pending, resp.RequestID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Warn("Dropping unmatched backend response", "request_id", resp.RequestID)
		return
	}
	p.timer.Stop()

	if resp.Success {
		p.done <- result{data: resp.Data}
		return
	}
	msg := resp.Error
	if msg == "" {
		msg = "Unknown error"
	}
	p.done <- result{err: &domain.BackendError{Command: p.command, Message: msg}}
}

// Run feeds inbound channel messages to Deliver until ctx ends or the channel fails.
func (g *Gateway) Run(ctx context.Context) error {
	if g.channel == nil {
		<-ctx.Done()
		return nil
	}
	for {
		raw, err := g.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.failAll(fmt.Errorf("%w: %v", domain.ErrTransport, err))
			return fmt.Errorf("backend receive: %w", err)
		}
		g.Deliver(raw)
	}
}

// Close shuts the channel and fails every outstanding request.
func (g *Gateway) Close() error {
	g.failAll(fmt.Errorf("%w: gateway closed", domain.ErrTransport))
	if g.channel == nil {
		return nil
	}
	if err := g.channel.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close backend channel: %w", err)
	}
	return nil
}

func (g *Gateway) expire(id int64) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	g.logger.Warn("Backend request timed out", "request_id", id, "command", p.command, "deadline", p.deadline)
	p.done <- result{err: &domain.OpError{Op: "send", Target: p.command, Err: domain.ErrTimeout}}
}

func (g *Gateway) remove(id int64) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}

func (g *Gateway) failAll(err error) {
	g.mu.Lock()
	failed := g.pending
	g.pending = make(map[int64]*pendingRequest)
	g.mu.Unlock()

	for _, p := range failed {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- result{err: &domain.OpError{Op: "send", Target: p.command, Err: err}}
	}
}
