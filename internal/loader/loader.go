// Package loader drives a slot's module lifecycle: teardown of the active
// module, artifact fetch, surface activation and initialization of the next.
//
// Navigation is latest-wins. A single worker serializes transitions, and after
// every suspension point it checks whether a newer request arrived; stale work
// is discarded and never becomes active.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/artifact"
	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
	"github.com/ashureev/batteryshell/internal/shell"
)

// DefaultFetchTimeout bounds each artifact fetch.
const DefaultFetchTimeout = 10 * time.Second

// DefaultTeardownTimeout bounds a module's OnDeactivate hook.
const DefaultTeardownTimeout = 5 * time.Second

// Phase is the loader state.
type Phase string

// Loader phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseActive    Phase = "active"
	PhaseUnloading Phase = "unloading"
	PhaseFailed    Phase = "failed"
)

// Status is published on every phase change.
type Status struct {
	Loader string              `json:"loader"`
	Phase  Phase               `json:"phase"`
	Active domain.ActiveModule `json:"active"`
}

// Result is the outcome of one navigation request.
type Result struct {
	Target     string
	Active     domain.ActiveModule
	Superseded bool
	// Warnings holds non-fatal failures: optional artifacts and the init hook.
	Warnings []error
	Err      error
}

// Config configures a Loader.
type Config struct {
	// Name identifies the loader in logs and events ("view", "chip").
	Name      string
	Store     artifact.Store
	Behaviors *module.Table
	Registry  *registry.Registry
	Slot      *shell.Slot
	// Surface, when set, is cleared on teardown and bound from the module descriptor.
	Surface *shell.Surface
	// Fallback is activated on the surface for modules without behavior.
	Fallback *domain.ModuleDescriptor
	// MarkupOptional lets a module become active without a markup artifact.
	MarkupOptional bool
	// FallbackTarget is offered on the error panel when markup fails.
	FallbackTarget string
	// OnTarget is called in request order with each non-empty target id.
	// It runs under the loader lock and must not call back into the loader.
	OnTarget        func(id string)
	Env             *module.Env
	Clock           clock.Clock
	FetchTimeout    time.Duration
	TeardownTimeout time.Duration
	Publisher       events.Publisher
	Logger          *slog.Logger
}

type activeModule struct {
	id     string
	mod    module.Module
	cancel context.CancelFunc
}

// Loader owns one slot and the module occupying it.
type Loader struct {
	cfg    Config
	logger *slog.Logger
	pub    events.Publisher
	clock  clock.Clock

	ctx    context.Context
	stop   context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
	closed bool

	mu          sync.Mutex
	gen         uint64
	handled     uint64
	target      string
	cancelFetch context.CancelFunc
	waiters     map[uint64][]chan Result
	phase       Phase
	status      domain.ActiveModule
	current     *activeModule
}

// New creates a loader and starts its worker.
func New(cfg Config) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "view"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.Behaviors == nil {
		cfg.Behaviors = module.NewTable(false)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(cfg.Logger)
	}
	if cfg.Slot == nil {
		cfg.Slot = shell.NewSlot(cfg.Name, cfg.Publisher)
	}
	if cfg.Env == nil {
		cfg.Env = &module.Env{}
	}
	if cfg.Env.Slot == nil {
		cfg.Env.Slot = cfg.Slot
	}
	if cfg.Env.Surface == nil {
		cfg.Env.Surface = cfg.Surface
	}

	ctx, stop := context.WithCancel(context.Background())
	l := &Loader{
		cfg:     cfg,
		logger:  cfg.Logger.With("loader", cfg.Name),
		pub:     events.OrNop(cfg.Publisher),
		clock:   clock.OrReal(cfg.Clock),
		ctx:     ctx,
		stop:    stop,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		waiters: make(map[uint64][]chan Result),
		phase:   PhaseIdle,
		status:  domain.ActiveModule{Status: domain.ModuleUnloaded},
	}
	go l.run()
	return l
}

// Request asks for id to become active without waiting for the outcome.
func (l *Loader) Request(id string) {
	l.enqueue(id, nil)
}

// Navigate asks for id to become active and waits until the request completes
// or is overtaken by a newer one (Result.Superseded with domain.ErrSuperseded).
// Cancelling ctx stops the wait, not the navigation.
func (l *Loader) Navigate(ctx context.Context, id string) (Result, error) {
	if id == "" {
		return Result{}, fmt.Errorf("%w: module id is required", domain.ErrInvalidInput)
	}
	return l.await(ctx, id)
}

// Unload tears the active module down and leaves the slot empty.
func (l *Loader) Unload(ctx context.Context) error {
	_, err := l.await(ctx, "")
	if errors.Is(err, domain.ErrSuperseded) {
		return nil
	}
	return err
}

// Close stops the worker after tearing down the active module.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.stop()
	<-l.done
}

// Active returns a snapshot of the slot's module.
func (l *Loader) Active() domain.ActiveModule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Phase returns the loader phase.
func (l *Loader) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Status returns the phase and active module together.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Loader: l.cfg.Name, Phase: l.phase, Active: l.status}
}

// CurrentChip returns the id of the active module, or "" when none is active.
func (l *Loader) CurrentChip() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return ""
	}
	return l.current.id
}

// Handler returns the active module's handler for command.
func (l *Loader) Handler(command string) (module.Handler, *module.Env, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseActive || l.current == nil || l.current.mod == nil {
		return nil, nil, false
	}
	h, ok := l.current.mod.Handlers()[command]
	if !ok || h == nil {
		return nil, nil, false
	}
	return h, l.cfg.Env, true
}

func (l *Loader) enqueue(id string, waiter chan Result) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.gen++
	l.target = id
	if id != "" && l.cfg.OnTarget != nil {
		l.cfg.OnTarget(id)
	}
	if waiter != nil {
		l.waiters[l.gen] = append(l.waiters[l.gen], waiter)
	}
	// In-flight fetches for an older target are abandoned.
	if l.cancelFetch != nil {
		l.cancelFetch()
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loader) await(ctx context.Context, id string) (Result, error) {
	ch := make(chan Result, 1)
	if !l.enqueue(id, ch) {
		return Result{Target: id}, fmt.Errorf("loader %s closed", l.cfg.Name)
	}
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Result{Target: id}, ctx.Err()
	}
}

func (l *Loader) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.handled == l.gen || l.ctx.Err() != nil {
				l.mu.Unlock()
				break
			}
			target, gen := l.target, l.gen
			l.handled = gen
			fetchCtx, cancel := context.WithCancel(l.ctx)
			l.cancelFetch = cancel
			l.supersedeLocked(gen)
			l.mu.Unlock()

			var res Result
			if target == "" {
				res = l.unload(gen)
			} else {
				res = l.transition(fetchCtx, target, gen)
			}
			cancel()
			l.finish(gen, res)
		}
	}
}

// supersedeLocked resolves waiters of requests older than gen.
func (l *Loader) supersedeLocked(gen uint64) {
	for g, chans := range l.waiters {
		if g >= gen {
			continue
		}
		for _, ch := range chans {
			ch <- Result{Target: "", Superseded: true, Err: domain.ErrSuperseded}
		}
		delete(l.waiters, g)
	}
}

func (l *Loader) finish(gen uint64, res Result) {
	if res.Superseded && res.Err == nil {
		res.Err = domain.ErrSuperseded
	}
	l.mu.Lock()
	l.cancelFetch = nil
	chans := l.waiters[gen]
	delete(l.waiters, gen)
	l.mu.Unlock()
	for _, ch := range chans {
		ch <- res
	}
}

func (l *Loader) stale(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen != gen || l.ctx.Err() != nil
}

func (l *Loader) setPhase(phase Phase, status domain.ActiveModule) {
	l.mu.Lock()
	l.phase = phase
	l.status = status
	st := Status{Loader: l.cfg.Name, Phase: phase, Active: status}
	l.mu.Unlock()
	l.pub.Publish(events.TypeModule, l.cfg.Name, st)
}

func (l *Loader) shutdown() {
	l.teardown()
	l.setPhase(PhaseIdle, domain.ActiveModule{Status: domain.ModuleUnloaded})

	l.mu.Lock()
	pending := l.waiters
	l.waiters = map[uint64][]chan Result{}
	l.mu.Unlock()
	for _, chans := range pending {
		for _, ch := range chans {
			ch <- Result{Superseded: true, Err: domain.ErrSuperseded}
		}
	}
	l.logger.Info("Loader stopped")
}
