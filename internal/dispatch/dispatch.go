// Package dispatch routes command names to the active module's handler or to
// the default simulated handler, reporting every outcome on the log surface.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/logbook"
	"github.com/ashureev/batteryshell/internal/module"
)

// DefaultDelay is how long the default handler simulates a hardware operation.
const DefaultDelay = 1500 * time.Millisecond

// Source resolves a command to a module handler. *loader.Loader implements it.
type Source interface {
	Handler(command string) (module.Handler, *module.Env, bool)
}

// Config configures a Dispatcher.
type Config struct {
	// Sources are consulted in order; the first module exposing the command wins.
	Sources []Source
	Log     *logbook.Book
	// Env is handed to handlers whose source supplies none.
	Env    *module.Env
	Clock  clock.Clock
	Delay  time.Duration
	Logger *slog.Logger
}

// Dispatcher executes commands. It never returns or panics with a command failure.
type Dispatcher struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Log == nil {
		cfg.Log = logbook.New(cfg.Clock, nil, cfg.Logger)
	}
	if cfg.Env == nil {
		cfg.Env = &module.Env{Log: cfg.Log, Clock: cfg.Clock, Logger: cfg.Logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		clock:  clock.OrReal(cfg.Clock),
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Execute runs command in the background. Completion is reported on the log.
func (d *Dispatcher) Execute(ctx context.Context, command string, args module.Args) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx, command, args)
	}()
}

// Run executes command and returns once it has finished.
// ctx supplies request-scoped values; only Close cancels the command.
func (d *Dispatcher) Run(ctx context.Context, command string, args module.Args) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	command = strings.TrimSpace(command)
	if command == "" {
		d.cfg.Log.Error("Command name is required")
		return
	}

	handler, env, source := d.resolve(command)
	log := d.logger.With("command", command, "handler", source)
	log.Info("Executing command")

	err := d.safeCall(func() error { return handler(ctx, env, args) })
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info("Command cancelled")
		d.cfg.Log.Warn("%s cancelled", command)
	default:
		log.Warn("Command failed", "error", err)
		d.cfg.Log.Error("%s failed: %v", command, err)
	}
}

// Wait blocks until every command started by Execute has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight commands and waits for them.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) resolve(command string) (module.Handler, *module.Env, string) {
	for _, src := range d.cfg.Sources {
		if src == nil {
			continue
		}
		if h, env, ok := src.Handler(command); ok {
			if env == nil {
				env = d.cfg.Env
			}
			return h, env, "module"
		}
	}
	return d.defaultHandler(command), d.cfg.Env, "default"
}

// defaultHandler logs "Executing <command>..." and, after the delay,
// "<command> completed successfully". Only the first underscore becomes a space.
func (d *Dispatcher) defaultHandler(command string) module.Handler {
	return func(ctx context.Context, _ *module.Env, _ module.Args) error {
		d.cfg.Log.Info("Executing %s...", strings.Replace(command, "_", " ", 1))
		if err := clock.Sleep(ctx, d.clock, d.cfg.Delay); err != nil {
			return err
		}
		d.cfg.Log.Success("%s completed successfully", command)
		return nil
	}
}

func (d *Dispatcher) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
