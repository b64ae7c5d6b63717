// Package app wires the shell runtime: gateway, session, the view and chip
// loaders, the dispatcher and the shared log, behind one handle that the HTTP
// and websocket surfaces drive.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/batteryshell/internal/artifact"
	"github.com/ashureev/batteryshell/internal/chips"
	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/dispatch"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/gateway"
	"github.com/ashureev/batteryshell/internal/loader"
	"github.com/ashureev/batteryshell/internal/logbook"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
	"github.com/ashureev/batteryshell/internal/session"
	"github.com/ashureev/batteryshell/internal/shell"
	"github.com/ashureev/batteryshell/internal/store"
	"github.com/ashureev/batteryshell/internal/views"
	"github.com/ashureev/batteryshell/web"
)

// Options configures an App. Zero values select in-process defaults.
type Options struct {
	// ViewArtifacts and ChipArtifacts default to the embedded web artifacts.
	ViewArtifacts artifact.Store
	ChipArtifacts artifact.Store
	Registry      *registry.Registry
	Gateway       *gateway.Gateway
	// Archive is optional; without it exports fail with ErrInvalidInput.
	Archive store.Archive
	Hub     *events.Hub
	Clock   clock.Clock

	DefaultView     string
	ExportedBy      string
	CommandDelay    time.Duration
	ConnectDelay    time.Duration
	DisconnectDelay time.Duration
	FetchTimeout    time.Duration
	Logger          *slog.Logger
}

// App is the running shell.
type App struct {
	Registry   *registry.Registry
	Gateway    *gateway.Gateway
	Archive    store.Archive
	Hub        *events.Hub
	Log        *logbook.Book
	Notices    *shell.Notifier
	Session    *session.State
	Surface    *shell.Surface
	ViewSlot   *shell.Slot
	ChipSlot   *shell.Slot
	Views      *loader.Loader
	Chips      *loader.Loader
	Dispatcher *dispatch.Dispatcher

	defaultView string
	exportedBy  string
	clock       clock.Clock
	logger      *slog.Logger
}

// New builds and starts an App. Call Close to stop it.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultView == "" {
		opts.DefaultView = registry.ViewBatteryInfo
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewBuiltin(opts.Logger)
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(0)
	}
	c := clock.OrReal(opts.Clock)
	if opts.Gateway == nil {
		opts.Gateway = gateway.New(gateway.Options{Clock: c, Logger: opts.Logger})
	}
	if opts.ViewArtifacts == nil {
		opts.ViewArtifacts = artifact.NewFSStore(web.Artifacts(), artifact.ViewLayout)
	}
	if opts.ChipArtifacts == nil {
		opts.ChipArtifacts = artifact.NewFSStore(web.Artifacts(), artifact.ChipLayout)
	}

	a := &App{
		Registry:    opts.Registry,
		Gateway:     opts.Gateway,
		Archive:     opts.Archive,
		Hub:         opts.Hub,
		defaultView: opts.DefaultView,
		exportedBy:  opts.ExportedBy,
		clock:       c,
		logger:      opts.Logger,
	}
	a.Log = logbook.New(c, a.Hub, opts.Logger)
	a.Notices = shell.NewNotifier(a.Hub, c, opts.Logger)
	a.Surface = shell.NewSurface(a.Hub)
	a.ViewSlot = shell.NewSlot("view", a.Hub)
	a.ChipSlot = shell.NewSlot("chip", a.Hub)
	a.Session = session.New(session.Config{
		DefaultView:     opts.DefaultView,
		ConnectDelay:    opts.ConnectDelay,
		DisconnectDelay: opts.DisconnectDelay,
		Backend:         opts.Gateway,
		Clock:           c,
		Notices:         a.Notices,
		Publisher:       a.Hub,
		Logger:          opts.Logger,
	})

	var archive module.Archive
	if opts.Archive != nil {
		archive = opts.Archive
	}
	env := func(slot *shell.Slot, chipSlot module.ChipSlot, name string) *module.Env {
		return &module.Env{
			Session:    a.Session,
			Gateway:    opts.Gateway,
			Log:        a.Log,
			Slot:       slot,
			Surface:    a.Surface,
			Notices:    a.Notices,
			Chips:      chipSlot,
			Archive:    archive,
			Clock:      c,
			Logger:     opts.Logger.With("slot", name),
			ExportedBy: opts.ExportedBy,
		}
	}

	chipBehaviors := module.NewTable(true)
	chips.Register(chipBehaviors)
	fallback := registry.DefaultChipDescriptor()
	a.Chips = loader.New(loader.Config{
		Name:           "chip",
		Store:          opts.ChipArtifacts,
		Behaviors:      chipBehaviors,
		Registry:       a.Registry,
		Slot:           a.ChipSlot,
		Surface:        a.Surface,
		Fallback:       &fallback,
		MarkupOptional: true,
		Env:            env(a.ChipSlot, nil, "chip"),
		Clock:          c,
		FetchTimeout:   opts.FetchTimeout,
		Publisher:      a.Hub,
		Logger:         opts.Logger,
	})

	viewBehaviors := module.NewTable(false)
	views.Register(viewBehaviors)
	a.Views = loader.New(loader.Config{
		Name:           "view",
		Store:          opts.ViewArtifacts,
		Behaviors:      viewBehaviors,
		Registry:       a.Registry,
		Slot:           a.ViewSlot,
		FallbackTarget: opts.DefaultView,
		OnTarget:       func(id string) { a.Session.SetView(id) },
		Env:            env(a.ViewSlot, a.Chips, "view"),
		Clock:          c,
		FetchTimeout:   opts.FetchTimeout,
		Publisher:      a.Hub,
		Logger:         opts.Logger,
	})

	a.Dispatcher = dispatch.New(dispatch.Config{
		Sources: []dispatch.Source{a.Chips, a.Views},
		Log:     a.Log,
		Env:     env(a.ViewSlot, a.Chips, "default"),
		Clock:   c,
		Delay:   opts.CommandDelay,
		Logger:  opts.Logger,
	})
	return a
}

// Start discovers adapters and opens the default view.
func (a *App) Start(ctx context.Context) {
	a.Views.Request(a.defaultView)
	go func() {
		if _, err := a.Session.RefreshAdapters(ctx); err != nil {
			a.logger.Warn("Adapter discovery failed", "error", err)
		}
	}()
}

// Navigate switches the view slot to id and waits for the outcome.
func (a *App) Navigate(ctx context.Context, id string) (loader.Result, error) {
	return a.Views.Navigate(ctx, strings.TrimSpace(id))
}

// Execute dispatches command in the background.
func (a *App) Execute(ctx context.Context, command string, args module.Args) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: command is required", domain.ErrInvalidInput)
	}
	a.Dispatcher.Execute(ctx, command, args)
	return nil
}

// Press dispatches the command bound to a visible surface element.
func (a *App) Press(ctx context.Context, elementID string, args module.Args) (string, error) {
	command, err := a.Surface.Press(elementID)
	if err != nil {
		return "", err
	}
	a.Dispatcher.Execute(ctx, command, args)
	return command, nil
}

// Now reads the app clock.
func (a *App) Now() time.Time {
	return a.clock.Now()
}

// ExportedBy names the operator recorded on exported snapshots.
func (a *App) ExportedBy() string {
	return a.exportedBy
}

// Close stops command execution and tears down both slots.
func (a *App) Close() {
	a.Dispatcher.Close()
	a.Views.Close()
	a.Chips.Close()
}

// State is a full snapshot of the shell, sent to clients on connect.
type State struct {
	Session         domain.SessionState `json:"session"`
	View            loader.Status       `json:"view"`
	Chip            loader.Status       `json:"chip"`
	ViewSlot        shell.SlotState     `json:"view_slot"`
	ChipSlot        shell.SlotState     `json:"chip_slot"`
	Surface         []shell.Affordance  `json:"surface"`
	LogEntries      int                 `json:"log_entries"`
	Backend         string              `json:"backend"`
	PendingRequests int                 `json:"pending_requests"`
}

// State returns a snapshot of every component.
func (a *App) State() State {
	backend := "simulator"
	if a.Gateway.HasBackend() {
		backend = "native"
	}
	return State{
		Session:         a.Session.Snapshot(),
		View:            a.Views.Status(),
		Chip:            a.Chips.Status(),
		ViewSlot:        a.ViewSlot.Snapshot(),
		ChipSlot:        a.ChipSlot.Snapshot(),
		Surface:         a.Surface.Snapshot(),
		LogEntries:      a.Log.Len(),
		Backend:         backend,
		PendingRequests: a.Gateway.Pending(),
	}
}
