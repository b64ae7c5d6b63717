// Package module defines the contract loadable view and chip modules implement
// and the table mapping module ids to their compiled-in behavior.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/gateway"
	"github.com/ashureev/batteryshell/internal/logbook"
	"github.com/ashureev/batteryshell/internal/shell"
)

// Args are the named arguments of a command.
type Args map[string]string

// Get returns the argument named key, or def when it is missing or blank.
func (a Args) Get(key, def string) string {
	if v := strings.TrimSpace(a[key]); v != "" {
		return v
	}
	return def
}

// Handler executes one command on behalf of the active module.
type Handler func(ctx context.Context, env *Env, args Args) error

// Module is the behavior of a loaded view or chip.
type Module interface {
	// Handlers returns the commands the module handles itself.
	Handlers() map[string]Handler
	// OnActivate runs once after the module's markup is in place.
	// ctx is cancelled when the module is torn down or a newer
	// navigation overtakes the activation.
	OnActivate(ctx context.Context, env *Env) error
	// OnDeactivate runs once before the module is replaced or unloaded.
	OnDeactivate(ctx context.Context) error
}

// Base is a Module with no handlers and no-op hooks, for embedding.
type Base struct{}

// Handlers implements Module.
func (Base) Handlers() map[string]Handler { return nil }

// OnActivate implements Module.
func (Base) OnActivate(context.Context, *Env) error { return nil }

// OnDeactivate implements Module.
func (Base) OnDeactivate(context.Context) error { return nil }

// Session is the read side of the shell session.
type Session interface {
	Snapshot() domain.SessionState
	IsConnected() bool
}

// ChipSlot loads chip modules into the nested chip slot.
type ChipSlot interface {
	Request(id string)
	Unload(ctx context.Context) error
	CurrentChip() string
}

// Archive stores exported snapshots.
type Archive interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
}

// Env is the set of shared services handed to a module.
type Env struct {
	Session    Session
	Gateway    *gateway.Gateway
	Log        *logbook.Book
	Slot       *shell.Slot
	Surface    *shell.Surface
	Notices    *shell.Notifier
	Chips      ChipSlot
	Archive    Archive
	Clock      clock.Clock
	Logger     *slog.Logger
	ExportedBy string
}

// Factory builds a fresh module instance for one activation.
type Factory func() Module

// Table maps module ids to factories.
type Table struct {
	mu       sync.RWMutex
	byID     map[string]Factory
	foldCase bool
}

// NewTable creates an empty table. With foldCase, ids match case-insensitively.
func NewTable(foldCase bool) *Table {
	return &Table{byID: make(map[string]Factory), foldCase: foldCase}
}

// Register adds a factory for id.
func (t *Table) Register(id string, f Factory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[t.key(id)] = f
}

// Has reports whether id has a behavior.
func (t *Table) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[t.key(id)]
	return ok
}

// Behavior builds the module for id. Ids without a behavior report domain.ErrArtifactNotFound.
func (t *Table) Behavior(id string) (Module, error) {
	t.mu.RLock()
	f, ok := t.byID[t.key(id)]
	t.mu.RUnlock()
	if !ok {
		return nil, &domain.OpError{Op: "fetch_behavior", Target: id, Err: domain.ErrArtifactNotFound}
	}
	m := f()
	if m == nil {
		return nil, &domain.OpError{Op: "fetch_behavior", Target: id, Err: fmt.Errorf("%w: factory returned nil", domain.ErrInitialization)}
	}
	return m, nil
}

// IDs returns the ids with a registered behavior, sorted.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Table) key(id string) string {
	if t.foldCase {
		return strings.ToLower(id)
	}
	return id
}
