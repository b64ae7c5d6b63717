package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/batteryshell/internal/artifact"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/shell"
)

func (l *Loader) transition(ctx context.Context, target string, gen uint64) Result {
	res := Result{Target: target}
	log := l.logger.With("module", target)

	l.teardown()
	if l.stale(gen) {
		return l.abandon(res)
	}

	l.setPhase(PhaseLoading, domain.ActiveModule{Status: domain.ModuleLoading, LastTarget: target})
	l.slot().ShowLoading(target)
	log.Info("Loading module")

	markup, err := l.fetch(ctx, artifact.Markup, target)
	if l.stale(gen) {
		return l.abandon(res)
	}
	if err == nil && !shell.HasContent(string(markup)) {
		err = &domain.OpError{Op: "fetch_markup", Target: target, Err: fmt.Errorf("%w: empty markup", domain.ErrArtifactNotFound)}
	}
	switch {
	case err == nil:
		if err := l.slot().Apply(target, string(markup)); err != nil {
			return l.fail(res, err)
		}
	case l.cfg.MarkupOptional:
		log.Debug("Module has no markup", "error", err)
		l.slot().Clear()
	default:
		return l.fail(res, err)
	}

	// Style and behavior are optional and fetched independently.
	var (
		style    []byte
		styleErr error
		mod      module.Module
		modErr   error
	)
	// Each result is judged on its own below, so the group only joins.
	var g errgroup.Group
	g.Go(func() error {
		style, styleErr = l.fetch(ctx, artifact.Style, target)
		return nil
	})
	g.Go(func() error {
		mod, modErr = l.behavior(target)
		return nil
	})
	_ = g.Wait()
	if l.stale(gen) {
		return l.abandon(res)
	}

	switch {
	case styleErr == nil:
		l.slot().ApplyStyle(target, string(style))
	case errors.Is(styleErr, domain.ErrArtifactNotFound):
		log.Debug("No style artifact")
	default:
		log.Warn("Style artifact failed", "error", styleErr)
		res.Warnings = append(res.Warnings, styleErr)
	}
	switch {
	case modErr == nil:
	case errors.Is(modErr, domain.ErrArtifactNotFound):
		log.Debug("No behavior artifact")
	default:
		log.Warn("Behavior artifact failed", "error", modErr)
		res.Warnings = append(res.Warnings, modErr)
	}

	if l.cfg.Surface != nil {
		desc := l.describe(target, mod != nil)
		n := l.cfg.Surface.Activate(desc)
		log.Debug("Surface activated", "descriptor", desc.ID, "bound", n)
	}

	modCtx, cancel := context.WithCancel(l.ctx)
	status := domain.ActiveModule{
		ID:          target,
		Status:      domain.ModuleReady,
		HasBehavior: mod != nil,
		LastTarget:  target,
	}
	if mod != nil {
		// A newer request cancels the module context while the hook is still running.
		stop := context.AfterFunc(ctx, cancel)
		err := l.safeCall(func() error { return mod.OnActivate(modCtx, l.cfg.Env) })
		stop()
		if err != nil {
			initErr := &domain.OpError{Op: "activate", Target: target, Err: fmt.Errorf("%w: %v", domain.ErrInitialization, err)}
			log.Warn("Module initialization failed", "error", err)
			status.Degraded = true
			status.LastError = initErr.Error()
			res.Warnings = append(res.Warnings, initErr)
		}
	}

	l.mu.Lock()
	l.current = &activeModule{id: target, mod: mod, cancel: cancel}
	l.mu.Unlock()

	if l.stale(gen) {
		// Overtaken during init: tear down what was started.
		l.teardown()
		return l.abandon(res)
	}

	status.ActivatedAt = l.clock.Now()
	l.setPhase(PhaseActive, status)
	log.Info("Module active", "has_behavior", status.HasBehavior, "degraded", status.Degraded)
	res.Active = status
	return res
}

func (l *Loader) unload(gen uint64) Result {
	l.teardown()
	l.slot().Clear()
	if l.cfg.Surface != nil {
		l.cfg.Surface.HideAll()
	}
	if l.stale(gen) {
		return l.abandon(Result{})
	}
	l.setPhase(PhaseIdle, domain.ActiveModule{Status: domain.ModuleUnloaded})
	l.logger.Info("Slot unloaded")
	return Result{Active: l.Active()}
}

// teardown deactivates the current module. Hook failures are logged and never block.
func (l *Loader) teardown() {
	l.mu.Lock()
	cur := l.current
	l.current = nil
	last := l.status
	l.mu.Unlock()

	if cur == nil {
		return
	}
	l.setPhase(PhaseUnloading, domain.ActiveModule{ID: cur.id, Status: last.Status, HasBehavior: last.HasBehavior, LastTarget: last.LastTarget})

	if cur.mod != nil {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TeardownTimeout)
		if err := l.safeCall(func() error { return cur.mod.OnDeactivate(ctx) }); err != nil {
			l.logger.Warn("Module teardown failed", "module", cur.id, "error", err)
		}
		cancel()
	}
	cur.cancel()
	if l.cfg.Surface != nil {
		l.cfg.Surface.HideAll()
	}
	l.setPhase(PhaseIdle, domain.ActiveModule{Status: domain.ModuleUnloaded, LastTarget: cur.id})
	l.logger.Debug("Module torn down", "module", cur.id)
}

func (l *Loader) fail(res Result, err error) Result {
	l.logger.Error("Module failed to load", "module", res.Target, "error", err)
	l.slot().ShowError(shell.ErrorPanel{
		Target:         res.Target,
		Message:        errorMessage(err),
		RetryTarget:    res.Target,
		FallbackTarget: l.cfg.FallbackTarget,
	})
	status := domain.ActiveModule{Status: domain.ModuleFailed, LastTarget: res.Target, LastError: err.Error()}
	l.setPhase(PhaseFailed, status)
	res.Active = status
	res.Err = err
	return res
}

func (l *Loader) abandon(res Result) Result {
	l.logger.Debug("Discarding stale navigation", "module", res.Target)
	l.mu.Lock()
	if l.phase == PhaseLoading {
		l.phase = PhaseIdle
		l.status = domain.ActiveModule{Status: domain.ModuleUnloaded, LastTarget: l.status.LastTarget}
	}
	l.mu.Unlock()
	res.Superseded = true
	return res
}

func (l *Loader) fetch(ctx context.Context, kind artifact.Kind, id string) ([]byte, error) {
	if l.cfg.Store == nil {
		return nil, &domain.OpError{Op: "fetch_" + string(kind), Target: id, Err: domain.ErrArtifactNotFound}
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	defer cancel()
	return l.cfg.Store.Fetch(ctx, kind, id)
}

func (l *Loader) describe(id string, hasBehavior bool) domain.ModuleDescriptor {
	if l.cfg.Fallback == nil {
		return l.cfg.Registry.Describe(id)
	}
	if !hasBehavior {
		d := l.cfg.Fallback.Clone()
		d.ID = id
		return d
	}
	return l.cfg.Registry.DescribeOr(id, *l.cfg.Fallback)
}

func (l *Loader) slot() *shell.Slot {
	return l.cfg.Slot
}

func (l *Loader) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// behavior instantiates the module behavior, turning a factory panic into an init error.
func (l *Loader) behavior(id string) (mod module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod = nil
			err = &domain.OpError{Op: "fetch_behavior", Target: id, Err: fmt.Errorf("%w: panic: %v", domain.ErrInitialization, r)}
		}
	}()
	return l.cfg.Behaviors.Behavior(id)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		return "Module markup not found"
	case errors.Is(err, domain.ErrTransport):
		return "Module markup could not be fetched"
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
