// Package views holds the behavior of the navigable shell views.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/module"
	"github.com/ashureev/batteryshell/internal/registry"
)

// Register adds every view behavior to t.
func Register(t *module.Table) {
	t.Register(registry.ViewBatteryInfo, func() module.Module { return &BatteryInfo{} })
	t.Register(registry.ViewAdvancedTools, func() module.Module { return &AdvancedTools{} })
	t.Register(registry.ViewCalibration, func() module.Module { return NewCalibration() })
	for _, id := range []string{registry.ViewChargeDischarge, registry.ViewSettings, registry.ViewAbout} {
		t.Register(id, func() module.Module { return &plain{id: id} })
	}
}

// plain is a view whose hooks only record that it is live.
type plain struct {
	module.Base
	id     string
	logger *slog.Logger
}

func (p *plain) OnActivate(_ context.Context, env *module.Env) error {
	p.logger = loggerOf(env)
	p.logger.Debug("View initialized", "view", p.id)
	return nil
}

func (p *plain) OnDeactivate(context.Context) error {
	if p.logger != nil {
		p.logger.Debug("View cleaned up", "view", p.id)
	}
	return nil
}

func loggerOf(env *module.Env) *slog.Logger {
	if env != nil && env.Logger != nil {
		return env.Logger
	}
	return slog.Default()
}

func notify(env *module.Env, msg string, sev domain.Severity) {
	if env.Notices != nil {
		env.Notices.Show(msg, sev)
	}
}

func connected(env *module.Env) bool {
	return env.Session != nil && env.Session.IsConnected()
}

func requireGateway(env *module.Env) error {
	if env.Gateway == nil {
		return fmt.Errorf("%w: no gateway configured", domain.ErrTransport)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
