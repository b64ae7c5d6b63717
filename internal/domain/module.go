// Package domain contains core domain types for the battery shell.
package domain

import "time"

// SurfaceBinding ties one UI affordance to the command it issues.
type SurfaceBinding struct {
	ElementID   string `json:"element_id" yaml:"element"`
	DisplayText string `json:"display_text" yaml:"text"`
	CommandName string `json:"command_name" yaml:"command"`
}

// ModuleDescriptor is the static description of a navigable module.
type ModuleDescriptor struct {
	ID       string           `json:"id" yaml:"id"`
	Bindings []SurfaceBinding `json:"bindings" yaml:"bindings"`
}

// IsEmpty reports whether the descriptor activates no affordances.
func (d ModuleDescriptor) IsEmpty() bool {
	return len(d.Bindings) == 0
}

// Clone returns a deep copy so callers cannot mutate registry-owned data.
func (d ModuleDescriptor) Clone() ModuleDescriptor {
	out := ModuleDescriptor{ID: d.ID}
	if d.Bindings != nil {
		out.Bindings = make([]SurfaceBinding, len(d.Bindings))
		copy(out.Bindings, d.Bindings)
	}
	return out
}

// ModuleStatus is the lifecycle status of the active module slot.
type ModuleStatus string

const (
	// ModuleUnloaded means no module occupies the slot.
	ModuleUnloaded ModuleStatus = "unloaded"
	// ModuleLoading means artifacts for the target are being fetched.
	ModuleLoading ModuleStatus = "loading"
	// ModuleReady means the module is active.
	ModuleReady ModuleStatus = "ready"
	// ModuleFailed means the last attempt failed on its required artifact.
	ModuleFailed ModuleStatus = "failed"
)

// ActiveModule is a snapshot of the slot a loader manages.
type ActiveModule struct {
	ID          string       `json:"id,omitempty"`
	Status      ModuleStatus `json:"status"`
	HasBehavior bool         `json:"has_behavior"`
	Degraded    bool         `json:"degraded"`
	LastTarget  string       `json:"last_target,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	ActivatedAt time.Time    `json:"activated_at,omitempty"`
}
