// Package registry maps module ids to their static descriptors.
package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/batteryshell/internal/domain"
)

// Registry is a concurrency-safe table of module descriptors.
// Unknown ids describe as an empty descriptor, never an error.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]domain.ModuleDescriptor
	logger *slog.Logger
}

// New creates a registry holding descs.
func New(logger *slog.Logger, descs ...domain.ModuleDescriptor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byID: make(map[string]domain.ModuleDescriptor, len(descs)), logger: logger}
	for _, d := range descs {
		r.byID[d.ID] = d.Clone()
	}
	return r
}

// NewBuiltin creates a registry preloaded with the built-in views and chips.
func NewBuiltin(logger *slog.Logger) *Registry {
	return New(logger, Builtin()...)
}

// Describe returns the descriptor for id, or an empty descriptor for unknown ids.
func (r *Registry) Describe(id string) domain.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return domain.ModuleDescriptor{ID: id}
	}
	return d.Clone()
}

// DescribeOr returns the descriptor for id, or fallback when id has no bindings.
func (r *Registry) DescribeOr(id string, fallback domain.ModuleDescriptor) domain.ModuleDescriptor {
	d := r.Describe(id)
	if d.IsEmpty() {
		out := fallback.Clone()
		out.ID = id
		return out
	}
	return d
}

// Known reports whether id has a registered descriptor.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d domain.ModuleDescriptor) error {
	if err := validate(d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d.Clone()
	return nil
}

type yamlFile struct {
	Modules []domain.ModuleDescriptor `yaml:"modules"`
}

// LoadYAML merges descriptors from a YAML document of the form
//
//	modules:
//	  - id: EV2300
//	    bindings:
//	      - {element: unseal-chip-button, text: Unseal Chip, command: unseal_chip}
//
// The document is validated as a whole before anything is applied.
func (r *Registry) LoadYAML(src io.Reader) (int, error) {
	var file yamlFile
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("decode registry yaml: %w", err)
	}
	for _, d := range file.Modules {
		if err := validate(d); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range file.Modules {
		r.byID[d.ID] = d.Clone()
	}
	r.logger.Info("Loaded module descriptors", "count", len(file.Modules))
	return len(file.Modules), nil
}

func validate(d domain.ModuleDescriptor) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: module id is required", domain.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(d.Bindings))
	for _, b := range d.Bindings {
		if b.ElementID == "" || b.CommandName == "" {
			return fmt.Errorf("%w: module %s has a binding without element or command", domain.ErrInvalidInput, d.ID)
		}
		if seen[b.ElementID] {
			return fmt.Errorf("%w: module %s binds %s twice", domain.ErrInvalidInput, d.ID, b.ElementID)
		}
		seen[b.ElementID] = true
	}
	return nil
}
