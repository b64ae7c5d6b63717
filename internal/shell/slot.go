package shell

import (
	"fmt"
	"maps"
	"sync"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

// SlotPhase is what a slot is currently showing.
type SlotPhase string

// Slot phases.
const (
	SlotEmpty   SlotPhase = "empty"
	SlotLoading SlotPhase = "loading"
	SlotContent SlotPhase = "content"
	SlotError   SlotPhase = "error"
)

// ErrorPanel is shown in place of content when a required artifact fails.
type ErrorPanel struct {
	Target         string `json:"target"`
	Message        string `json:"message"`
	RetryTarget    string `json:"retry_target"`
	FallbackTarget string `json:"fallback_target,omitempty"`
}

// SlotState is a snapshot of a slot.
type SlotState struct {
	Name     string            `json:"name"`
	Phase    SlotPhase         `json:"phase"`
	ModuleID string            `json:"module_id,omitempty"`
	Markup   string            `json:"markup,omitempty"`
	Style    string            `json:"style,omitempty"`
	Elements []string          `json:"elements,omitempty"`
	Regions  map[string]string `json:"regions,omitempty"`
	Error    *ErrorPanel       `json:"error,omitempty"`
}

// Slot is a named content area that holds one module's markup at a time.
type Slot struct {
	name string
	pub  events.Publisher

	mu       sync.RWMutex
	state    SlotState
	elements map[string]bool
}

// NewSlot creates an empty slot.
func NewSlot(name string, pub events.Publisher) *Slot {
	return &Slot{
		name:     name,
		pub:      events.OrNop(pub),
		state:    SlotState{Name: name, Phase: SlotEmpty},
		elements: map[string]bool{},
	}
}

// Name returns the slot name.
func (s *Slot) Name() string { return s.name }

// ShowLoading replaces the content with a loading indicator for id.
func (s *Slot) ShowLoading(id string) {
	s.reset(SlotState{Name: s.name, Phase: SlotLoading, ModuleID: id})
}

// Apply replaces the content with markup belonging to id.
func (s *Slot) Apply(id, markup string) error {
	ids, err := ElementIDs(markup)
	if err != nil {
		return &domain.OpError{Op: "apply_markup", Target: id, Err: err}
	}
	s.mu.Lock()
	s.state = SlotState{Name: s.name, Phase: SlotContent, ModuleID: id, Markup: markup, Elements: ids}
	s.elements = make(map[string]bool, len(ids))
	for _, e := range ids {
		s.elements[e] = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(events.TypeSlot, s.name, snap)
	return nil
}

// ApplyStyle attaches a style fragment to the current content.
// It is ignored when the slot no longer shows id.
func (s *Slot) ApplyStyle(id, css string) bool {
	s.mu.Lock()
	if s.state.ModuleID != id || s.state.Phase != SlotContent {
		s.mu.Unlock()
		return false
	}
	s.state.Style = css
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(events.TypeSlot, s.name, snap)
	return true
}

// ShowError replaces the content with an error panel.
func (s *Slot) ShowError(panel ErrorPanel) {
	s.reset(SlotState{Name: s.name, Phase: SlotError, ModuleID: panel.Target, Error: &panel})
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.reset(SlotState{Name: s.name, Phase: SlotEmpty})
}

// SetRegion sets the data shown in a named element of the current markup.
func (s *Slot) SetRegion(elementID, value string) error {
	s.mu.Lock()
	if !s.elements[elementID] {
		module := s.state.ModuleID
		s.mu.Unlock()
		return fmt.Errorf("%w: region %q not present in %s", domain.ErrInvalidInput, elementID, module)
	}
	if s.state.Regions == nil {
		s.state.Regions = make(map[string]string)
	}
	s.state.Regions[elementID] = value
	module := s.state.ModuleID
	s.mu.Unlock()

	s.pub.Publish(events.TypeRegion, s.name, map[string]string{"module": module, "element": elementID, "value": value})
	return nil
}

// SetRegions sets several regions, skipping ids the markup lacks.
func (s *Slot) SetRegions(values map[string]string) int {
	n := 0
	for id, v := range values {
		if s.SetRegion(id, v) == nil {
			n++
		}
	}
	return n
}

// Region returns the current value of a region.
func (s *Slot) Region(elementID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Regions[elementID]
	return v, ok
}

// Has reports whether the current markup declares elementID.
func (s *Slot) Has(elementID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elements[elementID]
}

// Snapshot returns a copy of the slot state.
func (s *Slot) Snapshot() SlotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Slot) reset(st SlotState) {
	s.mu.Lock()
	s.state = st
	s.elements = map[string]bool{}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(events.TypeSlot, s.name, snap)
}

func (s *Slot) snapshotLocked() SlotState {
	out := s.state
	out.Elements = append([]string(nil), s.state.Elements...)
	out.Regions = maps.Clone(s.state.Regions)
	if s.state.Error != nil {
		panel := *s.state.Error
		out.Error = &panel
	}
	return out
}
