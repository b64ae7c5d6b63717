package shell

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

// Affordances is the fixed set of chip action elements, in display order.
var Affordances = []string{
	"unseal-chip-button",
	"seal-chip-button",
	"clear-errors-button",
	"read-chip-info-button",
	"read-eeprom-button",
	"write-eeprom-button",
	"save-to-file-button",
	"load-from-file-button",
	"parse-log-button",
	"write-data-button",
}

// Affordance is one element of the action bar.
type Affordance struct {
	ElementID string `json:"element_id"`
	Text      string `json:"text"`
	Command   string `json:"command,omitempty"`
	Visible   bool   `json:"visible"`
}

// Surface is the action bar whose elements a chip module binds to commands.
type Surface struct {
	pub events.Publisher

	mu      sync.RWMutex
	byID    map[string]*Affordance
	ownerID string
}

// NewSurface creates a surface with every affordance hidden and unbound.
func NewSurface(pub events.Publisher) *Surface {
	s := &Surface{pub: events.OrNop(pub), byID: make(map[string]*Affordance, len(Affordances))}
	for _, id := range Affordances {
		s.byID[id] = &Affordance{ElementID: id, Text: defaultText(id)}
	}
	return s
}

// HideAll hides and unbinds every affordance.
func (s *Surface) HideAll() {
	s.mu.Lock()
	for _, a := range s.byID {
		a.Visible = false
		a.Command = ""
		a.Text = defaultText(a.ElementID)
	}
	s.ownerID = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(events.TypeSurface, "", snap)
}

// Activate shows and binds the affordances named by d. Bindings for elements
// outside the fixed set are skipped. It returns the number of bound elements.
func (s *Surface) Activate(d domain.ModuleDescriptor) int {
	s.mu.Lock()
	n := 0
	for _, b := range d.Bindings {
		a, ok := s.byID[b.ElementID]
		if !ok {
			continue
		}
		a.Visible = true
		a.Command = b.CommandName
		if b.DisplayText != "" {
			a.Text = b.DisplayText
		}
		n++
	}
	s.ownerID = d.ID
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.pub.Publish(events.TypeSurface, d.ID, snap)
	return n
}

// Press returns the command bound to a visible element.
func (s *Surface) Press(elementID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[elementID]
	if !ok {
		return "", fmt.Errorf("%w: unknown element %q", domain.ErrInvalidInput, elementID)
	}
	if !a.Visible || a.Command == "" {
		return "", fmt.Errorf("%w: element %q is not active", domain.ErrInvalidInput, elementID)
	}
	return a.Command, nil
}

// Owner returns the id of the descriptor last activated.
func (s *Surface) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerID
}

// Snapshot returns the affordances in display order.
func (s *Surface) Snapshot() []Affordance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Visible returns the visible affordances in display order.
func (s *Surface) Visible() []Affordance {
	var out []Affordance
	for _, a := range s.Snapshot() {
		if a.Visible {
			out = append(out, a)
		}
	}
	return out
}

func (s *Surface) snapshotLocked() []Affordance {
	out := make([]Affordance, 0, len(Affordances))
	for _, id := range Affordances {
		out = append(out, *s.byID[id])
	}
	return out
}

// defaultText turns "read-eeprom-button" into "Read Eeprom".
func defaultText(id string) string {
	words := strings.Split(strings.TrimSuffix(id, "-button"), "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
