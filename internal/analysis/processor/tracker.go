package processor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/stationsafe/scanner-go/internal/detection"
)

// EquipmentState is the presence record of one equipment class
type EquipmentState struct {
	Detected bool
	LastSeen *time.Time      // nil until the class is first detected
	Location *detection.BBox // nil while not detected
}

type equipmentStateJSON struct {
	Detected bool       `json:"detected"`
	LastSeen *time.Time `json:"last_seen"`
	Location *[4]int    `json:"location"`
}

// MarshalJSON renders the location as integer pixel corners, matching the
// detection bbox shape
func (s EquipmentState) MarshalJSON() ([]byte, error) {
	out := equipmentStateJSON{Detected: s.Detected, LastSeen: s.LastSeen}
	if s.Location != nil {
		ints := s.Location.Ints()
		out.Location = &ints
	}
	return json.Marshal(out)
}

// clone deep-copies the pointer fields
func (s EquipmentState) clone() EquipmentState {
	out := EquipmentState{Detected: s.Detected}
	if s.LastSeen != nil {
		t := *s.LastSeen
		out.LastSeen = &t
	}
	if s.Location != nil {
		b := *s.Location
		out.Location = &b
	}
	return out
}

// TransitionKind is the direction of a presence change
type TransitionKind int

const (
	TransitionDetected TransitionKind = iota
	TransitionMissing
)

func (k TransitionKind) String() string {
	if k == TransitionMissing {
		return "missing"
	}
	return "detected"
}

// Transition is a presence change of one class
type Transition struct {
	Class    string
	Kind     TransitionKind
	At       time.Time
	Location *detection.BBox // set for TransitionDetected
}

// Tracker holds the presence state of every registry class. It is edge
// triggered: a class produces a Transition only when its presence differs
// from the previous snapshot. There is no debounce, so a class that flickers
// between frames produces a transition on every flip.
type Tracker struct {
	registry detection.ClassRegistry

	mu     sync.RWMutex
	states map[string]EquipmentState
}

// NewTracker creates a tracker with every class absent
func NewTracker(registry detection.ClassRegistry) *Tracker {
	t := &Tracker{registry: registry}
	t.Reset()
	return t
}

// Reset marks every class absent and never seen
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.states = make(map[string]EquipmentState, t.registry.Len())
	for _, name := range t.registry {
		t.states[name] = EquipmentState{}
	}
}

// Update applies one processed snapshot and returns the transitions it
// caused, in registry order. When a class appears more than once its first
// box in snapshot order is used as the location.
func (t *Tracker) Update(snapshot []detection.Detection, now time.Time) []Transition {
	first := make(map[string]detection.BBox, len(snapshot))
	for _, d := range snapshot {
		if _, seen := first[d.ClassName]; !seen {
			first[d.ClassName] = d.Box
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var transitions []Transition
	next := make(map[string]EquipmentState, len(t.states))
	for _, name := range t.registry {
		prev := t.states[name]
		box, present := first[name]

		switch {
		case present:
			seen := now
			loc := box
			next[name] = EquipmentState{Detected: true, LastSeen: &seen, Location: &loc}
			if !prev.Detected {
				transitions = append(transitions, Transition{Class: name, Kind: TransitionDetected, At: now, Location: &loc})
			}
		case prev.Detected:
			next[name] = EquipmentState{Detected: false, LastSeen: prev.LastSeen}
			transitions = append(transitions, Transition{Class: name, Kind: TransitionMissing, At: now})
		default:
			next[name] = prev
		}
	}

	// replaced wholesale so readers never see a partially applied snapshot
	t.states = next
	return transitions
}

// Snapshot returns a copy of the current state keyed by class name
func (t *Tracker) Snapshot() map[string]EquipmentState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]EquipmentState, len(t.states))
	for name, s := range t.states {
		out[name] = s.clone()
	}
	return out
}

// Get returns the state of one class
func (t *Tracker) Get(class string) (EquipmentState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[class]
	return s.clone(), ok
}

// Classes returns the tracked class names in registry order
func (t *Tracker) Classes() []string {
	return t.registry.Names()
}
