// Package phase defines the ordered lifecycle milestones a build unit moves through.
//
// Phases are totally ordered by ordinal:
//
//	None < Downloaded < Extracted < Patched < Configured < Built < Destrooted < Activated < Deactivated
//
// The ordinal is also the persisted identity, so two Phase values are equal
// exactly when their ordinals are equal.
package phase

import (
	"fmt"
	"strings"
)

// Phase is a lifecycle milestone.
type Phase int

const (
	None Phase = iota
	Downloaded
	Extracted
	Patched
	Configured
	Built
	Destrooted
	Activated
	Deactivated
)

var names = [...]string{
	None:        "none",
	Downloaded:  "downloaded",
	Extracted:   "extracted",
	Patched:     "patched",
	Configured:  "configured",
	Built:       "built",
	Destrooted:  "destrooted",
	Activated:   "activated",
	Deactivated: "deactivated",
}

// UnknownPhaseError is returned when a phase name is not part of the defined set.
type UnknownPhaseError struct {
	Name string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("unknown phase %q", e.Name)
}

// All returns every phase in order, None included.
func All() []Phase {
	out := make([]Phase, 0, len(names))
	for p := None; p <= Deactivated; p++ {
		out = append(out, p)
	}
	return out
}

// Parse converts a phase name back into a Phase.
func Parse(name string) (Phase, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for p, n := range names {
		if n == needle {
			return Phase(p), nil
		}
	}
	return None, &UnknownPhaseError{Name: name}
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p >= None && p <= Deactivated
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return names[p]
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(names[p]), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Before reports whether p comes strictly before other.
func (p Phase) Before(other Phase) bool {
	return p < other
}

// Set is an unordered collection of phases.
type Set map[Phase]struct{}

// NewSet builds a Set from the given phases.
func NewSet(phases ...Phase) Set {
	s := make(Set, len(phases))
	for _, p := range phases {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p Phase) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in phase order.
func (s Set) Sorted() []Phase {
	out := make([]Phase, 0, len(s))
	for _, p := range All() {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Highest returns the latest phase in the set, ignoring Deactivated.
// An empty set yields None.
func (s Set) Highest() Phase {
	highest := None
	for p := range s {
		if p != Deactivated && p > highest {
			highest = p
		}
	}
	return highest
}
