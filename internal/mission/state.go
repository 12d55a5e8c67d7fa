// Package mission holds the value types shared by the mission catalog, the
// per-actor tracker and the branch resolution engine.
package mission

import (
	"fmt"
	"strings"
)

// ID identifies a mission definition within one catalog load. Ids are dense,
// start at 1 and are not stable across reloads; tags are the durable identity.
type ID int32

// None is the zero id.
const None ID = 0

// Valid reports whether the id can refer to a definition.
func (id ID) Valid() bool { return id > 0 }

// State is the lifecycle position of a mission for one actor.
type State string

const (
	// StateInactive means the mission is known but not yet granted.
	StateInactive State = "inactive"
	// StateLocked means the mission is visible but gated.
	StateLocked State = "locked"
	// StateActive means the mission is in progress and can be completed.
	StateActive State = "active"
	// StatePending means a delayed branch transition is in flight.
	StatePending State = "pending"
	// StateCompleted means the mission finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the mission was failed.
	StateFailed State = "failed"
	// StateInvalid means the mission was removed from the actor.
	StateInvalid State = "invalid"
)

var allStates = []State{
	StateInactive,
	StateLocked,
	StateActive,
	StatePending,
	StateCompleted,
	StateFailed,
	StateInvalid,
}

// States returns every known state in lifecycle order.
func States() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// Known reports whether s is one of the defined states.
func (s State) Known() bool {
	for _, st := range allStates {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the mission for the actor.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateInvalid
}

// Ordinal returns the position of s in lifecycle order, or -1 if unknown.
func (s State) Ordinal() int {
	for i, st := range allStates {
		if s == st {
			return i
		}
	}
	return -1
}

// StateFromOrdinal is the inverse of Ordinal.
func StateFromOrdinal(n int) (State, bool) {
	if n < 0 || n >= len(allStates) {
		return "", false
	}
	return allStates[n], true
}

// ParseState accepts state names case-insensitively.
func ParseState(raw string) (State, error) {
	s := State(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Known() {
		return "", fmt.Errorf("mission: unknown state %q", raw)
	}
	return s, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Known() {
		return nil, fmt.Errorf("mission: unknown state %q", string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
