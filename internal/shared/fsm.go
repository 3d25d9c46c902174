package shared

import "errors"

// ErrTransitionNotAllowed indicates the requested state change is not in the table.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine is a finite-state machine described by an explicit transition
// table. Document workflows (sales, transfers, procurement) declare their
// allowed transitions once and query the table instead of re-deriving the
// rules per request.
type Machine struct {
	transitions map[string][]string
}

// NewMachine builds a Machine from a map of current state to allowed next states.
func NewMachine(table map[string][]string) *Machine {
	transitions := make(map[string][]string, len(table))
	for from, next := range table {
		transitions[from] = append([]string(nil), next...)
	}
	return &Machine{transitions: transitions}
}

// Can reports whether the transition from -> to is allowed.
func (m *Machine) Can(from, to string) bool {
	for _, next := range m.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard returns ErrTransitionNotAllowed unless from -> to is in the table.
func (m *Machine) Guard(from, to string) error {
	if !m.Can(from, to) {
		return ErrTransitionNotAllowed
	}
	return nil
}

// Next returns the allowed next states for the given state.
func (m *Machine) Next(from string) []string {
	return append([]string(nil), m.transitions[from]...)
}

// Terminal reports whether the state has no outgoing transitions.
func (m *Machine) Terminal(state string) bool {
	return len(m.transitions[state]) == 0
}
