package statemachine

import (
	"context"
	"fmt"
	"slices"
)

// State represents a state in the transition table.
type State interface {
	Name() string
}

// Event represents an input that can trigger a state transition.
type Event interface {
	Name() string
}

// Guard evaluates whether a transition should be allowed based on runtime data.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition defines a state change triggered by an event.
// Effects are opaque labels the caller interprets after the transition is chosen;
// the table never executes them.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard  // All must pass for transition to be selected
	Effects []string // Declared side effects, in order
}

// Table is an immutable transition table. It holds no current state, which makes
// resolution a pure function of (state, event, data) and safe for concurrent use
// without locking.
type Table struct {
	transitions map[string]map[string][]Transition
}

func newTable() *Table {
	return &Table{transitions: make(map[string]map[string][]Transition)}
}

func (t *Table) add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}

	from := tr.From.Name()
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[string][]Transition)
	}

	// Multiple transitions allowed for same from/event to support guard-based branching
	t.transitions[from][tr.Event.Name()] = append(t.transitions[from][tr.Event.Name()], tr)
	return nil
}

// Resolve returns the first transition from the given state whose guards all pass.
// Returns ErrNoTransitionAvailable when nothing is defined for the pair and
// ErrTransitionRejected when every candidate was vetoed by a guard.
func (t *Table) Resolve(ctx context.Context, from State, event Event, data any) (Transition, error) {
	if from == nil {
		return Transition{}, ErrInvalidState
	}
	if event == nil {
		return Transition{}, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return Transition{}, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	// First transition with passing guards wins (enables priority ordering)
	for _, tr := range candidates {
		if guardsPass(ctx, tr.Guards, from, event, data) {
			tr.Effects = slices.Clone(tr.Effects)
			return tr, nil
		}
	}

	return Transition{}, NewErrTransitionRejected(from.Name(), event.Name())
}

// CanFire reports whether Resolve would succeed.
func (t *Table) CanFire(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

// Events lists event names that have at least one transition from the state, sorted.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}
	names := make([]string, 0, len(t.transitions[from.Name()]))
	for name := range t.transitions[from.Name()] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, guard := range guards {
		if guard != nil && !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}

// StringState provides a simple string-based state implementation.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent provides a simple string-based event implementation.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}

func describe(v interface{ Name() string }) string {
	if v == nil {
		return "<nil>"
	}
	return v.Name()
}

func wrapDefinitionError(i int, tr Transition, err error) error {
	return fmt.Errorf("failed to add transition[%d] %s->%s on %s: %w",
		i, describe(tr.From), describe(tr.To), describe(tr.Event), err)
}
