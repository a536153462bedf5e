package statemachine

import "fmt"

// Option configures a transition table during construction.
type Option func(*Table) error

// TransitionOption configures a single transition with guards and effects.
type TransitionOption func(*Transition)

// TransitionDef defines a transition between states.
type TransitionDef struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Effects []string
}

// New builds an immutable transition table from the given options.
func New(opts ...Option) (*Table, error) {
	t := newTable()
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew works like New but panics on invalid definitions.
// Transition tables are package-level configuration, so a broken one should prevent startup.
func MustNew(opts ...Option) *Table {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition table: %v", err))
	}
	return t
}

// WithTransition adds a single transition.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		tr := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&tr)
		}
		return t.add(tr)
	}
}

// WithTransitions adds multiple transitions at once.
func WithTransitions(defs []TransitionDef) Option {
	return func(t *Table) error {
		for i, d := range defs {
			tr := Transition{From: d.From, To: d.To, Event: d.Event, Guards: d.Guards, Effects: d.Effects}
			if err := t.add(tr); err != nil {
				return wrapDefinitionError(i, tr, err)
			}
		}
		return nil
	}
}

// FromAny adds the same transition from every listed state.
func FromAny(froms []State, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		for _, from := range froms {
			if err := WithTransition(from, to, event, opts...)(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(tr *Transition) {
		if guard != nil {
			tr.Guards = append(tr.Guards, guard)
		}
	}
}

// WithGuards adds multiple guards to a transition.
func WithGuards(guards ...Guard) TransitionOption {
	return func(tr *Transition) {
		for _, guard := range guards {
			if guard != nil {
				tr.Guards = append(tr.Guards, guard)
			}
		}
	}
}

// WithEffects declares side effects for a transition.
func WithEffects(effects ...string) TransitionOption {
	return func(tr *Transition) {
		for _, e := range effects {
			if e != "" {
				tr.Effects = append(tr.Effects, e)
			}
		}
	}
}
