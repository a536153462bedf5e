package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// CommitStage marks a point inside a MemoryStore commit where a fault can be injected.
type CommitStage string

const (
	StageSubscriptions CommitStage = "subscriptions"
	StagePayment       CommitStage = "payment"
	StageEventLog      CommitStage = "event_log"
)

// MemoryStore is an in-process Store for tests and single-instance development.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]Subscription
	payments []Payment
	events   map[eventKey]EventLogEntry
	fault    func(stage CommitStage) error
}

type eventKey struct {
	provider Provider
	id       string
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCommitFault installs a hook called after each stage of a commit is staged.
// A non-nil error aborts the commit and discards everything staged so far.
func WithCommitFault(fn func(stage CommitStage) error) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.fault = fn
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		subs:   make(map[uuid.UUID]Subscription),
		events: make(map[eventKey]EventLogEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) FindByProviderRef(_ context.Context, provider Provider, providerSubID string) (*Subscription, error) {
	if providerSubID == "" {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.Provider == provider && sub.ProviderSubID == providerSubID {
			return &sub, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) ListByEmployer(_ context.Context, employerID uuid.UUID) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, sub := range s.subs {
		if sub.EmployerID == employerID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return out, nil
}

func (s *MemoryStore) ListPayments(_ context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Payment
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) LookupEvent(_ context.Context, provider Provider, externalEventID string) (*EventLogEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.events[eventKey{provider, externalEventID}]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Events returns every event log entry, for assertions in tests.
func (s *MemoryStore) Events() []EventLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.events))
}

// Commit stages every write on copies and swaps them in only when all stages succeed.
func (s *MemoryStore) Commit(_ context.Context, c Commit) error {
	if c.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := maps.Clone(s.subs)
	for _, sub := range c.Insert {
		if _, exists := subs[sub.ID]; exists {
			return fmt.Errorf("%w: subscription %s already exists", ErrPersistence, sub.ID)
		}
		sub.Version = 1
		subs[sub.ID] = sub
	}
	for _, sub := range c.Update {
		current, ok := subs[sub.ID]
		if !ok {
			return ErrSubscriptionNotFound
		}
		if current.Version != sub.Version {
			return fmt.Errorf("%w: subscription %s at version %d, expected %d",
				ErrConcurrentModification, sub.ID, current.Version, sub.Version)
		}
		sub.Version++
		subs[sub.ID] = sub
	}
	if err := s.inject(StageSubscriptions); err != nil {
		return err
	}

	payments := s.payments
	if c.Payment != nil && !s.hasPayment(*c.Payment) {
		payments = append(slices.Clip(s.payments), *c.Payment)
	}
	if err := s.inject(StagePayment); err != nil {
		return err
	}

	events := s.events
	if c.Event != nil {
		key := eventKey{c.Event.Provider, c.Event.ExternalEventID}
		if _, exists := s.events[key]; exists {
			return ErrDuplicateEvent
		}
		events = maps.Clone(s.events)
		events[key] = *c.Event
	}
	if err := s.inject(StageEventLog); err != nil {
		return err
	}

	s.subs, s.payments, s.events = subs, payments, events
	return nil
}

func (s *MemoryStore) hasPayment(p Payment) bool {
	if p.TransactionID == "" {
		return false
	}
	return slices.ContainsFunc(s.payments, func(existing Payment) bool {
		return existing.Provider == p.Provider &&
			existing.TransactionID == p.TransactionID &&
			existing.Status == p.Status
	})
}

func (s *MemoryStore) inject(stage CommitStage) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(stage); err != nil {
		return errors.Join(ErrPersistence, err)
	}
	return nil
}
