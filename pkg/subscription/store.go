package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store persists subscriptions, payments and the webhook event log.
//
// Commit must be all-or-nothing: subscription rows, the payment record and
// the event log entry are written in one transaction or not at all.
type Store interface {
	// Get returns ErrSubscriptionNotFound when no row exists.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// FindByProviderRef looks a subscription up by the provider's id.
	FindByProviderRef(ctx context.Context, provider Provider, providerSubID string) (*Subscription, error)
	// ListByEmployer returns the employer's subscriptions, newest first.
	ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]Subscription, error)
	// ListPayments returns payments for a subscription, oldest first.
	ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error)
	// LookupEvent reports whether (provider, externalEventID) was already processed.
	LookupEvent(ctx context.Context, provider Provider, externalEventID string) (*EventLogEntry, bool, error)
	// Commit applies a change set atomically.
	Commit(ctx context.Context, c Commit) error
}

// Commit is one atomic change set.
//
// Updates carry the version read before the change; the store rejects the
// whole commit with ErrConcurrentModification if any row moved on, and
// bumps Version on success. An event log entry whose key already exists
// rejects the commit with ErrDuplicateEvent. A payment whose
// (provider, transaction id, status) is already recorded is skipped.
type Commit struct {
	Insert  []Subscription
	Update  []Subscription
	Payment *Payment
	Event   *EventLogEntry
}

// Empty reports whether the commit writes nothing.
func (c Commit) Empty() bool {
	return len(c.Insert) == 0 && len(c.Update) == 0 && c.Payment == nil && c.Event == nil
}
