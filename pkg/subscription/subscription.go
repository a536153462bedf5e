package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is one employer's relationship to one plan over time.
// Rows are never deleted; cancelled and expired are terminal statuses.
type Subscription struct {
	ID            uuid.UUID
	EmployerID    uuid.UUID
	Provider      Provider
	ProviderSubID string // empty until the provider confirms
	PlanID        string
	Status        SubscriptionStatus

	PeriodStart *time.Time
	PeriodEnd   *time.Time
	AmountPaid  Money
	Trial       bool

	CancelRequested bool
	CancelReason    string
	GraceEndsAt     *time.Time // set while past_due
	EntitledUntil   *time.Time // entitlement cutoff once revoked or scheduled to end

	LastEventID string
	LastEventAt *time.Time // timestamp of the causally-latest applied input

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ActivatedAt *time.Time
	CancelledAt *time.Time
	SuspendedAt *time.Time
	ExpiredAt   *time.Time

	// Version is the optimistic concurrency counter; stores bump it on every update.
	Version int64
}

// IsTerminal reports whether the subscription has reached cancelled or expired.
func (s *Subscription) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// IsActiveLike reports whether the subscription is trialing, active or past_due.
func (s *Subscription) IsActiveLike() bool {
	return s.Status.IsActiveLike()
}

// EntitledAt reports whether the employer may use plan features at the given time.
// Past-due subscriptions keep access until the grace period ends; cancelled ones
// until the end of the paid period unless cancellation was immediate.
func (s *Subscription) EntitledAt(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusTrialing:
		return true
	case StatusPastDue:
		return s.GraceEndsAt == nil || now.Before(*s.GraceEndsAt)
	case StatusCancelled:
		return s.EntitledUntil != nil && now.Before(*s.EntitledUntil)
	default:
		return false
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
