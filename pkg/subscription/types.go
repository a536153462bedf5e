package subscription

import (
	"fmt"
	"strings"
)

// Provider identifies a payment provider integration.
// It is chosen once at the boundary and passed as a typed value from there on.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
	ProviderPaddle Provider = "paddle"
)

// localProvider namespaces idempotency keys of employer-initiated commands in the event log.
const localProvider Provider = "local"

// ParseProvider maps a route or config value to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderStripe, ProviderPayPal, ProviderPaddle:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

func (p Provider) String() string { return string(p) }

// SubscriptionStatus represents the current state of a subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Name implements statemachine.State.
func (s SubscriptionStatus) Name() string { return string(s) }

// IsTerminal reports whether no further transition can leave the status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// IsActiveLike reports whether the status counts toward the one-per-employer limit.
func (s SubscriptionStatus) IsActiveLike() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

// EventKind is the canonical, provider-agnostic kind of a lifecycle input.
type EventKind string

const (
	KindSubscriptionActivated EventKind = "subscription_activated"
	KindPaymentSucceeded      EventKind = "payment_succeeded"
	KindPaymentFailed         EventKind = "payment_failed"
	KindSubscriptionCancelled EventKind = "subscription_cancelled"
	KindSubscriptionSuspended EventKind = "subscription_suspended"
	KindSubscriptionResumed   EventKind = "subscription_resumed"
	KindSubscriptionExpired   EventKind = "subscription_expired"
	KindUnknown               EventKind = "unknown"

	// KindGraceExpired is raised locally by the delayed grace-period check.
	KindGraceExpired EventKind = "grace_expired"
)

// Name implements statemachine.Event.
func (k EventKind) Name() string { return string(k) }

// Outcome records what processing an input did to a subscription.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeStale    Outcome = "stale"
	OutcomeUnknown  Outcome = "unknown"
	OutcomeRejected Outcome = "rejected"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in smallest currency unit (cents for USD)
	Currency string `json:"currency"` // ISO 4217 currency code
}

// IsZero reports whether no amount was given.
func (m Money) IsZero() bool { return m.Amount == 0 && m.Currency == "" }

// BillingInterval represents the billing frequency for a subscription plan.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// PaymentStatus is the result of a charge attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)
