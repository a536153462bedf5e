package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Queues used for deferred effects.
const (
	QueueProviderCalls = "billing_provider_calls"
	QueueNotifications = "billing_notifications"
	QueueLifecycle     = "billing_lifecycle"
)

// ProviderCallTask retries a provider call that failed inline.
type ProviderCallTask struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	Provider       Provider   `json:"provider"`
	ProviderSubID  string     `json:"provider_sub_id"`
	Operation      EffectKind `json:"operation"`
	Immediate      bool       `json:"immediate,omitempty"`
}

// NotificationTask asks the notifier to tell the employer about a transition.
type NotificationTask struct {
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	EmployerID     uuid.UUID          `json:"employer_id"`
	Kind           EffectKind         `json:"kind"`
	PlanID         string             `json:"plan_id"`
	Status         SubscriptionStatus `json:"status"`
	AmountPaid     Money              `json:"amount_paid"`
	GraceEndsAt    *time.Time         `json:"grace_ends_at,omitempty"`
	EntitledUntil  *time.Time         `json:"entitled_until,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// GraceExpiryTask runs the grace-period check once the deadline passes.
type GraceExpiryTask struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	GraceEndsAt    time.Time `json:"grace_ends_at"`
}
