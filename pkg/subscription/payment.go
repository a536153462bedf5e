package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Payment is an append-only record of one charge attempt.
type Payment struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Provider       Provider
	TransactionID  string
	Amount         Money
	Status         PaymentStatus
	OccurredAt     time.Time
	CreatedAt      time.Time
}

// EventLogEntry records the processing outcome of one external event or keyed
// local command. (Provider, ExternalEventID) is unique.
type EventLogEntry struct {
	Provider        Provider
	ExternalEventID string
	SubscriptionID  uuid.UUID // uuid.Nil when the subscription could not be resolved
	Kind            EventKind
	Outcome         Outcome
	Status          SubscriptionStatus // subscription status after processing
	Reason          string
	OccurredAt      time.Time
	ProcessedAt     time.Time
}
