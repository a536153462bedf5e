package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VerifiedEvent is a webhook payload whose origin has been checked.
// Verified is false only in the degraded local-development mode where no
// signing secret is configured.
type VerifiedEvent struct {
	Provider   Provider
	Verified   bool
	Payload    []byte
	ReceivedAt time.Time
}

// NormalizedEvent is the provider-agnostic form of a webhook notification.
type NormalizedEvent struct {
	Kind                   EventKind
	Provider               Provider
	ProviderEventType      string
	ExternalEventID        string
	ExternalSubscriptionID string
	SubscriptionRef        string // internal id echoed back from provider metadata
	OccurredAt             time.Time
	Amount                 Money
	TransactionID          string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	Trial                  bool
	Immediate              bool
	RawPayload             []byte
}

func (e NormalizedEvent) input() Input {
	return Input{
		Kind:          e.Kind,
		Source:        SourceProvider,
		EventID:       e.ExternalEventID,
		OccurredAt:    e.OccurredAt,
		Amount:        e.Amount,
		TransactionID: e.TransactionID,
		PeriodStart:   e.PeriodStart,
		PeriodEnd:     e.PeriodEnd,
		Trial:         e.Trial,
		Immediate:     e.Immediate,
		ProviderSubID: e.ExternalSubscriptionID,
	}
}

// InputSource tells provider notifications apart from local commands.
type InputSource string

const (
	SourceProvider InputSource = "provider"
	SourceLocal    InputSource = "local"
)

// Input is what the lifecycle decides on: a normalized event or a local command.
type Input struct {
	Kind          EventKind
	Source        InputSource
	EventID       string
	OccurredAt    time.Time
	Amount        Money
	TransactionID string
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	Trial         bool
	Immediate     bool
	Reason        string
	ProviderSubID string
}

// CommandKind names an employer-initiated or internal action.
type CommandKind string

const (
	CommandCancel       CommandKind = "cancel"
	CommandSuspend      CommandKind = "suspend"
	CommandResume       CommandKind = "resume"
	CommandGraceExpired CommandKind = "grace_expired"
)

// LocalCommand is a direct action on a subscription.
// A non-empty IdempotencyKey makes repeated submissions return the first outcome.
type LocalCommand struct {
	Kind           CommandKind
	Immediate      bool // cancel only: revoke now instead of at period end
	Reason         string
	IdempotencyKey string
}

func (c LocalCommand) input(now time.Time) (Input, error) {
	in := Input{
		Source:     SourceLocal,
		OccurredAt: now,
		Immediate:  c.Immediate,
		Reason:     c.Reason,
	}
	switch c.Kind {
	case CommandCancel:
		in.Kind = KindSubscriptionCancelled
		if in.Reason == "" {
			in.Reason = "requested_by_employer"
		}
	case CommandSuspend:
		in.Kind = KindSubscriptionSuspended
	case CommandResume:
		in.Kind = KindSubscriptionResumed
	case CommandGraceExpired:
		in.Kind = KindGraceExpired
	default:
		return Input{}, fmt.Errorf("%w: %q", ErrInvalidCommand, c.Kind)
	}
	return in, nil
}

// ApplyResult is the outcome of applying one event or command.
type ApplyResult struct {
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	Status         SubscriptionStatus `json:"status"`
	Applied        bool               `json:"applied"`
	Duplicate      bool               `json:"duplicate,omitempty"`
	Outcome        Outcome            `json:"outcome"`
	Reason         string             `json:"reason,omitempty"`
}

// Err converts a non-applied result into an error wrapping ErrNotApplied.
func (r ApplyResult) Err() error {
	switch {
	case r.Applied:
		return nil
	case r.Duplicate:
		return fmt.Errorf("%w: %w", ErrNotApplied, ErrDuplicateEvent)
	case r.Outcome == OutcomeStale:
		return fmt.Errorf("%w: %w", ErrNotApplied, ErrStaleEvent)
	default:
		return fmt.Errorf("%w: %s", ErrNotApplied, r.Reason)
	}
}
