package subscription

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Verifier authenticates that a webhook payload originated from the provider.
// Failures wrap ErrInvalidSignature. Verification never mutates state.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) (*VerifiedEvent, error)
}

// Normalizer maps a verified provider payload to a NormalizedEvent.
// Unrecognized event types become KindUnknown; unparsable JSON wraps ErrMalformedPayload.
type Normalizer interface {
	Normalize(ctx context.Context, event *VerifiedEvent) (NormalizedEvent, error)
}

// Operations are the outbound calls the core makes to a provider.
// Every call may fail with network, timeout, 4xx or 5xx errors.
type Operations interface {
	CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, providerSubID string, immediate bool) error
	SuspendSubscription(ctx context.Context, providerSubID string) error
	ResumeSubscription(ctx context.Context, providerSubID string) error
	FetchSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)
}

// PaymentProvider is one provider integration: Stripe, PayPal or Paddle.
type PaymentProvider interface {
	Name() Provider
	Verifier
	Normalizer
	Operations
}

// CreateRequest carries what a provider needs to start a subscription.
type CreateRequest struct {
	SubscriptionID uuid.UUID // sent to the provider as metadata and echoed back in webhooks
	EmployerID     uuid.UUID
	Email          string
	PriceID        string
	TrialDays      int
	ReturnURL      string
	CancelURL      string
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID          string
	Status      string // raw provider status
	ApprovalURL string // where the employer completes payment, when the provider needs it
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}
