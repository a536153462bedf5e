package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/jobboard/pkg/environment"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// StripeProvider implements PaymentProvider for Stripe Billing.
type StripeProvider struct {
	cfg           StripeConfig
	opts          providerOptions
	customers     *customer.Client
	subscriptions *stripesub.Client
}

var _ PaymentProvider = (*StripeProvider)(nil)

// NewStripeProvider creates a Stripe adapter.
func NewStripeProvider(cfg StripeConfig, opts ...ProviderOption) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is empty", ErrMissingConfig)
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}

	o := newProviderOptions(opts)
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(0), // retries go through the task queue
	}
	if o.baseURL != "" {
		backendCfg.URL = stripe.String(o.baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeProvider{
		cfg:           cfg,
		opts:          o,
		customers:     &customer.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: &stripesub.Client{B: backend, Key: cfg.SecretKey},
	}, nil
}

// Name returns ProviderStripe.
func (p *StripeProvider) Name() Provider { return ProviderStripe }

// Verify checks the Stripe-Signature header against the raw payload.
func (p *StripeProvider) Verify(_ context.Context, payload []byte, headers http.Header) (*VerifiedEvent, error) {
	event := &VerifiedEvent{
		Provider:   ProviderStripe,
		Payload:    payload,
		ReceivedAt: p.opts.now(),
	}

	if p.cfg.WebhookSecret == "" {
		if p.opts.env == environment.Production {
			return nil, errors.Join(
				invalidSignature(ProviderStripe, "webhook secret is not configured"),
				ErrMissingConfig,
			)
		}
		p.opts.log.Warn("stripe webhook accepted without signature verification")
		return event, nil
	}

	sig := headers.Get("Stripe-Signature")
	if sig == "" {
		return nil, invalidSignature(ProviderStripe, "missing Stripe-Signature header")
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sig, p.cfg.WebhookSecret, p.cfg.WebhookTolerance); err != nil {
		return nil, invalidSignature(ProviderStripe, err)
	}

	event.Verified = true
	return event, nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePeriod struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type stripeSubscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	TrialEnd int64             `json:"trial_end"`
	// Set while collection is paused; the status stays active meanwhile.
	PauseCollection *struct {
		Behavior string `json:"behavior"`
	} `json:"pause_collection"`
	stripePeriod
	Items struct {
		Data []stripePeriod `json:"data"`
	} `json:"items"`
}

func (o stripeSubscriptionObject) period() stripePeriod {
	// Newer API versions moved billing periods onto subscription items.
	if o.CurrentPeriodEnd == 0 && len(o.Items.Data) > 0 {
		return o.Items.Data[0]
	}
	return o.stripePeriod
}

type stripeInvoiceObject struct {
	ID           string            `json:"id"`
	Currency     string            `json:"currency"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	Subscription json.RawMessage   `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (o stripeInvoiceObject) subscriptionID() string {
	if id := stripeObjectID(o.Subscription); id != "" {
		return id
	}
	return stripeObjectID(o.Parent.SubscriptionDetails.Subscription)
}

func (o stripeInvoiceObject) subscriptionRef() string {
	for _, md := range []map[string]string{
		o.Parent.SubscriptionDetails.Metadata,
		o.SubscriptionDetails.Metadata,
		o.Metadata,
	} {
		if ref := md[subscriptionRefKey]; ref != "" {
			return ref
		}
	}
	return ""
}

// stripeObjectID reads a field that is either an id string or an expanded object.
func stripeObjectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// Normalize maps a Stripe event to a NormalizedEvent.
func (p *StripeProvider) Normalize(_ context.Context, event *VerifiedEvent) (NormalizedEvent, error) {
	var evt stripeEvent
	if err := decodeJSON(ProviderStripe, event.Payload, &evt); err != nil {
		return NormalizedEvent{}, err
	}
	if evt.ID == "" || evt.Type == "" {
		return NormalizedEvent{}, malformed(ProviderStripe, errors.New("event id and type are required"))
	}

	out := NormalizedEvent{
		Kind:              KindUnknown,
		Provider:          ProviderStripe,
		ProviderEventType: evt.Type,
		ExternalEventID:   evt.ID,
		OccurredAt:        time.Unix(evt.Created, 0).UTC(),
		RawPayload:        event.Payload,
	}

	switch {
	case strings.HasPrefix(evt.Type, "customer.subscription."):
		var obj stripeSubscriptionObject
		if err := decodeJSON(ProviderStripe, evt.Data.Object, &obj); err != nil {
			return NormalizedEvent{}, err
		}
		out.ExternalSubscriptionID = obj.ID
		out.SubscriptionRef = obj.Metadata[subscriptionRefKey]
		period := obj.period()
		out.PeriodStart = unixTime(period.CurrentPeriodStart)
		out.PeriodEnd = unixTime(period.CurrentPeriodEnd)
		out.Trial = obj.Status == "trialing"
		if out.Trial && obj.TrialEnd > 0 {
			out.PeriodEnd = unixTime(obj.TrialEnd)
		}

		switch evt.Type {
		case "customer.subscription.created", "customer.subscription.updated":
			out.Kind = stripeStatusKind(obj.Status)
			if out.Kind == KindSubscriptionActivated && obj.PauseCollection != nil {
				out.Kind = KindSubscriptionSuspended
			}
			out.Immediate = out.Kind == KindSubscriptionCancelled
		case "customer.subscription.deleted":
			out.Kind = KindSubscriptionCancelled
			out.Immediate = true
		case "customer.subscription.paused":
			out.Kind = KindSubscriptionSuspended
		case "customer.subscription.resumed":
			out.Kind = KindSubscriptionResumed
		}

	case strings.HasPrefix(evt.Type, "invoice."):
		var obj stripeInvoiceObject
		if err := decodeJSON(ProviderStripe, evt.Data.Object, &obj); err != nil {
			return NormalizedEvent{}, err
		}
		out.ExternalSubscriptionID = obj.subscriptionID()
		out.SubscriptionRef = obj.subscriptionRef()
		out.TransactionID = obj.ID
		if len(obj.Lines.Data) > 0 {
			out.PeriodStart = unixTime(obj.Lines.Data[0].Period.Start)
			out.PeriodEnd = unixTime(obj.Lines.Data[0].Period.End)
		}

		switch evt.Type {
		case "invoice.paid", "invoice.payment_succeeded":
			out.Kind = KindPaymentSucceeded
			out.Amount = Money{Amount: obj.AmountPaid, Currency: strings.ToUpper(obj.Currency)}
		case "invoice.payment_failed":
			out.Kind = KindPaymentFailed
			out.Amount = Money{Amount: obj.AmountDue, Currency: strings.ToUpper(obj.Currency)}
		}
	}

	if out.Kind == KindUnknown {
		p.opts.log.Debug("unrecognized stripe event", "type", evt.Type, "event_id", evt.ID)
	}
	return out, nil
}

func stripeStatusKind(status string) EventKind {
	switch status {
	case "active", "trialing":
		return KindSubscriptionActivated
	case "past_due":
		return KindPaymentFailed
	case "paused", "unpaid":
		return KindSubscriptionSuspended
	case "canceled":
		return KindSubscriptionCancelled
	case "incomplete_expired":
		return KindSubscriptionExpired
	default:
		return KindUnknown
	}
}

// CreateSubscription creates a customer and an incomplete subscription whose
// first invoice the employer pays through the hosted invoice page.
func (p *StripeProvider) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	ref := req.SubscriptionID.String()

	cparams := &stripe.CustomerParams{}
	cparams.Context = ctx
	if req.Email != "" {
		cparams.Email = stripe.String(req.Email)
	}
	cparams.AddMetadata("employer_id", req.EmployerID.String())
	cparams.AddMetadata(subscriptionRefKey, ref)
	cparams.SetIdempotencyKey("customer-" + ref)

	cust, err := p.customers.New(cparams)
	if err != nil {
		return nil, p.callError("create customer", err)
	}

	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(cust.ID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(req.PriceID)}},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	params.AddMetadata(subscriptionRefKey, ref)
	params.AddMetadata("employer_id", req.EmployerID.String())
	params.AddExpand("latest_invoice")
	params.SetIdempotencyKey("subscription-" + ref)

	sub, err := p.subscriptions.New(params)
	if err != nil {
		return nil, p.callError("create subscription", err)
	}
	return stripeProviderSubscription(sub), nil
}

// CancelSubscription cancels now or at the end of the current period.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerSubID string, immediate bool) error {
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		if _, err := p.subscriptions.Cancel(providerSubID, params); err != nil {
			return p.callError("cancel subscription", err)
		}
		return nil
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := p.subscriptions.Update(providerSubID, params); err != nil {
		return p.callError("cancel subscription at period end", err)
	}
	return nil
}

// SuspendSubscription pauses collection and voids invoices raised while paused.
func (p *StripeProvider) SuspendSubscription(ctx context.Context, providerSubID string) error {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{Behavior: stripe.String("void")},
	}
	params.Context = ctx
	if _, err := p.subscriptions.Update(providerSubID, params); err != nil {
		return p.callError("pause subscription", err)
	}
	return nil
}

// ResumeSubscription clears pause_collection.
func (p *StripeProvider) ResumeSubscription(ctx context.Context, providerSubID string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")
	if _, err := p.subscriptions.Update(providerSubID, params); err != nil {
		return p.callError("resume subscription", err)
	}
	return nil
}

// FetchSubscription reads the current provider state.
func (p *StripeProvider) FetchSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.subscriptions.Get(providerSubID, params)
	if err != nil {
		return nil, p.callError("get subscription", err)
	}
	return stripeProviderSubscription(sub), nil
}

func (p *StripeProvider) callError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		p.opts.log.Error("stripe api call failed",
			"operation", op,
			"status", serr.HTTPStatusCode,
			"code", serr.Code,
			"request_id", serr.RequestID,
		)
	}
	return fmt.Errorf("%w: stripe: %s: %w", ErrProviderCall, op, err)
}

func stripeProviderSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil {
		out.ApprovalURL = sub.LatestInvoice.HostedInvoiceURL
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		out.PeriodStart = unixTime(sub.Items.Data[0].CurrentPeriodStart)
		out.PeriodEnd = unixTime(sub.Items.Data[0].CurrentPeriodEnd)
	}
	return out
}
