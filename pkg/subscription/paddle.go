package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements PaymentProvider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
	opts     providerOptions
}

var _ PaymentProvider = (*PaddleProvider)(nil)

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig, opts ...ProviderOption) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: PADDLE_API_KEY is empty", ErrMissingConfig)
	}

	o := newProviderOptions(opts)
	var sdkOpts []paddle.Option
	if o.baseURL != "" {
		sdkOpts = append(sdkOpts, paddle.WithBaseURL(o.baseURL))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey, sdkOpts...)
	case "production", "":
		client, err = paddle.New(config.APIKey, sdkOpts...)
	default:
		return nil, fmt.Errorf("%w: invalid paddle environment: %s", ErrMissingConfig, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	p := &PaddleProvider{client: client, config: config, opts: o}
	if config.WebhookSecret != "" {
		p.verifier = paddle.NewWebhookVerifier(config.WebhookSecret)
	}
	return p, nil
}

// Name returns ProviderPaddle.
func (p *PaddleProvider) Name() Provider { return ProviderPaddle }

// Verify checks the Paddle-Signature header.
func (p *PaddleProvider) Verify(ctx context.Context, payload []byte, headers http.Header) (*VerifiedEvent, error) {
	event := &VerifiedEvent{
		Provider:   ProviderPaddle,
		Payload:    payload,
		ReceivedAt: p.opts.now(),
	}

	if p.verifier == nil {
		return nil, errors.Join(
			invalidSignature(ProviderPaddle, "webhook secret is not configured"),
			ErrMissingConfig,
		)
	}

	signature := headers.Get("Paddle-Signature")
	if signature == "" {
		return nil, invalidSignature(ProviderPaddle, "missing Paddle-Signature header")
	}

	// The SDK verifier works on requests.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, malformed(ProviderPaddle, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, invalidSignature(ProviderPaddle, err)
	}
	if !valid {
		return nil, invalidSignature(ProviderPaddle, "signature mismatch")
	}

	event.Verified = true
	return event, nil
}

type paddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type paddleData struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	SubscriptionID       string         `json:"subscription_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrencyCode         string         `json:"currency_code"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	BillingPeriod        *paddlePeriod  `json:"billing_period"`
	Details              struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
			Total      string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

func (d paddleData) subscriptionRef() string {
	ref, _ := d.CustomData[subscriptionRefKey].(string)
	return ref
}

func (d paddleData) period() *paddlePeriod {
	if d.CurrentBillingPeriod != nil {
		return d.CurrentBillingPeriod
	}
	return d.BillingPeriod
}

// amount reads transaction totals, which Paddle sends as strings in minor units.
func (d paddleData) amount() (Money, error) {
	total := d.Details.Totals.GrandTotal
	if total == "" {
		total = d.Details.Totals.Total
	}
	if total == "" {
		return Money{}, nil
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("invalid total %q: %w", total, err)
	}
	return Money{Amount: n, Currency: strings.ToUpper(d.CurrencyCode)}, nil
}

// Normalize maps a Paddle notification to a NormalizedEvent.
func (p *PaddleProvider) Normalize(_ context.Context, event *VerifiedEvent) (NormalizedEvent, error) {
	var evt paddleEvent
	if err := decodeJSON(ProviderPaddle, event.Payload, &evt); err != nil {
		return NormalizedEvent{}, err
	}
	if evt.EventID == "" || evt.EventType == "" {
		return NormalizedEvent{}, malformed(ProviderPaddle, errors.New("event_id and event_type are required"))
	}
	occurred, err := time.Parse(time.RFC3339, evt.OccurredAt)
	if err != nil {
		return NormalizedEvent{}, malformed(ProviderPaddle, err)
	}

	out := NormalizedEvent{
		Kind:              KindUnknown,
		Provider:          ProviderPaddle,
		ProviderEventType: evt.EventType,
		ExternalEventID:   evt.EventID,
		OccurredAt:        occurred.UTC(),
		RawPayload:        event.Payload,
	}

	var data paddleData
	if len(evt.Data) > 0 {
		if err := decodeJSON(ProviderPaddle, evt.Data, &data); err != nil {
			return NormalizedEvent{}, err
		}
	}
	out.SubscriptionRef = data.subscriptionRef()
	if period := data.period(); period != nil {
		out.PeriodStart = parseTime(period.StartsAt)
		out.PeriodEnd = parseTime(period.EndsAt)
	}

	switch {
	case strings.HasPrefix(evt.EventType, "subscription."):
		out.ExternalSubscriptionID = data.ID
		out.Trial = data.Status == "trialing"

		switch evt.EventType {
		case "subscription.created", "subscription.activated":
			out.Kind = KindSubscriptionActivated
		case "subscription.past_due":
			out.Kind = KindPaymentFailed
		case "subscription.paused":
			out.Kind = KindSubscriptionSuspended
		case "subscription.resumed":
			out.Kind = KindSubscriptionResumed
		case "subscription.canceled":
			// Paddle sends this once the cancellation has taken effect.
			out.Kind = KindSubscriptionCancelled
			out.Immediate = true
		}

	case strings.HasPrefix(evt.EventType, "transaction."):
		out.ExternalSubscriptionID = data.SubscriptionID
		out.TransactionID = data.ID

		switch evt.EventType {
		case "transaction.completed", "transaction.paid":
			out.Kind = KindPaymentSucceeded
		case "transaction.payment_failed":
			out.Kind = KindPaymentFailed
		}
		if out.Kind != KindUnknown {
			amount, err := data.amount()
			if err != nil {
				return NormalizedEvent{}, malformed(ProviderPaddle, err)
			}
			out.Amount = amount
		}
	}

	if out.Kind == KindUnknown {
		p.opts.log.Debug("unrecognized paddle event", "type", evt.EventType, "event_id", evt.EventID)
	}
	return out, nil
}

// CreateSubscription opens a checkout transaction. Paddle creates the
// subscription after payment, so the returned ID is empty and the
// subscription is matched later through custom data.
func (p *PaddleProvider) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			subscriptionRefKey: req.SubscriptionID.String(),
			"employer_id":      req.EmployerID.String(),
		},
	}
	if req.ReturnURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.ReturnURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, p.callError("create transaction", err)
	}

	out := &ProviderSubscription{Status: string(transaction.Status)}
	if transaction.Checkout != nil && transaction.Checkout.URL != nil {
		out.ApprovalURL = *transaction.Checkout.URL
	}
	if out.ApprovalURL == "" {
		return nil, p.callError("create transaction", errors.New("no checkout URL returned from paddle"))
	}
	return out, nil
}

// CancelSubscription cancels now or at the next billing period.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, providerSubID string, immediate bool) error {
	effective := paddle.EffectiveFromNextBillingPeriod
	if immediate {
		effective = paddle.EffectiveFromImmediately
	}
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return p.callError("cancel subscription", err)
	}
	return nil
}

// SuspendSubscription pauses the subscription.
func (p *PaddleProvider) SuspendSubscription(ctx context.Context, providerSubID string) error {
	_, err := p.client.SubscriptionsClient.PauseSubscription(ctx, &paddle.PauseSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return p.callError("pause subscription", err)
	}
	return nil
}

// ResumeSubscription resumes a paused subscription.
func (p *PaddleProvider) ResumeSubscription(ctx context.Context, providerSubID string) error {
	_, err := p.client.SubscriptionsClient.ResumeSubscription(ctx, &paddle.ResumeSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return p.callError("resume subscription", err)
	}
	return nil
}

// FetchSubscription reads the current provider state.
func (p *PaddleProvider) FetchSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return nil, p.callError("get subscription", err)
	}
	out := &ProviderSubscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.CurrentBillingPeriod != nil {
		out.PeriodStart = parseTime(sub.CurrentBillingPeriod.StartsAt)
		out.PeriodEnd = parseTime(sub.CurrentBillingPeriod.EndsAt)
	}
	return out, nil
}

func (p *PaddleProvider) callError(op string, err error) error {
	p.opts.log.Error("paddle api call failed", "operation", op, "error", err)
	return fmt.Errorf("%w: paddle: %s: %w", ErrProviderCall, op, err)
}
