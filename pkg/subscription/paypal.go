package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
)

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID     string `env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	WebhookID    string `env:"PAYPAL_WEBHOOK_ID"`
	Sandbox      bool   `env:"PAYPAL_SANDBOX" envDefault:"true"`
}

// PayPalProvider implements PaymentProvider for PayPal Subscriptions.
type PayPalProvider struct {
	cfg    PayPalConfig
	opts   providerOptions
	client *paypal.Client
}

var _ PaymentProvider = (*PayPalProvider)(nil)

// NewPayPalProvider creates a PayPal adapter.
func NewPayPalProvider(cfg PayPalConfig, opts ...ProviderOption) (*PayPalProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required", ErrMissingConfig)
	}

	o := newProviderOptions(opts)
	base := o.baseURL
	if base == "" {
		base = paypal.APIBaseLive
		if cfg.Sandbox {
			base = paypal.APIBaseSandBox
		}
	}

	client, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, errors.Join(ErrMissingConfig, err)
	}
	if o.httpClient != nil {
		client.SetHTTPClient(o.httpClient)
	}

	return &PayPalProvider{cfg: cfg, opts: o, client: client}, nil
}

// Name returns ProviderPayPal.
func (p *PayPalProvider) Name() Provider { return ProviderPayPal }

// Verify asks PayPal to validate the transmission headers for the configured webhook.
// A failed verification call is a provider error so that PayPal redelivers.
func (p *PayPalProvider) Verify(ctx context.Context, payload []byte, headers http.Header) (*VerifiedEvent, error) {
	event := &VerifiedEvent{
		Provider:   ProviderPayPal,
		Payload:    payload,
		ReceivedAt: p.opts.now(),
	}

	// PayPal cannot check a transmission without the webhook id.
	if p.cfg.WebhookID == "" {
		return nil, errors.Join(
			invalidSignature(ProviderPayPal, "webhook id is not configured"),
			ErrMissingConfig,
		)
	}

	for _, h := range []string{"Paypal-Transmission-Id", "Paypal-Transmission-Sig", "Paypal-Transmission-Time", "Paypal-Cert-Url"} {
		if headers.Get(h) == "" {
			return nil, invalidSignature(ProviderPayPal, "missing "+h+" header")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, malformed(ProviderPayPal, err)
	}
	req.Header = headers.Clone()

	resp, err := p.client.VerifyWebhookSignature(ctx, req, p.cfg.WebhookID)
	if err != nil {
		return nil, p.callError("verify webhook signature", err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return nil, invalidSignature(ProviderPayPal, "verification status "+resp.VerificationStatus)
	}

	event.Verified = true
	return event, nil
}

type paypalEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type paypalMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type paypalSubscriptionResource struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CustomID    string `json:"custom_id"`
	StartTime   string `json:"start_time"`
	BillingInfo struct {
		NextBillingTime   string `json:"next_billing_time"`
		LastFailedPayment struct {
			Amount paypalMoney `json:"amount"`
		} `json:"last_failed_payment"`
		CycleExecutions []struct {
			TenureType      string `json:"tenure_type"`
			CyclesRemaining int    `json:"cycles_remaining"`
		} `json:"cycle_executions"`
	} `json:"billing_info"`
}

func (r paypalSubscriptionResource) inTrial() bool {
	for _, c := range r.BillingInfo.CycleExecutions {
		if c.TenureType == "TRIAL" && c.CyclesRemaining > 0 {
			return true
		}
	}
	return false
}

type paypalSaleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// Normalize maps a PayPal webhook event to a NormalizedEvent.
func (p *PayPalProvider) Normalize(_ context.Context, event *VerifiedEvent) (NormalizedEvent, error) {
	var evt paypalEvent
	if err := decodeJSON(ProviderPayPal, event.Payload, &evt); err != nil {
		return NormalizedEvent{}, err
	}
	if evt.ID == "" || evt.EventType == "" {
		return NormalizedEvent{}, malformed(ProviderPayPal, errors.New("event id and event_type are required"))
	}
	occurred, err := time.Parse(time.RFC3339, evt.CreateTime)
	if err != nil {
		return NormalizedEvent{}, malformed(ProviderPayPal, err)
	}

	out := NormalizedEvent{
		Kind:              KindUnknown,
		Provider:          ProviderPayPal,
		ProviderEventType: evt.EventType,
		ExternalEventID:   evt.ID,
		OccurredAt:        occurred.UTC(),
		RawPayload:        event.Payload,
	}

	switch {
	case evt.EventType == "PAYMENT.SALE.COMPLETED":
		var sale paypalSaleResource
		if err := decodeJSON(ProviderPayPal, evt.Resource, &sale); err != nil {
			return NormalizedEvent{}, err
		}
		amount, err := minorUnits(sale.Amount.Total, sale.Amount.Currency)
		if err != nil {
			return NormalizedEvent{}, malformed(ProviderPayPal, err)
		}
		out.Kind = KindPaymentSucceeded
		out.ExternalSubscriptionID = sale.BillingAgreementID
		out.SubscriptionRef = sale.Custom
		out.TransactionID = sale.ID
		out.Amount = amount

	case strings.HasPrefix(evt.EventType, "BILLING.SUBSCRIPTION."):
		var res paypalSubscriptionResource
		if err := decodeJSON(ProviderPayPal, evt.Resource, &res); err != nil {
			return NormalizedEvent{}, err
		}
		out.ExternalSubscriptionID = res.ID
		out.SubscriptionRef = res.CustomID
		out.PeriodStart = parseTime(res.StartTime)
		out.PeriodEnd = parseTime(res.BillingInfo.NextBillingTime)
		out.Trial = res.inTrial()

		switch evt.EventType {
		case "BILLING.SUBSCRIPTION.ACTIVATED":
			out.Kind = KindSubscriptionActivated
		case "BILLING.SUBSCRIPTION.CANCELLED":
			out.Kind = KindSubscriptionCancelled
		case "BILLING.SUBSCRIPTION.SUSPENDED":
			out.Kind = KindSubscriptionSuspended
		case "BILLING.SUBSCRIPTION.RE-ACTIVATED":
			out.Kind = KindSubscriptionResumed
		case "BILLING.SUBSCRIPTION.EXPIRED":
			out.Kind = KindSubscriptionExpired
		case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
			out.Kind = KindPaymentFailed
			if last := res.BillingInfo.LastFailedPayment.Amount; last.Value != "" {
				amount, err := minorUnits(last.Value, last.CurrencyCode)
				if err != nil {
					return NormalizedEvent{}, malformed(ProviderPayPal, err)
				}
				out.Amount = amount
			}
		}
	}

	if out.Kind == KindUnknown {
		p.opts.log.Debug("unrecognized paypal event", "type", evt.EventType, "event_id", evt.ID)
	}
	return out, nil
}

// CreateSubscription creates an APPROVAL_PENDING subscription; the employer
// finishes checkout at the returned approval link.
func (p *PayPalProvider) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	base := paypal.SubscriptionBase{
		PlanID:   req.PriceID,
		CustomID: req.SubscriptionID.String(),
	}
	if req.ReturnURL != "" || req.CancelURL != "" {
		base.ApplicationContext = &paypal.ApplicationContext{
			ReturnURL: req.ReturnURL,
			CancelURL: req.CancelURL,
		}
	}

	resp, err := p.client.CreateSubscription(ctx, base)
	if err != nil {
		return nil, p.callError("create subscription", err)
	}

	out := &ProviderSubscription{ID: resp.ID, Status: string(resp.SubscriptionStatus)}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			out.ApprovalURL = link.Href
		}
	}
	return out, nil
}

// CancelSubscription cancels billing at PayPal. PayPal has no scheduled cancel,
// so access until period end is kept locally.
func (p *PayPalProvider) CancelSubscription(ctx context.Context, providerSubID string, _ bool) error {
	if err := p.client.CancelSubscription(ctx, providerSubID, "Cancelled by employer"); err != nil {
		return p.callError("cancel subscription", err)
	}
	return nil
}

// SuspendSubscription suspends billing at PayPal.
func (p *PayPalProvider) SuspendSubscription(ctx context.Context, providerSubID string) error {
	if err := p.client.SuspendSubscription(ctx, providerSubID, "Suspended"); err != nil {
		return p.callError("suspend subscription", err)
	}
	return nil
}

// ResumeSubscription reactivates a suspended PayPal subscription.
func (p *PayPalProvider) ResumeSubscription(ctx context.Context, providerSubID string) error {
	if err := p.client.ActivateSubscription(ctx, providerSubID, "Resumed"); err != nil {
		return p.callError("activate subscription", err)
	}
	return nil
}

// FetchSubscription reads the current provider state.
func (p *PayPalProvider) FetchSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	resp, err := p.client.GetSubscriptionDetails(ctx, providerSubID)
	if err != nil {
		return nil, p.callError("get subscription", err)
	}
	return &ProviderSubscription{ID: resp.ID, Status: string(resp.SubscriptionStatus)}, nil
}

func (p *PayPalProvider) callError(op string, err error) error {
	var perr *paypal.ErrorResponse
	if errors.As(err, &perr) && perr.Response != nil {
		p.opts.log.Error("paypal api call failed",
			"operation", op,
			"status", perr.Response.StatusCode,
			"name", perr.Name,
			"debug_id", perr.DebugID,
		)
	}
	return fmt.Errorf("%w: paypal: %s: %w", ErrProviderCall, op, err)
}
