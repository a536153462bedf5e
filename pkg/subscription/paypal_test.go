package subscription_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/environment"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

type paypalStub struct {
	mu           sync.Mutex
	verifyStatus string
	verifyFail   bool
	requests     []string
	bodies       map[string]map[string]any
}

func (s *paypalStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	s.requests = append(s.requests, key)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if s.bodies == nil {
		s.bodies = map[string]map[string]any{}
	}
	s.bodies[key] = body

	w.Header().Set("Content-Type", "application/json")
	switch key {
	case "POST /v1/oauth2/token":
		_, _ = w.Write([]byte(`{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`))
	case "POST /v1/notifications/verify-webhook-signature":
		if s.verifyFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"name":"SERVICE_UNAVAILABLE","message":"try later","debug_id":"dbg1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"verification_status":"` + s.verifyStatus + `"}`))
	case "POST /v1/billing/subscriptions":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"I-123","status":"APPROVAL_PENDING","links":[
			{"href":"https://paypal.test/webapps/billing/subscriptions?ba_token=BA-1","rel":"approve","method":"GET"},
			{"href":"https://api.paypal.test/v1/billing/subscriptions/I-123","rel":"self","method":"GET"}
		]}`))
	case "POST /v1/billing/subscriptions/I-123/cancel",
		"POST /v1/billing/subscriptions/I-123/suspend",
		"POST /v1/billing/subscriptions/I-123/activate":
		w.WriteHeader(http.StatusNoContent)
	case "GET /v1/billing/subscriptions/I-123":
		_, _ = w.Write([]byte(`{"id":"I-123","status":"ACTIVE"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"name":"RESOURCE_NOT_FOUND","message":"not found","debug_id":"dbg2"}`))
	}
}

func (s *paypalStub) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r == key {
			return true
		}
	}
	return false
}

func (s *paypalStub) body(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[key]
}

func newPayPal(t *testing.T, stub *paypalStub, webhookID string, opts ...subscription.ProviderOption) *subscription.PayPalProvider {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	opts = append([]subscription.ProviderOption{subscription.WithBaseURL(srv.URL), subscription.WithHTTPClient(srv.Client())}, opts...)
	p, err := subscription.NewPayPalProvider(subscription.PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    webhookID,
		Sandbox:      true,
	}, opts...)
	require.NoError(t, err)
	return p
}

func paypalHeaders() http.Header {
	h := http.Header{}
	h.Set("Paypal-Transmission-Id", "b2384410-f8d2-11ea-b9e9-4f4e4b6f2c6d")
	h.Set("Paypal-Transmission-Sig", "c2lnbmF0dXJl")
	h.Set("Paypal-Transmission-Time", "2025-03-01T12:00:00Z")
	h.Set("Paypal-Cert-Url", "https://api.paypal.com/v1/notifications/certs/CERT-360caa42")
	h.Set("Paypal-Auth-Algo", "SHA256withRSA")
	return h
}

func TestNewPayPalProvider(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewPayPalProvider(subscription.PayPalConfig{ClientID: "only-id"})
	assert.ErrorIs(t, err, subscription.ErrMissingConfig)

	p, err := subscription.NewPayPalProvider(subscription.PayPalConfig{ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, subscription.ProviderPayPal, p.Name())
}

func TestPayPalVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","create_time":"2025-03-01T12:00:00Z","resource":{}}`)

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		stub := &paypalStub{verifyStatus: "SUCCESS"}
		p := newPayPal(t, stub, "WH-ID-1")

		event, err := p.Verify(ctx, payload, paypalHeaders())
		require.NoError(t, err)
		assert.True(t, event.Verified)
		assert.True(t, stub.seen("POST /v1/oauth2/token"))

		body := stub.body("POST /v1/notifications/verify-webhook-signature")
		require.NotNil(t, body)
		assert.Equal(t, "WH-ID-1", body["webhook_id"])
		assert.Equal(t, "b2384410-f8d2-11ea-b9e9-4f4e4b6f2c6d", body["transmission_id"])
		assert.Equal(t, "WH-1", body["webhook_event"].(map[string]any)["id"])
	})

	t.Run("failure status", func(t *testing.T) {
		t.Parallel()
		p := newPayPal(t, &paypalStub{verifyStatus: "FAILURE"}, "WH-ID-1")
		_, err := p.Verify(ctx, payload, paypalHeaders())
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("verification call fails", func(t *testing.T) {
		t.Parallel()
		p := newPayPal(t, &paypalStub{verifyFail: true}, "WH-ID-1")
		_, err := p.Verify(ctx, payload, paypalHeaders())
		require.ErrorIs(t, err, subscription.ErrProviderCall)
		assert.True(t, subscription.IsRetryable(err))
	})

	t.Run("missing transmission headers", func(t *testing.T) {
		t.Parallel()
		stub := &paypalStub{verifyStatus: "SUCCESS"}
		p := newPayPal(t, stub, "WH-ID-1")

		h := paypalHeaders()
		h.Del("Paypal-Transmission-Sig")
		_, err := p.Verify(ctx, payload, h)
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
		assert.False(t, stub.seen("POST /v1/notifications/verify-webhook-signature"))
	})

	t.Run("no webhook id", func(t *testing.T) {
		t.Parallel()
		for _, env := range []environment.Environment{environment.Development, environment.Production} {
			stub := &paypalStub{verifyStatus: "SUCCESS"}
			p := newPayPal(t, stub, "", subscription.WithProviderEnvironment(env))

			event, err := p.Verify(ctx, payload, paypalHeaders())
			assert.Nil(t, event, env)
			assert.ErrorIs(t, err, subscription.ErrInvalidSignature, env)
			assert.ErrorIs(t, err, subscription.ErrMissingConfig, env)
			assert.False(t, stub.seen("POST /v1/notifications/verify-webhook-signature"))
		}
	})
}

func TestPayPalNormalize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPayPal(t, &paypalStub{}, "")
	ref := uuid.NewString()

	normalize := func(t *testing.T, eventType string, resource any) subscription.NormalizedEvent {
		t.Helper()
		payload, err := json.Marshal(map[string]any{
			"id":          "WH-42",
			"event_type":  eventType,
			"create_time": "2025-03-01T12:00:00.000Z",
			"resource":    resource,
		})
		require.NoError(t, err)
		event, err := p.Normalize(ctx, &subscription.VerifiedEvent{Provider: subscription.ProviderPayPal, Payload: payload})
		require.NoError(t, err)
		assert.Equal(t, "WH-42", event.ExternalEventID)
		assert.Equal(t, subscription.ProviderPayPal, event.Provider)
		assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), event.OccurredAt)
		return event
	}

	subscriptionResource := map[string]any{
		"id":         "I-123",
		"status":     "ACTIVE",
		"custom_id":  ref,
		"start_time": "2025-03-01T00:00:00Z",
		"billing_info": map[string]any{
			"next_billing_time": "2025-04-01T00:00:00Z",
			"cycle_executions": []any{
				map[string]any{"tenure_type": "TRIAL", "cycles_remaining": 0},
				map[string]any{"tenure_type": "REGULAR", "cycles_remaining": 0},
			},
			"last_failed_payment": map[string]any{
				"amount": map[string]any{"value": "49.00", "currency_code": "USD"},
			},
		},
	}

	kinds := map[string]subscription.EventKind{
		"BILLING.SUBSCRIPTION.ACTIVATED":      subscription.KindSubscriptionActivated,
		"BILLING.SUBSCRIPTION.CANCELLED":      subscription.KindSubscriptionCancelled,
		"BILLING.SUBSCRIPTION.SUSPENDED":      subscription.KindSubscriptionSuspended,
		"BILLING.SUBSCRIPTION.RE-ACTIVATED":   subscription.KindSubscriptionResumed,
		"BILLING.SUBSCRIPTION.EXPIRED":        subscription.KindSubscriptionExpired,
		"BILLING.SUBSCRIPTION.PAYMENT.FAILED": subscription.KindPaymentFailed,
		"BILLING.SUBSCRIPTION.UPDATED":        subscription.KindUnknown,
	}
	for eventType, kind := range kinds {
		t.Run(eventType, func(t *testing.T) {
			t.Parallel()
			event := normalize(t, eventType, subscriptionResource)
			assert.Equal(t, kind, event.Kind)
			assert.Equal(t, "I-123", event.ExternalSubscriptionID)
			assert.Equal(t, ref, event.SubscriptionRef)
			assert.False(t, event.Trial)
			require.NotNil(t, event.PeriodStart)
			require.NotNil(t, event.PeriodEnd)
			assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *event.PeriodEnd)
		})
	}

	t.Run("payment failed amount", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "BILLING.SUBSCRIPTION.PAYMENT.FAILED", subscriptionResource)
		assert.Equal(t, subscription.Money{Amount: 4900, Currency: "USD"}, event.Amount)
	})

	t.Run("trial cycle", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "BILLING.SUBSCRIPTION.ACTIVATED", map[string]any{
			"id": "I-9",
			"billing_info": map[string]any{
				"cycle_executions": []any{map[string]any{"tenure_type": "TRIAL", "cycles_remaining": 1}},
			},
		})
		assert.True(t, event.Trial)
		assert.Nil(t, event.PeriodEnd)
	})

	t.Run("sale completed amount", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "PAYMENT.SALE.COMPLETED", map[string]any{
			"id":                   "SALE-2",
			"billing_agreement_id": "I-123",
			"custom":               ref,
			"amount":               map[string]any{"total": "12.50", "currency": "EUR"},
		})
		assert.Equal(t, subscription.KindPaymentSucceeded, event.Kind)
		assert.Equal(t, "SALE-2", event.TransactionID)
		assert.Equal(t, "I-123", event.ExternalSubscriptionID)
		assert.Equal(t, ref, event.SubscriptionRef)
		assert.Equal(t, subscription.Money{Amount: 1250, Currency: "EUR"}, event.Amount)
	})

	t.Run("unrelated event", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "CHECKOUT.ORDER.APPROVED", map[string]any{"id": "ORDER-1"})
		assert.Equal(t, subscription.KindUnknown, event.Kind)
		assert.Empty(t, event.ExternalSubscriptionID)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, payload := range []string{
			`not json`,
			`{"event_type":"PAYMENT.SALE.COMPLETED","create_time":"2025-03-01T12:00:00Z"}`,
			`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","create_time":"yesterday"}`,
			`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","create_time":"2025-03-01T12:00:00Z","resource":{"amount":{"total":"1.234","currency":"USD"}}}`,
			`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","create_time":"2025-03-01T12:00:00Z","resource":{"amount":{"total":"1.00","currency":"XYZW"}}}`,
		} {
			_, err := p.Normalize(ctx, &subscription.VerifiedEvent{Payload: []byte(payload)})
			assert.ErrorIs(t, err, subscription.ErrMalformedPayload, payload)
		}
	})
}

func TestPayPalOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	stub := &paypalStub{}
	p := newPayPal(t, stub, "")
	subID := uuid.New()

	created, err := p.CreateSubscription(ctx, subscription.CreateRequest{
		SubscriptionID: subID,
		EmployerID:     uuid.New(),
		PriceID:        "P-PLAN-1",
		ReturnURL:      "https://jobs.test/billing/return",
		CancelURL:      "https://jobs.test/billing/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "I-123", created.ID)
	assert.Equal(t, "APPROVAL_PENDING", created.Status)
	assert.Equal(t, "https://paypal.test/webapps/billing/subscriptions?ba_token=BA-1", created.ApprovalURL)

	body := stub.body("POST /v1/billing/subscriptions")
	assert.Equal(t, "P-PLAN-1", body["plan_id"])
	assert.Equal(t, subID.String(), body["custom_id"])

	require.NoError(t, p.CancelSubscription(ctx, "I-123", false))
	assert.True(t, stub.seen("POST /v1/billing/subscriptions/I-123/cancel"))

	require.NoError(t, p.SuspendSubscription(ctx, "I-123"))
	assert.True(t, stub.seen("POST /v1/billing/subscriptions/I-123/suspend"))

	require.NoError(t, p.ResumeSubscription(ctx, "I-123"))
	assert.True(t, stub.seen("POST /v1/billing/subscriptions/I-123/activate"))

	got, err := p.FetchSubscription(ctx, "I-123")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", got.Status)

	err = p.CancelSubscription(ctx, "I-404", true)
	require.ErrorIs(t, err, subscription.ErrProviderCall)
}
