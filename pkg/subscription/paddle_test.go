package subscription_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/environment"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

const paddleSecret = "pdl_ntfset_test_secret"

func signPaddle(secret string, payload []byte) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(payload)

	h := http.Header{}
	h.Set("Paddle-Signature", fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func newPaddle(t *testing.T, cfg subscription.PaddleConfig, opts ...subscription.ProviderOption) *subscription.PaddleProvider {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "pdl_sdbx_apikey_test"
	}
	p, err := subscription.NewPaddleProvider(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPaddleProvider(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewPaddleProvider(subscription.PaddleConfig{})
	assert.ErrorIs(t, err, subscription.ErrMissingConfig)

	_, err = subscription.NewPaddleProvider(subscription.PaddleConfig{APIKey: "key", Environment: "staging"})
	assert.ErrorIs(t, err, subscription.ErrMissingConfig)

	for _, env := range []string{"sandbox", "production", ""} {
		p := newPaddle(t, subscription.PaddleConfig{Environment: env})
		assert.Equal(t, subscription.ProviderPaddle, p.Name())
	}
}

func TestPaddleVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payload := []byte(`{"event_id":"evt_01","event_type":"transaction.completed","occurred_at":"2025-03-01T12:00:00Z","data":{}}`)
	p := newPaddle(t, subscription.PaddleConfig{WebhookSecret: paddleSecret})

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		event, err := p.Verify(ctx, payload, signPaddle(paddleSecret, payload))
		require.NoError(t, err)
		assert.True(t, event.Verified)
		assert.Equal(t, subscription.ProviderPaddle, event.Provider)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, err := p.Verify(ctx, payload, signPaddle("other", payload))
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		headers := signPaddle(paddleSecret, payload)
		_, err := p.Verify(ctx, append([]byte(nil), payload[:len(payload)-1]...), headers)
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set("Paddle-Signature", "not-a-signature")
		_, err := p.Verify(ctx, payload, h)
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		_, err := p.Verify(ctx, payload, http.Header{})
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("no secret", func(t *testing.T) {
		t.Parallel()
		for _, env := range []environment.Environment{environment.Development, environment.Production} {
			p := newPaddle(t, subscription.PaddleConfig{}, subscription.WithProviderEnvironment(env))
			event, err := p.Verify(ctx, payload, signPaddle(paddleSecret, payload))
			assert.Nil(t, event, env)
			assert.ErrorIs(t, err, subscription.ErrInvalidSignature, env)
			assert.ErrorIs(t, err, subscription.ErrMissingConfig, env)
		}
	})
}

func TestPaddleNormalize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPaddle(t, subscription.PaddleConfig{})
	ref := uuid.NewString()

	normalize := func(t *testing.T, eventType string, data map[string]any) subscription.NormalizedEvent {
		t.Helper()
		payload, err := json.Marshal(map[string]any{
			"event_id":    "evt_01hv",
			"event_type":  eventType,
			"occurred_at": "2025-03-01T12:00:00.123456Z",
			"data":        data,
		})
		require.NoError(t, err)
		event, err := p.Normalize(ctx, &subscription.VerifiedEvent{Provider: subscription.ProviderPaddle, Payload: payload})
		require.NoError(t, err)
		assert.Equal(t, "evt_01hv", event.ExternalEventID)
		assert.Equal(t, eventType, event.ProviderEventType)
		assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC), event.OccurredAt)
		return event
	}

	subData := func(status string) map[string]any {
		return map[string]any{
			"id":          "sub_01",
			"status":      status,
			"custom_data": map[string]any{"subscription_ref": ref},
			"current_billing_period": map[string]any{
				"starts_at": "2025-03-01T00:00:00Z",
				"ends_at":   "2025-04-01T00:00:00Z",
			},
		}
	}

	tests := []struct {
		eventType string
		status    string
		kind      subscription.EventKind
		immediate bool
		trial     bool
	}{
		{"subscription.created", "trialing", subscription.KindSubscriptionActivated, false, true},
		{"subscription.activated", "active", subscription.KindSubscriptionActivated, false, false},
		{"subscription.past_due", "past_due", subscription.KindPaymentFailed, false, false},
		{"subscription.paused", "paused", subscription.KindSubscriptionSuspended, false, false},
		{"subscription.resumed", "active", subscription.KindSubscriptionResumed, false, false},
		{"subscription.canceled", "canceled", subscription.KindSubscriptionCancelled, true, false},
		{"subscription.updated", "active", subscription.KindUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			t.Parallel()
			event := normalize(t, tt.eventType, subData(tt.status))
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.immediate, event.Immediate)
			assert.Equal(t, tt.trial, event.Trial)
			assert.Equal(t, "sub_01", event.ExternalSubscriptionID)
			assert.Equal(t, ref, event.SubscriptionRef)
			require.NotNil(t, event.PeriodEnd)
			assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *event.PeriodEnd)
		})
	}

	txnData := map[string]any{
		"id":              "txn_01",
		"status":          "completed",
		"subscription_id": "sub_01",
		"currency_code":   "usd",
		"custom_data":     map[string]any{"subscription_ref": ref},
		"billing_period":  map[string]any{"starts_at": "2025-03-01T00:00:00Z", "ends_at": "2025-04-01T00:00:00Z"},
		"details":         map[string]any{"totals": map[string]any{"grand_total": "4900", "total": "4500"}},
	}

	t.Run("transaction completed", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "transaction.completed", txnData)
		assert.Equal(t, subscription.KindPaymentSucceeded, event.Kind)
		assert.Equal(t, "txn_01", event.TransactionID)
		assert.Equal(t, "sub_01", event.ExternalSubscriptionID)
		assert.Equal(t, ref, event.SubscriptionRef)
		assert.Equal(t, subscription.Money{Amount: 4900, Currency: "USD"}, event.Amount)
		require.NotNil(t, event.PeriodStart)
	})

	t.Run("transaction payment failed", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "transaction.payment_failed", map[string]any{
			"id":              "txn_02",
			"subscription_id": "sub_01",
			"currency_code":   "EUR",
			"details":         map[string]any{"totals": map[string]any{"total": "1500"}},
		})
		assert.Equal(t, subscription.KindPaymentFailed, event.Kind)
		assert.Equal(t, subscription.Money{Amount: 1500, Currency: "EUR"}, event.Amount)
	})

	t.Run("transaction created is ignored", func(t *testing.T) {
		t.Parallel()
		event := normalize(t, "transaction.created", txnData)
		assert.Equal(t, subscription.KindUnknown, event.Kind)
		assert.True(t, event.Amount.IsZero())
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, payload := range []string{
			`[]`,
			`{"event_type":"transaction.completed","occurred_at":"2025-03-01T12:00:00Z"}`,
			`{"event_id":"evt_1","event_type":"transaction.completed","occurred_at":"soon"}`,
			`{"event_id":"evt_1","event_type":"transaction.completed","occurred_at":"2025-03-01T12:00:00Z","data":"x"}`,
			`{"event_id":"evt_1","event_type":"transaction.completed","occurred_at":"2025-03-01T12:00:00Z","data":{"details":{"totals":{"grand_total":"49.00"}}}}`,
		} {
			_, err := p.Normalize(ctx, &subscription.VerifiedEvent{Payload: []byte(payload)})
			assert.ErrorIs(t, err, subscription.ErrMalformedPayload, payload)
		}
	})
}

type paddleStub struct {
	mu     sync.Mutex
	bodies map[string]map[string]any
}

func (s *paddleStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if s.bodies == nil {
		s.bodies = map[string]map[string]any{}
	}
	s.bodies[key] = body

	w.Header().Set("Content-Type", "application/json")
	switch key {
	case "POST /transactions":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"txn_01","status":"ready","checkout":{"url":"https://jobs.test/pay?_ptxn=txn_01"}},"meta":{"request_id":"req_1"}}`))
	case "POST /subscriptions/sub_01/cancel", "POST /subscriptions/sub_01/pause", "POST /subscriptions/sub_01/resume":
		_, _ = w.Write([]byte(`{"data":{"id":"sub_01","status":"active"},"meta":{"request_id":"req_2"}}`))
	case "GET /subscriptions/sub_01":
		_, _ = w.Write([]byte(`{"data":{"id":"sub_01","status":"active","current_billing_period":{"starts_at":"2025-03-01T00:00:00Z","ends_at":"2025-04-01T00:00:00Z"}},"meta":{"request_id":"req_3"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"request_error","code":"not_found","detail":"Entity not found"},"meta":{"request_id":"req_4"}}`))
	}
}

func (s *paddleStub) body(key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bodies[key]
	return b, ok
}

func TestPaddleOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	stub := &paddleStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	p := newPaddle(t, subscription.PaddleConfig{Environment: "sandbox"},
		subscription.WithBaseURL(srv.URL),
	)
	subID := uuid.New()

	created, err := p.CreateSubscription(ctx, subscription.CreateRequest{
		SubscriptionID: subID,
		EmployerID:     uuid.New(),
		PriceID:        "pri_pro",
		ReturnURL:      "https://jobs.test/pay",
	})
	require.NoError(t, err)
	assert.Empty(t, created.ID)
	assert.Equal(t, "https://jobs.test/pay?_ptxn=txn_01", created.ApprovalURL)

	body, ok := stub.body("POST /transactions")
	require.True(t, ok)
	custom, _ := body["custom_data"].(map[string]any)
	assert.Equal(t, subID.String(), custom["subscription_ref"])

	require.NoError(t, p.CancelSubscription(ctx, "sub_01", true))
	body, ok = stub.body("POST /subscriptions/sub_01/cancel")
	require.True(t, ok)
	assert.Equal(t, "immediately", body["effective_from"])

	require.NoError(t, p.CancelSubscription(ctx, "sub_01", false))
	body, _ = stub.body("POST /subscriptions/sub_01/cancel")
	assert.Equal(t, "next_billing_period", body["effective_from"])

	require.NoError(t, p.SuspendSubscription(ctx, "sub_01"))
	_, ok = stub.body("POST /subscriptions/sub_01/pause")
	assert.True(t, ok)

	require.NoError(t, p.ResumeSubscription(ctx, "sub_01"))
	_, ok = stub.body("POST /subscriptions/sub_01/resume")
	assert.True(t, ok)

	got, err := p.FetchSubscription(ctx, "sub_01")
	require.NoError(t, err)
	assert.Equal(t, "sub_01", got.ID)
	require.NotNil(t, got.PeriodEnd)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *got.PeriodEnd)

	_, err = p.FetchSubscription(ctx, "sub_missing")
	assert.ErrorIs(t, err, subscription.ErrProviderCall)
}
