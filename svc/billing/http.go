package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobboard/pkg/httpserver"
	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/requestid"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

const maxRequestBodyBytes = 64 << 10

// API is the part of subscription.Service the HTTP layer calls.
type API interface {
	HandleWebhook(ctx context.Context, provider subscription.Provider, payload []byte, headers http.Header) (subscription.ApplyResult, error)
	Subscribe(ctx context.Context, req subscription.SubscribeRequest) (*subscription.SubscribeResult, error)
	Execute(ctx context.Context, subscriptionID uuid.UUID, cmd subscription.LocalCommand) (subscription.ApplyResult, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, employerID uuid.UUID) ([]subscription.Subscription, error)
	ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.Payment, error)
}

type router struct {
	api      API
	contacts Contacts
	metrics  *Metrics
	archive  PayloadArchive
	checks   []httpserver.Check
	log      *slog.Logger
	now      func() time.Time

	webhookDeadline  time.Duration
	webhookMaxBytes  int64
	readinessTimeout time.Duration
}

// RouterOption configures NewRouter.
type RouterOption func(*router)

// WithRouterLogger sets the logger used for request failures.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRouterMetrics records webhook responses and exposes GET /metrics.
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *router) {
		r.metrics = m
	}
}

// WithPayloadArchive keeps a copy of every accepted webhook body.
// Archive failures are logged and never change the response.
func WithPayloadArchive(a PayloadArchive) RouterOption {
	return func(r *router) {
		r.archive = a
	}
}

// WithHealthChecks adds dependency probes to GET /health/ready.
func WithHealthChecks(checks ...httpserver.Check) RouterOption {
	return func(r *router) {
		r.checks = append(r.checks, checks...)
	}
}

// WithRouterConfig applies webhook limits and the readiness timeout from cfg.
func WithRouterConfig(cfg Config) RouterOption {
	return func(r *router) {
		if cfg.WebhookDeadline > 0 {
			r.webhookDeadline = cfg.WebhookDeadline
		}
		if cfg.WebhookMaxBodyBytes > 0 {
			r.webhookMaxBytes = cfg.WebhookMaxBodyBytes
		}
		if cfg.ReadinessTimeout > 0 {
			r.readinessTimeout = cfg.ReadinessTimeout
		}
	}
}

// WithRouterClock overrides the clock used for entitlement in responses.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter mounts the webhook endpoints, the employer API and health probes.
func NewRouter(api API, contacts Contacts, opts ...RouterOption) http.Handler {
	if api == nil {
		panic("billing: api is required")
	}
	if contacts == nil {
		panic("billing: contacts is required")
	}

	rt := &router{
		api:              api,
		contacts:         contacts,
		log:              slog.New(slog.DiscardHandler),
		now:              time.Now,
		webhookDeadline:  10 * time.Second,
		webhookMaxBytes:  1 << 20,
		readinessTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.New(requestid.WithFallbackHeaders(
		requestid.PayPalTransmissionHeader,
		requestid.PaddleNotificationHeader,
	)))

	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(rt.log, rt.readinessTimeout, rt.checks...))
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Post("/webhooks/{provider}", rt.handleWebhook)

	r.Post("/subscriptions", rt.handleSubscribe)
	r.Route("/subscriptions/{id}", func(r chi.Router) {
		r.Get("/", rt.handleGetSubscription)
		r.Get("/payments", rt.handleListPayments)
		r.Post("/cancel", rt.handleCommand(subscription.CommandCancel))
		r.Post("/suspend", rt.handleCommand(subscription.CommandSuspend))
		r.Post("/resume", rt.handleCommand(subscription.CommandResume))
	})
	r.Get("/employers/{employerID}/subscriptions", rt.handleListSubscriptions)

	return r
}

type webhookAck struct {
	Status  string               `json:"status"`
	Outcome subscription.Outcome `json:"outcome,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (rt *router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider, code := rt.serveWebhook(w, r)
	if rt.metrics != nil {
		rt.metrics.RecordWebhook(provider, code, time.Since(start))
	}
}

// serveWebhook returns the provider label and status code for metrics.
func (rt *router) serveWebhook(w http.ResponseWriter, r *http.Request) (string, int) {
	ctx := r.Context()

	provider, err := subscription.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		return "unknown", rt.webhookError(ctx, w, "unknown", err)
	}
	label := string(provider)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.webhookMaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return label, rt.webhookError(ctx, w, label, errPayloadTooLarge)
		}
		return label, rt.webhookError(ctx, w, label, errors.Join(subscription.ErrMalformedPayload, err))
	}

	ctx, cancel := context.WithTimeout(ctx, rt.webhookDeadline)
	defer cancel()

	result, err := rt.api.HandleWebhook(ctx, provider, payload, r.Header)
	if err != nil {
		return label, rt.webhookError(ctx, w, label, err)
	}
	rt.archivePayload(ctx, provider, result.Outcome, payload)

	writeJSON(w, http.StatusOK, webhookAck{Status: "ok", Outcome: result.Outcome})
	return label, http.StatusOK
}

func (rt *router) archivePayload(ctx context.Context, provider subscription.Provider, outcome subscription.Outcome, payload []byte) {
	if rt.archive == nil {
		return
	}
	err := rt.archive.Archive(ctx, ArchivedWebhook{
		Provider:   provider,
		RequestID:  requestid.FromContext(ctx),
		Outcome:    outcome,
		Payload:    payload,
		ReceivedAt: rt.now(),
	})
	if err != nil {
		rt.log.WarnContext(ctx, "failed to archive webhook payload",
			logger.Provider(string(provider)),
			logger.Error(err),
		)
	}
}

func (rt *router) webhookError(ctx context.Context, w http.ResponseWriter, provider string, err error) int {
	he := statusFor(err)
	level := slog.LevelWarn
	if he.Code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	rt.log.Log(ctx, level, "webhook failed",
		logger.Provider(provider),
		slog.Int("status_code", he.Code),
		logger.Error(err),
	)
	writeJSON(w, he.Code, errorBody{Error: he.Key})
	return he.Code
}

type subscribeRequest struct {
	EmployerID string `json:"employer_id"`
	PlanID     string `json:"plan_id"`
	Provider   string `json:"provider"`
	Email      string `json:"email"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
}

type subscribeResponse struct {
	Subscription subscriptionView `json:"subscription"`
	ApprovalURL  string           `json:"approval_url,omitempty"`
	Superseded   []uuid.UUID      `json:"superseded,omitempty"`
}

func (rt *router) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body subscribeRequest
	if err := decodeBody(w, r, &body); err != nil {
		rt.writeError(ctx, w, err)
		return
	}
	employerID, err := uuid.Parse(body.EmployerID)
	if err != nil {
		rt.writeError(ctx, w, errInvalidID)
		return
	}
	provider, err := subscription.ParseProvider(body.Provider)
	if err != nil {
		rt.writeError(ctx, w, err)
		return
	}

	result, err := rt.api.Subscribe(ctx, subscription.SubscribeRequest{
		EmployerID: employerID,
		PlanID:     body.PlanID,
		Provider:   provider,
		Email:      body.Email,
		ReturnURL:  body.ReturnURL,
		CancelURL:  body.CancelURL,
	})
	if err != nil {
		rt.writeError(ctx, w, err)
		return
	}

	if body.Email != "" {
		if err := rt.contacts.SaveBillingEmail(ctx, employerID, body.Email); err != nil {
			rt.log.ErrorContext(ctx, "failed to save billing contact",
				logger.EmployerID(employerID.String()),
				logger.Error(err),
			)
		}
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		Subscription: newSubscriptionView(result.Subscription, rt.now()),
		ApprovalURL:  result.ApprovalURL,
		Superseded:   result.Superseded,
	})
}

func (rt *router) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	sub, err := rt.api.GetSubscription(r.Context(), id)
	if err != nil {
		rt.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(*sub, rt.now()))
}

func (rt *router) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	employerID, ok := rt.pathID(w, r, "employerID")
	if !ok {
		return
	}
	subs, err := rt.api.ListSubscriptions(r.Context(), employerID)
	if err != nil {
		rt.writeError(r.Context(), w, err)
		return
	}

	now := rt.now()
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, newSubscriptionView(sub, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (rt *router) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	payments, err := rt.api.ListPayments(r.Context(), id)
	if err != nil {
		rt.writeError(r.Context(), w, err)
		return
	}

	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, newPaymentView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

type commandRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason"`
}

// handleCommand runs an employer command. A replay with the same
// Idempotency-Key answers 200 with the first outcome; any other command that
// changed nothing answers 409 with the reason.
func (rt *router) handleCommand(kind subscription.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, ok := rt.pathID(w, r, "id")
		if !ok {
			return
		}

		var body commandRequest
		if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
			rt.writeError(ctx, w, err)
			return
		}

		result, err := rt.api.Execute(ctx, id, subscription.LocalCommand{
			Kind:           kind,
			Immediate:      body.Immediate,
			Reason:         body.Reason,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			rt.writeError(ctx, w, err)
			return
		}

		code := http.StatusOK
		if !result.Applied && !result.Duplicate {
			code = statusFor(result.Err()).Code
		}
		writeJSON(w, code, result)
	}
}

func (rt *router) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		rt.writeError(r.Context(), w, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// writeError hides the message of server errors from clients.
func (rt *router) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	he := statusFor(err)
	body := errorBody{Error: he.Key}
	if he.Code < http.StatusInternalServerError {
		body.Message = err.Error()
		rt.log.DebugContext(ctx, "request rejected", slog.Int("status_code", he.Code), logger.Error(err))
	} else {
		rt.log.ErrorContext(ctx, "request failed", slog.Int("status_code", he.Code), logger.Error(err))
	}
	writeJSON(w, he.Code, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errPayloadTooLarge
		}
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
