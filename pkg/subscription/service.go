package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobboard/pkg/lock"
	"github.com/dmitrymomot/jobboard/pkg/logger"
)

// Service is the reconciliation orchestrator. Every mutation of a subscription
// goes through it: resolve, lock, re-read, check the event log, decide, commit
// atomically, release, then dispatch side effects.
type Service struct {
	store     Store
	locker    lock.Locker
	plans     map[string]Plan
	providers map[Provider]PaymentProvider
	queue     TaskQueue
	observer  Observer
	log       *slog.Logger
	now       func() time.Time
	cfg       Config
}

// NewService creates the orchestrator. The plan catalog is loaded once from src.
// Panics if src, store or locker is nil.
func NewService(ctx context.Context, src PlansSource, store Store, locker lock.Locker, opts ...ServiceOption) (*Service, error) {
	if src == nil {
		panic("subscription: PlansSource is required")
	}
	if store == nil {
		panic("subscription: Store is required")
	}
	if locker == nil {
		panic("subscription: Locker is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}

	s := &Service{
		store:     store,
		locker:    locker,
		plans:     plans,
		providers: make(map[Provider]PaymentProvider),
		observer:  noopObserver{},
		log:       slog.New(slog.DiscardHandler),
		now:       time.Now,
		cfg: Config{
			GracePeriod:         DefaultGracePeriod,
			LockTimeout:         5 * time.Second,
			ProviderCallTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))

	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Provider returns the registered integration for p.
func (s *Service) Provider(p Provider) (PaymentProvider, error) {
	provider, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return provider, nil
}

// Plan returns a catalog entry.
func (s *Service) Plan(id string) (Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan.clone(), nil
}

// HandleWebhook verifies, normalizes and applies one inbound webhook.
// Verification and normalization failures never reach the state machine.
func (s *Service) HandleWebhook(ctx context.Context, provider Provider, payload []byte, headers http.Header) (ApplyResult, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return ApplyResult{}, err
	}

	verified, err := p.Verify(ctx, payload, headers)
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected", logger.Provider(string(provider)), logger.Error(err))
		s.observer.EventProcessed(provider, KindUnknown, OutcomeRejected)
		return ApplyResult{}, err
	}

	event, err := p.Normalize(ctx, verified)
	if err != nil {
		s.log.WarnContext(ctx, "webhook payload malformed", logger.Provider(string(provider)), logger.Error(err))
		s.observer.EventProcessed(provider, KindUnknown, OutcomeRejected)
		return ApplyResult{}, err
	}

	return s.ApplyEvent(ctx, event)
}

// ApplyEvent applies a normalized provider event.
// Unknown event types and events for unknown subscriptions are recorded and
// acknowledged without error so providers stop redelivering them.
func (s *Service) ApplyEvent(ctx context.Context, event NormalizedEvent) (ApplyResult, error) {
	log := s.log.With(
		logger.Provider(string(event.Provider)),
		logger.EventID(event.ExternalEventID),
		logger.EventType(event.ProviderEventType),
	)

	if event.ExternalEventID == "" {
		return ApplyResult{}, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	sub, err := s.resolve(ctx, event)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "webhook for unknown subscription",
			slog.String("external_subscription_id", event.ExternalSubscriptionID),
			slog.String("subscription_ref", event.SubscriptionRef))
		return s.recordUnresolved(ctx, event, OutcomeRejected, "subscription not found")
	}
	if err != nil {
		return ApplyResult{}, err
	}

	if event.Kind == KindUnknown {
		log.InfoContext(ctx, "ignoring webhook", logger.SubscriptionID(sub.ID.String()), logger.Error(ErrUnknownEventType))
	}

	key := &eventKey{provider: event.Provider, id: event.ExternalEventID}
	result, err := s.apply(ctx, sub.ID, event.input(), key)
	if err == nil {
		s.observer.EventProcessed(event.Provider, event.Kind, result.Outcome)
	}
	return result, err
}

// Execute applies a local command: an employer cancel, suspend or resume, or
// the internal grace-period check.
func (s *Service) Execute(ctx context.Context, subscriptionID uuid.UUID, cmd LocalCommand) (ApplyResult, error) {
	in, err := cmd.input(s.clock())
	if err != nil {
		return ApplyResult{}, err
	}

	var key *eventKey
	if cmd.IdempotencyKey != "" {
		key = &eventKey{
			provider: localProvider,
			id:       fmt.Sprintf("%s:%s:%s", subscriptionID, cmd.Kind, cmd.IdempotencyKey),
		}
		in.EventID = key.id
	}

	return s.apply(ctx, subscriptionID, in, key)
}

func (s *Service) resolve(ctx context.Context, event NormalizedEvent) (*Subscription, error) {
	if event.SubscriptionRef != "" {
		if id, err := uuid.Parse(event.SubscriptionRef); err == nil {
			sub, err := s.store.Get(ctx, id)
			switch {
			case err == nil && sub.Provider == event.Provider:
				return sub, nil
			case err != nil && !errors.Is(err, ErrSubscriptionNotFound):
				return nil, errors.Join(ErrPersistence, err)
			}
		}
	}

	sub, err := s.store.FindByProviderRef(ctx, event.Provider, event.ExternalSubscriptionID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, errors.Join(ErrPersistence, err)
	}
	return sub, err
}

func (s *Service) recordUnresolved(ctx context.Context, event NormalizedEvent, outcome Outcome, reason string) (ApplyResult, error) {
	result := ApplyResult{Outcome: outcome, Reason: reason}

	if prior, found, err := s.store.LookupEvent(ctx, event.Provider, event.ExternalEventID); err != nil {
		return ApplyResult{}, errors.Join(ErrPersistence, err)
	} else if found {
		result.Outcome, result.Duplicate = prior.Outcome, true
		return result, nil
	}

	err := s.store.Commit(context.WithoutCancel(ctx), Commit{Event: &EventLogEntry{
		Provider:        event.Provider,
		ExternalEventID: event.ExternalEventID,
		Kind:            event.Kind,
		Outcome:         outcome,
		Reason:          reason,
		OccurredAt:      event.OccurredAt,
		ProcessedAt:     s.clock(),
	}})
	if err != nil && !errors.Is(err, ErrDuplicateEvent) {
		return ApplyResult{}, errors.Join(ErrPersistence, err)
	}

	s.observer.EventProcessed(event.Provider, event.Kind, outcome)
	return result, nil
}

// apply runs the locked read-decide-commit sequence and dispatches effects after release.
func (s *Service) apply(ctx context.Context, subscriptionID uuid.UUID, in Input, key *eventKey) (ApplyResult, error) {
	release, err := s.acquire(ctx, subscriptionLockKey(subscriptionID))
	if err != nil {
		return ApplyResult{}, err
	}

	result, next, effects, err := s.applyLocked(context.WithoutCancel(ctx), subscriptionID, in, key)
	release()
	if err != nil {
		return ApplyResult{}, err
	}

	s.log.InfoContext(ctx, "subscription input processed",
		logger.SubscriptionID(subscriptionID.String()),
		slog.String("kind", string(in.Kind)),
		slog.String("source", string(in.Source)),
		logger.Outcome(string(result.Outcome)),
		logger.Status(string(result.Status)),
		slog.Bool("duplicate", result.Duplicate),
		slog.String("reason", result.Reason),
	)

	s.dispatch(ctx, next, effects)
	return result, nil
}

// applyLocked must run with the subscription lock held. ctx is detached from
// the caller's deadline so an in-flight commit is never cancelled.
func (s *Service) applyLocked(ctx context.Context, subscriptionID uuid.UUID, in Input, key *eventKey) (ApplyResult, Subscription, []Effect, error) {
	sub, err := s.store.Get(ctx, subscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return ApplyResult{}, Subscription{}, nil, err
	}
	if err != nil {
		return ApplyResult{}, Subscription{}, nil, errors.Join(ErrPersistence, err)
	}

	if key != nil {
		prior, found, err := s.store.LookupEvent(ctx, key.provider, key.id)
		if err != nil {
			return ApplyResult{}, Subscription{}, nil, errors.Join(ErrPersistence, err)
		}
		if found {
			return duplicateResult(sub, prior), *sub, nil, nil
		}
	}

	now := s.clock()
	d := Decide(*sub, in, now, LifecycleConfig{GracePeriod: s.cfg.GracePeriod})

	var c Commit
	if d.Applied() {
		c.Update = []Subscription{d.Next}
		if d.Payment != nil {
			p := *d.Payment
			p.ID = uuid.New()
			c.Payment = &p
		}
	}
	if key != nil {
		c.Event = &EventLogEntry{
			Provider:        key.provider,
			ExternalEventID: key.id,
			SubscriptionID:  sub.ID,
			Kind:            in.Kind,
			Outcome:         d.Outcome,
			Status:          d.Next.Status,
			Reason:          d.Reason,
			OccurredAt:      in.OccurredAt,
			ProcessedAt:     now,
		}
	}

	if err := s.store.Commit(ctx, c); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEvent):
			// Another instance recorded the event after our lookup; its lock must have expired.
			prior, found, lerr := s.store.LookupEvent(ctx, key.provider, key.id)
			if lerr == nil && found {
				return duplicateResult(sub, prior), *sub, nil, nil
			}
			return ApplyResult{}, Subscription{}, nil, errors.Join(ErrPersistence, err)
		case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrPersistence):
			return ApplyResult{}, Subscription{}, nil, err
		default:
			return ApplyResult{}, Subscription{}, nil, errors.Join(ErrPersistence, err)
		}
	}

	result := ApplyResult{
		SubscriptionID: sub.ID,
		Status:         d.Next.Status,
		Applied:        d.Applied(),
		Outcome:        d.Outcome,
		Reason:         d.Reason,
	}
	if !d.Applied() {
		return result, *sub, nil, nil
	}
	next := d.Next
	next.Version = sub.Version + 1
	return result, next, d.Effects, nil
}

func duplicateResult(sub *Subscription, prior *EventLogEntry) ApplyResult {
	return ApplyResult{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		Applied:        false,
		Duplicate:      true,
		Outcome:        prior.Outcome,
		Reason:         "event already processed",
	}
}

// SubscribeRequest starts a new subscription for an employer.
type SubscribeRequest struct {
	EmployerID uuid.UUID
	PlanID     string
	Provider   Provider
	Email      string
	ReturnURL  string
	CancelURL  string
}

// SubscribeResult is the pending subscription plus what the employer needs to finish checkout.
type SubscribeResult struct {
	Subscription Subscription
	ApprovalURL  string
	Superseded   []uuid.UUID
}

// Subscribe creates a pending subscription and starts it at the provider.
//
// Every prior non-terminal subscription of the employer is cancelled with
// reason "superseded" in the same commit that inserts the new row, so at most
// one subscription is ever active-like. The provider call runs outside the
// lock; if it fails the pending row is cancelled and ErrProviderCall returned.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error) {
	if req.EmployerID == uuid.Nil {
		return nil, fmt.Errorf("%w: employer id is required", ErrInvalidRequest)
	}
	plan, err := s.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}
	provider, err := s.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	priceID, ok := plan.PriceFor(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: plan %s is not offered through %s", ErrPlanNotFound, plan.ID, req.Provider)
	}

	pending, superseded, err := s.createPending(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, prev := range superseded {
		s.dispatch(ctx, prev.sub, prev.effects)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProviderCallTimeout)
	created, err := provider.CreateSubscription(callCtx, CreateRequest{
		SubscriptionID: pending.ID,
		EmployerID:     pending.EmployerID,
		Email:          req.Email,
		PriceID:        priceID,
		TrialDays:      plan.TrialDays,
		ReturnURL:      req.ReturnURL,
		CancelURL:      req.CancelURL,
	})
	cancel()
	if err != nil {
		s.observer.ProviderCallFailed(req.Provider, "provider_create")
		s.log.ErrorContext(ctx, "provider create subscription failed",
			logger.Provider(string(req.Provider)),
			logger.SubscriptionID(pending.ID.String()),
			logger.Error(err))
		if _, cerr := s.Execute(ctx, pending.ID, LocalCommand{
			Kind: CommandCancel, Immediate: true, Reason: "provider_create_failed",
		}); cerr != nil {
			s.log.ErrorContext(ctx, "failed to cancel pending subscription",
				logger.SubscriptionID(pending.ID.String()), logger.Error(cerr))
		}
		return nil, errors.Join(ErrProviderCall, err)
	}

	attached, err := s.attachProviderID(ctx, pending.ID, created.ID)
	if err != nil {
		return nil, err
	}
	if attached.IsTerminal() {
		// Superseded while the provider call was in flight.
		s.dispatch(ctx, *attached, []Effect{{Kind: EffectProviderCancel, Immediate: true}})
	}

	result := &SubscribeResult{Subscription: *attached, ApprovalURL: created.ApprovalURL}
	for _, prev := range superseded {
		result.Superseded = append(result.Superseded, prev.sub.ID)
	}
	return result, nil
}

type supersession struct {
	sub     Subscription
	effects []Effect
}

func (s *Service) createPending(ctx context.Context, req SubscribeRequest) (Subscription, []supersession, error) {
	releaseEmployer, err := s.acquire(ctx, employerLockKey(req.EmployerID))
	if err != nil {
		return Subscription{}, nil, err
	}
	defer releaseEmployer()

	existing, err := s.store.ListByEmployer(ctx, req.EmployerID)
	if err != nil {
		return Subscription{}, nil, errors.Join(ErrPersistence, err)
	}

	var keys []string
	for _, sub := range existing {
		if !sub.IsTerminal() {
			keys = append(keys, subscriptionLockKey(sub.ID))
		}
	}
	slices.Sort(keys)

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	releaseSubs, err := lock.AcquireAll(lockCtx, s.locker, keys...)
	cancel()
	if err != nil {
		return Subscription{}, nil, lockError(err)
	}
	defer releaseSubs()

	ctx = context.WithoutCancel(ctx)
	now := s.clock()
	pending := Subscription{
		ID:         uuid.New(),
		EmployerID: req.EmployerID,
		Provider:   req.Provider,
		PlanID:     req.PlanID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	c := Commit{Insert: []Subscription{pending}}
	var superseded []supersession
	for _, prev := range existing {
		if prev.IsTerminal() {
			continue
		}
		// Re-read under the lock; the listing was taken before.
		current, err := s.store.Get(ctx, prev.ID)
		if err != nil {
			return Subscription{}, nil, errors.Join(ErrPersistence, err)
		}
		d := Decide(*current, Input{
			Kind:       KindSubscriptionCancelled,
			Source:     SourceLocal,
			OccurredAt: now,
			Immediate:  true,
			Reason:     "superseded",
		}, now, LifecycleConfig{GracePeriod: s.cfg.GracePeriod})
		if !d.Applied() {
			continue
		}
		c.Update = append(c.Update, d.Next)
		next := d.Next
		next.Version++
		superseded = append(superseded, supersession{sub: next, effects: withoutNotifications(d.Effects)})
	}
	slices.SortFunc(superseded, func(a, b supersession) int { return cmp.Compare(a.sub.ID.String(), b.sub.ID.String()) })

	if err := s.store.Commit(ctx, c); err != nil {
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPersistence) {
			return Subscription{}, nil, err
		}
		return Subscription{}, nil, errors.Join(ErrPersistence, err)
	}
	pending.Version = 1

	s.log.InfoContext(ctx, "pending subscription created",
		logger.SubscriptionID(pending.ID.String()),
		logger.EmployerID(req.EmployerID.String()),
		logger.Provider(string(req.Provider)),
		slog.Int("superseded", len(superseded)))

	return pending, superseded, nil
}

// attachProviderID records the provider's id on the pending row unless a
// webhook already did.
func (s *Service) attachProviderID(ctx context.Context, subscriptionID uuid.UUID, providerSubID string) (*Subscription, error) {
	release, err := s.acquire(ctx, subscriptionLockKey(subscriptionID))
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = context.WithoutCancel(ctx)
	sub, err := s.store.Get(ctx, subscriptionID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	if sub.ProviderSubID != "" || providerSubID == "" {
		return sub, nil
	}

	next := *sub
	next.ProviderSubID = providerSubID
	next.UpdatedAt = s.clock()
	if err := s.store.Commit(ctx, Commit{Update: []Subscription{next}}); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	next.Version++
	return &next, nil
}

// GetSubscription returns one subscription.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, errors.Join(ErrPersistence, err)
	}
	return sub, err
}

// ListSubscriptions returns an employer's subscription history, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, employerID uuid.UUID) ([]Subscription, error) {
	subs, err := s.store.ListByEmployer(ctx, employerID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return subs, nil
}

// ListPayments returns the payment records of a subscription.
func (s *Service) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	if _, err := s.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, subscriptionID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return payments, nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	release, err := s.locker.Acquire(lockCtx, key)
	if err != nil {
		return nil, lockError(err)
	}
	return release, nil
}

func lockError(err error) error {
	return errors.Join(ErrLockTimeout, err)
}

func subscriptionLockKey(id uuid.UUID) string {
	return "subscription:" + id.String()
}

func employerLockKey(id uuid.UUID) string {
	return "employer:" + id.String()
}

func withoutNotifications(effects []Effect) []Effect {
	return slices.DeleteFunc(slices.Clone(effects), func(e Effect) bool { return e.Kind.IsNotification() })
}
