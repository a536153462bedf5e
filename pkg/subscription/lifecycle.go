package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobboard/pkg/statemachine"
)

// EffectKind names a side effect dispatched after a transition commits.
type EffectKind string

const (
	EffectNotifyActivated     EffectKind = "notify_activated"
	EffectNotifyPaymentFailed EffectKind = "notify_payment_failed"
	EffectNotifyCancelled     EffectKind = "notify_cancelled"
	EffectNotifySuspended     EffectKind = "notify_suspended"
	EffectNotifyResumed       EffectKind = "notify_resumed"
	EffectNotifyExpired       EffectKind = "notify_expired"
	EffectScheduleGraceExpiry EffectKind = "schedule_grace_expiry"
	EffectProviderCancel      EffectKind = "provider_cancel"
	EffectProviderSuspend     EffectKind = "provider_suspend"
	EffectProviderResume      EffectKind = "provider_resume"
)

// IsNotification reports whether the effect sends an employer notice.
func (k EffectKind) IsNotification() bool {
	switch k {
	case EffectNotifyActivated, EffectNotifyPaymentFailed, EffectNotifyCancelled,
		EffectNotifySuspended, EffectNotifyResumed, EffectNotifyExpired:
		return true
	}
	return false
}

// IsProviderCall reports whether the effect calls the payment provider.
func (k EffectKind) IsProviderCall() bool {
	return k == EffectProviderCancel || k == EffectProviderSuspend || k == EffectProviderResume
}

// Effect is a side effect with its parameters.
type Effect struct {
	Kind      EffectKind
	At        time.Time // schedule_grace_expiry: when the check should run
	Immediate bool      // provider_cancel: revoke now instead of at period end
}

// Decision is the pure result of applying an input to a subscription.
type Decision struct {
	Outcome Outcome
	Next    Subscription
	Payment *Payment
	Effects []Effect
	Reason  string
}

// Applied reports whether the decision changes the subscription.
func (d Decision) Applied() bool {
	return d.Outcome == OutcomeApplied
}

// LifecycleConfig tunes the state machine.
type LifecycleConfig struct {
	GracePeriod time.Duration
}

// DefaultGracePeriod is how long a past_due subscription keeps its entitlements.
const DefaultGracePeriod = 7 * 24 * time.Hour

// State mutations applied to Next when a transition is chosen.
// They live next to dispatchable effects in the transition table and are
// consumed by Decide, never returned.
const (
	mutActivate      = "activate"
	mutSetPeriod     = "set_period"
	mutRecordPayment = "record_payment"
	mutStartGrace    = "start_grace"
	mutClearGrace    = "clear_grace"
	mutSuspend       = "suspend"
	mutRestore       = "restore"
	mutCancel        = "cancel"
	mutExpire        = "expire"
)

type guardData struct {
	sub Subscription
	in  Input
	now time.Time
}

func dataOf(data any) guardData {
	gd, _ := data.(guardData)
	return gd
}

func isTrial(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return dataOf(data).in.Trial
}

func notTrial(ctx context.Context, from statemachine.State, event statemachine.Event, data any) bool {
	return !isTrial(ctx, from, event, data)
}

func fromLocal(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return dataOf(data).in.Source == SourceLocal
}

func graceElapsed(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	gd := dataOf(data)
	return gd.sub.GraceEndsAt != nil && !gd.now.Before(*gd.sub.GraceEndsAt)
}

func effects(labels ...any) statemachine.TransitionOption {
	s := make([]string, 0, len(labels))
	for _, l := range labels {
		s = append(s, fmt.Sprint(l))
	}
	return statemachine.WithEffects(s...)
}

var nonTerminal = []statemachine.State{StatusPending, StatusTrialing, StatusActive, StatusPastDue, StatusSuspended}

// lifecycle is the subscription transition table. Order matters where guards
// branch: the first candidate whose guards pass wins.
var lifecycle = statemachine.MustNew(
	statemachine.WithTransition(StatusPending, StatusTrialing, KindSubscriptionActivated,
		statemachine.WithGuard(isTrial),
		effects(mutActivate, mutSetPeriod, EffectNotifyActivated)),
	statemachine.WithTransition(StatusPending, StatusActive, KindSubscriptionActivated,
		effects(mutActivate, mutSetPeriod, EffectNotifyActivated)),
	statemachine.WithTransition(StatusTrialing, StatusActive, KindSubscriptionActivated,
		statemachine.WithGuard(notTrial),
		effects(mutSetPeriod)),
	statemachine.WithTransition(StatusActive, StatusActive, KindSubscriptionActivated,
		effects(mutSetPeriod)),

	statemachine.FromAny([]statemachine.State{StatusPending, StatusTrialing}, StatusActive, KindPaymentSucceeded,
		effects(mutActivate, mutRecordPayment, mutSetPeriod, EffectNotifyActivated)),
	statemachine.WithTransition(StatusActive, StatusActive, KindPaymentSucceeded,
		effects(mutRecordPayment, mutSetPeriod)),
	statemachine.WithTransition(StatusPastDue, StatusActive, KindPaymentSucceeded,
		effects(mutRecordPayment, mutClearGrace, mutSetPeriod)),

	statemachine.FromAny([]statemachine.State{StatusActive, StatusTrialing}, StatusPastDue, KindPaymentFailed,
		effects(mutRecordPayment, mutStartGrace, EffectNotifyPaymentFailed, EffectScheduleGraceExpiry)),
	statemachine.WithTransition(StatusPastDue, StatusPastDue, KindPaymentFailed,
		effects(mutRecordPayment)),

	statemachine.WithTransition(StatusPastDue, StatusExpired, KindGraceExpired,
		statemachine.WithGuard(graceElapsed),
		effects(mutExpire, EffectNotifyExpired)),

	statemachine.FromAny([]statemachine.State{StatusActive, StatusTrialing, StatusPastDue}, StatusSuspended, KindSubscriptionSuspended,
		statemachine.WithGuard(fromLocal),
		effects(mutSuspend, EffectNotifySuspended, EffectProviderSuspend)),
	statemachine.FromAny([]statemachine.State{StatusActive, StatusTrialing, StatusPastDue}, StatusSuspended, KindSubscriptionSuspended,
		effects(mutSuspend, EffectNotifySuspended)),

	statemachine.WithTransition(StatusSuspended, StatusActive, KindSubscriptionResumed,
		statemachine.WithGuard(fromLocal),
		effects(mutRestore, EffectNotifyResumed, EffectProviderResume)),
	statemachine.WithTransition(StatusSuspended, StatusActive, KindSubscriptionResumed,
		effects(mutRestore, EffectNotifyResumed)),
	statemachine.WithTransition(StatusSuspended, StatusActive, KindSubscriptionActivated,
		effects(mutRestore, mutSetPeriod, EffectNotifyResumed)),

	statemachine.FromAny(nonTerminal, StatusCancelled, KindSubscriptionCancelled,
		statemachine.WithGuard(fromLocal),
		effects(mutCancel, EffectNotifyCancelled, EffectProviderCancel)),
	statemachine.FromAny(nonTerminal, StatusCancelled, KindSubscriptionCancelled,
		effects(mutCancel, EffectNotifyCancelled)),

	statemachine.FromAny(nonTerminal, StatusExpired, KindSubscriptionExpired,
		effects(mutExpire, EffectNotifyExpired)),
)

// Decide computes the next state of sub for the input. It is a pure function:
// no I/O, no locking, and every input yields a well-defined outcome.
//
// Provider inputs older than the last applied input are stale. Local commands
// are stamped with now and advance LastEventAt, so a delayed provider event can
// never undo an employer action taken after it.
func Decide(sub Subscription, in Input, now time.Time, cfg LifecycleConfig) Decision {
	unchanged := func(outcome Outcome, reason string) Decision {
		return Decision{Outcome: outcome, Next: sub, Reason: reason}
	}

	if sub.IsTerminal() {
		return unchanged(OutcomeIgnored, fmt.Sprintf("subscription already %s", sub.Status))
	}
	if in.Kind == KindUnknown || in.Kind == "" {
		return unchanged(OutcomeUnknown, "unrecognized event type")
	}
	if in.Source == SourceProvider && sub.LastEventAt != nil && in.OccurredAt.Before(*sub.LastEventAt) {
		return unchanged(OutcomeStale, fmt.Sprintf("event from %s is older than last applied event from %s",
			in.OccurredAt.UTC().Format(time.RFC3339), sub.LastEventAt.UTC().Format(time.RFC3339)))
	}

	tr, err := lifecycle.Resolve(context.Background(), sub.Status, in.Kind, guardData{sub: sub, in: in, now: now})
	if err != nil {
		return unchanged(OutcomeIgnored, fmt.Sprintf("%s has no effect on a %s subscription", in.Kind, sub.Status))
	}

	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	d := Decision{Outcome: OutcomeApplied, Next: sub}
	next := &d.Next
	next.Status = tr.To.(SubscriptionStatus)

	for _, label := range tr.Effects {
		switch label {
		case mutActivate:
			if next.ActivatedAt == nil {
				next.ActivatedAt = timePtr(now)
			}
			next.Trial = next.Status == StatusTrialing
		case mutSetPeriod:
			if in.PeriodStart != nil {
				next.PeriodStart = timePtr(*in.PeriodStart)
			}
			if in.PeriodEnd != nil {
				next.PeriodEnd = timePtr(*in.PeriodEnd)
			}
			if next.Status == StatusActive {
				next.Trial = false
			}
		case mutRecordPayment:
			d.Payment = paymentFor(sub, in, now)
			if in.Kind == KindPaymentSucceeded && !in.Amount.IsZero() {
				next.AmountPaid = in.Amount
			}
		case mutStartGrace:
			if next.GraceEndsAt == nil {
				next.GraceEndsAt = timePtr(now.Add(cfg.GracePeriod))
			}
		case mutClearGrace:
			next.GraceEndsAt = nil
		case mutSuspend:
			next.SuspendedAt = timePtr(now)
			next.EntitledUntil = timePtr(now)
		case mutRestore:
			next.EntitledUntil = nil
			next.GraceEndsAt = nil
		case mutCancel:
			next.CancelRequested = true
			next.CancelReason = in.Reason
			next.CancelledAt = timePtr(now)
			next.GraceEndsAt = nil
			if in.Immediate || next.PeriodEnd == nil || !now.Before(*next.PeriodEnd) {
				next.EntitledUntil = timePtr(now)
			} else {
				next.EntitledUntil = timePtr(*next.PeriodEnd)
			}
		case mutExpire:
			next.ExpiredAt = timePtr(now)
			next.EntitledUntil = timePtr(now)
			next.GraceEndsAt = nil
		case string(EffectScheduleGraceExpiry):
			d.Effects = append(d.Effects, Effect{Kind: EffectScheduleGraceExpiry, At: *next.GraceEndsAt})
		case string(EffectProviderCancel):
			d.Effects = append(d.Effects, Effect{Kind: EffectProviderCancel, Immediate: in.Immediate})
		default:
			d.Effects = append(d.Effects, Effect{Kind: EffectKind(label)})
		}
	}

	if in.ProviderSubID != "" && next.ProviderSubID == "" {
		next.ProviderSubID = in.ProviderSubID
	}
	if in.EventID != "" {
		next.LastEventID = in.EventID
	}
	stamp := in.OccurredAt
	if in.Source == SourceLocal || stamp.IsZero() {
		stamp = now
	}
	if next.LastEventAt == nil || stamp.After(*next.LastEventAt) {
		next.LastEventAt = timePtr(stamp)
	}
	next.UpdatedAt = now

	return d
}

func paymentFor(sub Subscription, in Input, now time.Time) *Payment {
	status := PaymentSucceeded
	if in.Kind == KindPaymentFailed {
		status = PaymentFailed
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	return &Payment{
		SubscriptionID: sub.ID,
		Provider:       sub.Provider,
		TransactionID:  in.TransactionID,
		Amount:         in.Amount,
		Status:         status,
		OccurredAt:     occurred,
		CreatedAt:      now,
	}
}
