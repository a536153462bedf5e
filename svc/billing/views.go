package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

type subscriptionView struct {
	ID              uuid.UUID                       `json:"id"`
	EmployerID      uuid.UUID                       `json:"employer_id"`
	Provider        subscription.Provider           `json:"provider"`
	ProviderSubID   string                          `json:"provider_subscription_id,omitempty"`
	PlanID          string                          `json:"plan_id"`
	Status          subscription.SubscriptionStatus `json:"status"`
	Entitled        bool                            `json:"entitled"`
	Trial           bool                            `json:"trial"`
	AmountPaid      *subscription.Money             `json:"amount_paid,omitempty"`
	PeriodStart     *time.Time                      `json:"period_start,omitempty"`
	PeriodEnd       *time.Time                      `json:"period_end,omitempty"`
	CancelRequested bool                            `json:"cancel_requested"`
	CancelReason    string                          `json:"cancel_reason,omitempty"`
	GraceEndsAt     *time.Time                      `json:"grace_ends_at,omitempty"`
	EntitledUntil   *time.Time                      `json:"entitled_until,omitempty"`
	CreatedAt       time.Time                       `json:"created_at"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

func newSubscriptionView(s subscription.Subscription, now time.Time) subscriptionView {
	v := subscriptionView{
		ID:              s.ID,
		EmployerID:      s.EmployerID,
		Provider:        s.Provider,
		ProviderSubID:   s.ProviderSubID,
		PlanID:          s.PlanID,
		Status:          s.Status,
		Entitled:        s.EntitledAt(now),
		Trial:           s.Trial,
		PeriodStart:     s.PeriodStart,
		PeriodEnd:       s.PeriodEnd,
		CancelRequested: s.CancelRequested,
		CancelReason:    s.CancelReason,
		GraceEndsAt:     s.GraceEndsAt,
		EntitledUntil:   s.EntitledUntil,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if !s.AmountPaid.IsZero() {
		amount := s.AmountPaid
		v.AmountPaid = &amount
	}
	return v
}

type paymentView struct {
	ID            uuid.UUID                  `json:"id"`
	TransactionID string                     `json:"transaction_id,omitempty"`
	Provider      subscription.Provider      `json:"provider"`
	Amount        subscription.Money         `json:"amount"`
	Status        subscription.PaymentStatus `json:"status"`
	OccurredAt    time.Time                  `json:"occurred_at"`
}

func newPaymentView(p subscription.Payment) paymentView {
	return paymentView{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		Provider:      p.Provider,
		Amount:        p.Amount,
		Status:        p.Status,
		OccurredAt:    p.OccurredAt,
	}
}

// noticeView is what a billing notice email renders.
type noticeView struct {
	Heading   string
	PlanName  string
	Lines     []string
	ActionURL string
	Action    string
}
