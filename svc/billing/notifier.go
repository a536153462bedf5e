package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/dmitrymomot/jobboard/pkg/email"
	"github.com/dmitrymomot/jobboard/pkg/email/templates"
	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/queue"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// PlanCatalog resolves plan ids to catalog entries.
type PlanCatalog interface {
	Plan(id string) (subscription.Plan, error)
}

// Notifier turns queued notification tasks into employer emails.
type Notifier struct {
	sender       email.EmailSender
	contacts     Contacts
	plans        PlanCatalog
	log          *slog.Logger
	printer      *message.Printer
	dashboardURL string
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierLogger sets the logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// WithDashboardURL sets the billing page linked from every notice.
func WithDashboardURL(url string) NotifierOption {
	return func(n *Notifier) { n.dashboardURL = url }
}

// WithLanguage sets the locale used for amounts and dates.
func WithLanguage(tag language.Tag) NotifierOption {
	return func(n *Notifier) { n.printer = message.NewPrinter(tag) }
}

// NewNotifier creates a Notifier. Panics if a dependency is nil.
func NewNotifier(sender email.EmailSender, contacts Contacts, plans PlanCatalog, opts ...NotifierOption) *Notifier {
	if sender == nil || contacts == nil || plans == nil {
		panic("billing: notifier requires sender, contacts and plans")
	}
	n := &Notifier{
		sender:   sender,
		contacts: contacts,
		plans:    plans,
		log:      slog.New(slog.DiscardHandler),
		printer:  message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(logger.Component("notifier"))
	return n
}

// TaskHandler returns the queue handler for subscription.NotificationTask.
func (n *Notifier) TaskHandler() queue.Handler {
	return queue.NewTaskHandler(n.HandleNotificationTask)
}

// HandleNotificationTask sends one notice. A missing contact is logged and
// dropped; delivery failures are returned so the queue retries them.
func (n *Notifier) HandleNotificationTask(ctx context.Context, task subscription.NotificationTask) error {
	log := n.log.With(
		logger.SubscriptionID(task.SubscriptionID.String()),
		logger.EmployerID(task.EmployerID.String()),
		slog.String("kind", string(task.Kind)),
	)

	to, err := n.contacts.BillingEmail(ctx, task.EmployerID)
	if errors.Is(err, ErrContactNotFound) {
		log.WarnContext(ctx, "no billing contact, notice dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup billing contact: %w", err)
	}

	subject, view, ok := n.compose(task)
	if !ok {
		log.WarnContext(ctx, "no template for notification kind")
		return nil
	}

	body, err := templates.Render(ctx, noticeEmail(view))
	if err != nil {
		return fmt.Errorf("render notice: %w", err)
	}

	if err := n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: body,
		Tag:      "billing-" + string(task.Kind),
	}); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}

	log.InfoContext(ctx, "billing notice sent")
	return nil
}

func (n *Notifier) compose(task subscription.NotificationTask) (string, noticeView, bool) {
	view := noticeView{
		PlanName:  task.PlanID,
		ActionURL: n.dashboardURL,
		Action:    "Manage billing",
	}
	if plan, err := n.plans.Plan(task.PlanID); err == nil && plan.Name != "" {
		view.PlanName = plan.Name
	}

	var subject string
	switch task.Kind {
	case subscription.EffectNotifyActivated:
		subject = "Your subscription is active"
		view.Heading = "Welcome aboard"
		if !task.AmountPaid.IsZero() {
			view.Lines = append(view.Lines, "We received your payment of "+n.formatMoney(task.AmountPaid)+".")
		}
		view.Lines = append(view.Lines, "Your job posts are live and all plan features are unlocked.")
	case subscription.EffectNotifyPaymentFailed:
		subject = "Action required: payment failed"
		view.Heading = "We could not charge your payment method"
		if task.GraceEndsAt != nil {
			view.Lines = append(view.Lines, "Your plan stays active until "+n.formatDate(*task.GraceEndsAt)+
				". Update your payment details before then to avoid interruption.")
		}
		view.Action = "Update payment method"
	case subscription.EffectNotifyCancelled:
		subject = "Your subscription was cancelled"
		view.Heading = "Subscription cancelled"
		if task.EntitledUntil != nil && task.EntitledUntil.After(task.OccurredAt) {
			view.Lines = append(view.Lines, "You keep access until "+n.formatDate(*task.EntitledUntil)+".")
		} else {
			view.Lines = append(view.Lines, "Plan features are no longer available.")
		}
		view.Action = "Choose a plan"
	case subscription.EffectNotifySuspended:
		subject = "Your subscription is suspended"
		view.Heading = "Subscription suspended"
		view.Lines = append(view.Lines, "Your job posts are hidden until the subscription is resumed.")
	case subscription.EffectNotifyResumed:
		subject = "Your subscription is active again"
		view.Heading = "Subscription resumed"
		view.Lines = append(view.Lines, "Your job posts are visible again.")
	case subscription.EffectNotifyExpired:
		subject = "Your subscription has ended"
		view.Heading = "Subscription expired"
		view.Lines = append(view.Lines, "Your plan ended and its features are no longer available.")
		view.Action = "Choose a plan"
	default:
		return "", noticeView{}, false
	}
	return subject, view, true
}

// formatMoney renders minor units with the currency's symbol and precision.
func (n *Notifier) formatMoney(m subscription.Money) string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(m.Amount) / math.Pow10(scale)
	return n.printer.Sprintf("%v %v", currency.Symbol(unit), number.Decimal(value, number.Scale(scale)))
}

func (n *Notifier) formatDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}
