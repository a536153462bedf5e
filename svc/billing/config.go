package billing

import (
	"errors"
	"time"

	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// Config holds billing service settings loaded from the environment.
type Config struct {
	WebhookDeadline     time.Duration `env:"BILLING_WEBHOOK_DEADLINE" envDefault:"10s"`
	WebhookMaxBodyBytes int64         `env:"BILLING_WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	PlansFile           string        `env:"BILLING_PLANS_FILE" envDefault:"plans.yaml"`
	DashboardURL        string        `env:"BILLING_DASHBOARD_URL" envDefault:"http://localhost:8080/billing"`
	MetricsNamespace    string        `env:"BILLING_METRICS_NAMESPACE" envDefault:"jobboard"`
	ReadinessTimeout    time.Duration `env:"BILLING_READINESS_TIMEOUT" envDefault:"2s"`

	Subscription subscription.Config
	Stripe       subscription.StripeConfig
	PayPal       subscription.PayPalConfig
	Paddle       subscription.PaddleConfig
	Archive      ArchiveConfig
}

// Validate implements config.Validator.
func (c Config) Validate() error {
	switch {
	case c.WebhookDeadline <= 0:
		return errors.New("BILLING_WEBHOOK_DEADLINE must be positive")
	case c.WebhookMaxBodyBytes <= 0:
		return errors.New("BILLING_WEBHOOK_MAX_BODY_BYTES must be positive")
	case c.PlansFile == "":
		return errors.New("BILLING_PLANS_FILE is required")
	case c.Subscription.LockTimeout <= 0:
		return errors.New("BILLING_LOCK_TIMEOUT must be positive")
	}
	return nil
}
