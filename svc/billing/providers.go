package billing

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobboard/pkg/environment"
	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// ErrNoProviders is returned when no payment provider has credentials configured.
var ErrNoProviders = errors.New("no payment provider configured")

// NewProviders builds an adapter for every provider that has API credentials.
// Unconfigured providers are skipped with a warning; webhooks addressed to
// them are answered with 400 unknown_provider.
func NewProviders(cfg Config, env environment.Environment, log *slog.Logger) ([]subscription.PaymentProvider, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts := []subscription.ProviderOption{
		subscription.WithProviderLogger(log),
		subscription.WithProviderEnvironment(env),
	}

	var providers []subscription.PaymentProvider
	add := func(name subscription.Provider, configured bool, build func() (subscription.PaymentProvider, error)) error {
		if !configured {
			log.Warn("payment provider disabled", logger.Provider(string(name)))
			return nil
		}
		p, err := build()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		providers = append(providers, p)
		return nil
	}

	err := errors.Join(
		add(subscription.ProviderStripe, cfg.Stripe.SecretKey != "", func() (subscription.PaymentProvider, error) {
			return subscription.NewStripeProvider(cfg.Stripe, opts...)
		}),
		add(subscription.ProviderPayPal, cfg.PayPal.ClientID != "", func() (subscription.PaymentProvider, error) {
			return subscription.NewPayPalProvider(cfg.PayPal, opts...)
		}),
		add(subscription.ProviderPaddle, cfg.Paddle.APIKey != "", func() (subscription.PaymentProvider, error) {
			return subscription.NewPaddleProvider(cfg.Paddle, opts...)
		}),
	)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return providers, nil
}
