package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/environment"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
	"github.com/dmitrymomot/jobboard/svc/billing"
)

func TestNewProviders(t *testing.T) {
	t.Parallel()

	names := func(ps []subscription.PaymentProvider) []subscription.Provider {
		out := make([]subscription.Provider, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name())
		}
		return out
	}

	t.Run("all configured", func(t *testing.T) {
		t.Parallel()
		cfg := billing.Config{
			Stripe: subscription.StripeConfig{SecretKey: "sk_test_1", WebhookSecret: "whsec_1"},
			PayPal: subscription.PayPalConfig{ClientID: "client", ClientSecret: "secret", Sandbox: true},
			Paddle: subscription.PaddleConfig{APIKey: "pdl_key", Environment: "sandbox"},
		}

		providers, err := billing.NewProviders(cfg, environment.Development, nil)
		require.NoError(t, err)
		assert.Equal(t, []subscription.Provider{
			subscription.ProviderStripe,
			subscription.ProviderPayPal,
			subscription.ProviderPaddle,
		}, names(providers))
	})

	t.Run("skips unconfigured", func(t *testing.T) {
		t.Parallel()
		cfg := billing.Config{Paddle: subscription.PaddleConfig{APIKey: "pdl_key"}}

		providers, err := billing.NewProviders(cfg, environment.Development, nil)
		require.NoError(t, err)
		assert.Equal(t, []subscription.Provider{subscription.ProviderPaddle}, names(providers))
	})

	t.Run("none configured", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewProviders(billing.Config{}, environment.Development, nil)
		assert.ErrorIs(t, err, billing.ErrNoProviders)
	})

	t.Run("incomplete credentials", func(t *testing.T) {
		t.Parallel()
		cfg := billing.Config{
			Stripe: subscription.StripeConfig{SecretKey: "sk_test_1"},
			PayPal: subscription.PayPalConfig{ClientID: "client"},
		}

		_, err := billing.NewProviders(cfg, environment.Development, nil)
		require.ErrorIs(t, err, subscription.ErrMissingConfig)
		assert.Contains(t, err.Error(), "paypal")
	})
}
