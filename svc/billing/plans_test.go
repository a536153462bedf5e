package billing_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/lock"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
	"github.com/dmitrymomot/jobboard/svc/billing"
)

const catalogYAML = `
plans:
  - id: starter
    name: Starter
    price: {amount: 0, currency: USD}
    interval: monthly
    trial_days: 14
    limits: {job_posts: 3}
    provider_prices:
      stripe: price_starter
  - id: pro
    name: Pro
    price: {amount: 4900, currency: USD}
    interval: monthly
    limits: {job_posts: -1}
    features: [featured_listings, candidate_search]
    public: true
    provider_prices:
      stripe: price_pro
      paypal: P-5ML4271244454362WXNWU5NQ
      paddle: pri_01hpro
`

func TestYAMLPlansSource(t *testing.T) {
	t.Parallel()

	t.Run("loads catalog", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"config/plans.yaml": {Data: []byte(catalogYAML)}}

		plans, err := billing.NewYAMLPlansSource(fsys, "config/plans.yaml").Load(context.Background())
		require.NoError(t, err)
		require.Len(t, plans, 2)

		pro := plans["pro"]
		assert.Equal(t, "Pro", pro.Name)
		assert.Equal(t, subscription.Money{Amount: 4900, Currency: "USD"}, pro.Price)
		assert.Equal(t, subscription.BillingIntervalMonthly, pro.Interval)
		assert.Equal(t, subscription.Unlimited, pro.Limits["job_posts"])
		assert.True(t, pro.HasFeature("candidate_search"))
		assert.True(t, pro.Public)

		price, ok := pro.PriceFor(subscription.ProviderPaddle)
		assert.True(t, ok)
		assert.Equal(t, "pri_01hpro", price)

		_, ok = plans["starter"].PriceFor(subscription.ProviderPayPal)
		assert.False(t, ok)
		assert.Equal(t, 14, plans["starter"].TrialDays)
	})

	t.Run("feeds service", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"plans.yaml": {Data: []byte(catalogYAML)}}

		svc, err := subscription.NewService(context.Background(),
			billing.NewYAMLPlansSource(fsys, "plans.yaml"),
			subscription.NewMemoryStore(),
			lock.NewMemoryLocker(),
		)
		require.NoError(t, err)

		plan, err := svc.Plan("starter")
		require.NoError(t, err)
		assert.Equal(t, "Starter", plan.Name)
		_, err = svc.Plan("enterprise")
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})

	t.Run("unknown provider price rejected by service", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"plans.yaml": {Data: []byte("plans:\n  - id: pro\n    provider_prices: {square: sq_1}\n")}}

		_, err := subscription.NewService(context.Background(),
			billing.NewYAMLPlansSource(fsys, "plans.yaml"),
			subscription.NewMemoryStore(),
			lock.NewMemoryLocker(),
		)
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewYAMLPlansSource(fstest.MapFS{}, "plans.yaml").Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plans.yaml")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"plans.yaml": {Data: []byte("plans: [")}}
		_, err := billing.NewYAMLPlansSource(fsys, "plans.yaml").Load(context.Background())
		require.Error(t, err)
	})

	t.Run("plan without id", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"plans.yaml": {Data: []byte("plans:\n  - name: Nameless\n")}}
		_, err := billing.NewYAMLPlansSource(fsys, "plans.yaml").Load(context.Background())
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"plans.yaml": {Data: []byte("plans:\n  - id: pro\n  - id: pro\n")}}
		_, err := billing.NewYAMLPlansSource(fsys, "plans.yaml").Load(context.Background())
		assert.ErrorIs(t, err, billing.ErrDuplicatePlan)
	})
}
