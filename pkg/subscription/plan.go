package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Plan is an immutable catalog entry. ProviderPrices maps each provider to the
// price (Stripe, Paddle) or plan (PayPal) identifier used when subscribing.
type Plan struct {
	ID             string              `yaml:"id"`
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	Price          Money               `yaml:"price"`
	Interval       BillingInterval     `yaml:"interval"`
	TrialDays      int                 `yaml:"trial_days"`
	Limits         map[string]int64    `yaml:"limits"` // e.g. "job_posts": 10; -1 is unlimited
	Features       []string            `yaml:"features"`
	ProviderPrices map[Provider]string `yaml:"provider_prices"`
	Public         bool                `yaml:"public"`
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if no trial is available.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// PriceFor returns the provider-side price identifier.
func (p Plan) PriceFor(provider Provider) (string, bool) {
	id, ok := p.ProviderPrices[provider]
	return id, ok && id != ""
}

// Limit returns the plan limit for a resource and whether the plan defines it.
func (p Plan) Limit(resource string) (int64, bool) {
	v, ok := p.Limits[resource]
	return v, ok
}

// HasFeature reports whether the plan includes the feature.
func (p Plan) HasFeature(feature string) bool {
	return slices.Contains(p.Features, feature)
}

func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Features = slices.Clone(p.Features)
	p.ProviderPrices = maps.Clone(p.ProviderPrices)
	return p
}

// PlansSource loads the plan catalog. It is read once at service construction.
type PlansSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type inMemSource struct {
	plans map[string]Plan
}

// NewInMemSource returns a PlansSource holding deep copies of the given plans.
// Panics if no plans are provided.
func NewInMemSource(plans ...Plan) PlansSource {
	if len(plans) == 0 {
		panic("subscription: at least one plan is required")
	}
	m := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		m[plan.ID] = plan.clone()
	}
	return &inMemSource{plans: m}
}

// Load returns a copy of all plans so callers cannot mutate the source.
func (s *inMemSource) Load(context.Context) (map[string]Plan, error) {
	out := make(map[string]Plan, len(s.plans))
	for id, plan := range s.plans {
		out[id] = plan.clone()
	}
	return out, nil
}

// ValidatePlans ensures plan configurations are internally consistent.
func ValidatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("no plans defined"))
	}
	for planID, plan := range plans {
		if plan.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}
		if plan.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price", planID))
		}
		for provider := range plan.ProviderPrices {
			if _, err := ParseProvider(string(provider)); err != nil {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s: %w", planID, err))
			}
		}
	}
	return nil
}
