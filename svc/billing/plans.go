package billing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// ErrDuplicatePlan is returned when the catalog defines the same plan id twice.
var ErrDuplicatePlan = errors.New("duplicate plan id in catalog")

type planCatalog struct {
	Plans []subscription.Plan `yaml:"plans"`
}

type yamlPlansSource struct {
	fsys fs.FS
	path string
}

// NewYAMLPlansSource reads the plan catalog from a YAML file:
//
//	plans:
//	  - id: pro_monthly
//	    name: Pro
//	    price: {amount: 4900, currency: USD}
//	    interval: monthly
//	    trial_days: 14
//	    limits: {job_posts: 25}
//	    features: [featured_listings]
//	    provider_prices:
//	      stripe: price_1Pro
//	      paypal: P-5ML4271244454362WXNWU5NQ
//	      paddle: pri_01hpro
func NewYAMLPlansSource(fsys fs.FS, path string) subscription.PlansSource {
	return &yamlPlansSource{fsys: fsys, path: path}
}

// Load implements subscription.PlansSource.
func (s *yamlPlansSource) Load(_ context.Context) (map[string]subscription.Plan, error) {
	data, err := fs.ReadFile(s.fsys, s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", s.path, err)
	}
	return parsePlans(data)
}

func parsePlans(data []byte) (map[string]subscription.Plan, error) {
	var catalog planCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}

	plans := make(map[string]subscription.Plan, len(catalog.Plans))
	for _, p := range catalog.Plans {
		if p.ID == "" {
			return nil, errors.Join(subscription.ErrInvalidPlanConfiguration, errors.New("plan without id"))
		}
		if _, ok := plans[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlan, p.ID)
		}
		plans[p.ID] = p
	}
	return plans, nil
}
