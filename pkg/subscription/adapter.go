package subscription

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/dmitrymomot/jobboard/pkg/environment"
)

// Metadata key carrying the internal subscription id through provider objects.
const subscriptionRefKey = "subscription_ref"

type providerOptions struct {
	log        *slog.Logger
	env        environment.Environment
	now        func() time.Time
	httpClient *http.Client
	baseURL    string
}

func newProviderOptions(opts []ProviderOption) providerOptions {
	o := providerOptions{
		log: slog.New(slog.DiscardHandler),
		env: environment.Development,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ProviderOption configures a provider adapter.
type ProviderOption func(*providerOptions)

// WithProviderLogger sets the adapter logger.
func WithProviderLogger(l *slog.Logger) ProviderOption {
	return func(o *providerOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithProviderEnvironment sets the runtime environment. Production makes
// signature verification fail closed when no secret is configured.
func WithProviderEnvironment(env environment.Environment) ProviderOption {
	return func(o *providerOptions) { o.env = env }
}

// WithProviderClock overrides the time source.
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(o *providerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHTTPClient sets the HTTP client used for provider API calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(o *providerOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithBaseURL points the adapter at a different API host, such as a local stub.
func WithBaseURL(url string) ProviderOption {
	return func(o *providerOptions) { o.baseURL = strings.TrimRight(url, "/") }
}

func malformed(provider Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, provider, err)
}

func invalidSignature(provider Provider, reason any) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidSignature, provider, reason)
}

func decodeJSON(provider Provider, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return malformed(provider, err)
	}
	return nil
}

// minorUnits converts a decimal amount such as "12.50" into the currency's smallest unit.
func minorUnits(value, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)

	r, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return Money{}, fmt.Errorf("invalid amount %q", value)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)))
	if !r.IsInt() {
		return Money{}, fmt.Errorf("amount %q has more precision than %s allows", value, unit)
	}
	return Money{Amount: r.Num().Int64(), Currency: unit.String()}, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	return timePtr(time.Unix(sec, 0).UTC())
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return timePtr(t.UTC())
}
