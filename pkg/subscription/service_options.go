package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobboard/pkg/queue"
)

// Config holds orchestrator tuning loaded from the environment.
type Config struct {
	GracePeriod         time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"168h"`
	LockTimeout         time.Duration `env:"BILLING_LOCK_TIMEOUT" envDefault:"5s"`
	ProviderCallTimeout time.Duration `env:"BILLING_PROVIDER_CALL_TIMEOUT" envDefault:"10s"`
}

// TaskQueue is the subset of queue.Enqueuer the service needs for deferred effects.
type TaskQueue interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (uuid.UUID, error)
}

// Observer receives processing signals, typically to export metrics.
type Observer interface {
	EventProcessed(provider Provider, kind EventKind, outcome Outcome)
	ProviderCallFailed(provider Provider, operation EffectKind)
}

type noopObserver struct{}

func (noopObserver) EventProcessed(Provider, EventKind, Outcome) {}
func (noopObserver) ProviderCallFailed(Provider, EffectKind)     {}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithProvider registers a provider integration. A later registration for the
// same provider replaces the earlier one.
func WithProvider(p PaymentProvider) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
}

// WithTaskQueue sets where notifications, provider retries and grace checks are enqueued.
func WithTaskQueue(q TaskQueue) ServiceOption {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver sets the processing observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides the time source; tests use it to pin "now".
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConfig applies every non-zero field of cfg.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		if cfg.GracePeriod > 0 {
			s.cfg.GracePeriod = cfg.GracePeriod
		}
		if cfg.LockTimeout > 0 {
			s.cfg.LockTimeout = cfg.LockTimeout
		}
		if cfg.ProviderCallTimeout > 0 {
			s.cfg.ProviderCallTimeout = cfg.ProviderCallTimeout
		}
	}
}

// WithGracePeriod sets how long past_due subscriptions keep entitlements.
func WithGracePeriod(d time.Duration) ServiceOption {
	return WithConfig(Config{GracePeriod: d})
}

// WithLockTimeout bounds how long a call waits for a subscription lock.
func WithLockTimeout(d time.Duration) ServiceOption {
	return WithConfig(Config{LockTimeout: d})
}

// WithProviderCallTimeout bounds each inline provider call.
func WithProviderCallTimeout(d time.Duration) ServiceOption {
	return WithConfig(Config{ProviderCallTimeout: d})
}
