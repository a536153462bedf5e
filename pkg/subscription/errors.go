package subscription

import "errors"

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrUnknownEventType = errors.New("unknown webhook event type")
	ErrMissingConfig    = errors.New("payment provider is not configured")
	ErrStaleEvent       = errors.New("event is older than the last applied event")
	ErrDuplicateEvent   = errors.New("event already processed")
	ErrLockTimeout      = errors.New("timed out waiting for subscription lock")
	ErrPersistence      = errors.New("failed to persist subscription state")
	ErrProviderCall     = errors.New("payment provider call failed")
	ErrNotApplied       = errors.New("command not applied")
	ErrInvalidCommand   = errors.New("invalid subscription command")
	ErrInvalidRequest   = errors.New("invalid subscribe request")

	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrConcurrentModification   = errors.New("subscription was modified concurrently")
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")
)

// IsRetryable reports whether err is an infrastructure failure the caller
// (or the provider's webhook retry) should try again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrProviderCall)
}
