package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// httpError is an HTTP status paired with a stable error key for clients.
type httpError struct {
	Code int
	Key  string
}

func (e httpError) Error() string { return e.Key }

var (
	errBadRequest      = httpError{Code: http.StatusBadRequest, Key: "bad_request"}
	errInvalidID       = httpError{Code: http.StatusBadRequest, Key: "invalid_id"}
	errPayloadTooLarge = httpError{Code: http.StatusRequestEntityTooLarge, Key: "request_entity_too_large"}
	errInternal        = httpError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
)

// statusFor maps a service error to the response status and key. Webhook
// senders treat 4xx as final and redeliver on 5xx, so only failures worth
// retrying map to 5xx.
func statusFor(err error) httpError {
	var he httpError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, subscription.ErrInvalidSignature):
		return httpError{Code: http.StatusBadRequest, Key: "invalid_signature"}
	case errors.Is(err, subscription.ErrMalformedPayload):
		return httpError{Code: http.StatusBadRequest, Key: "malformed_payload"}
	case errors.Is(err, subscription.ErrUnknownProvider):
		return httpError{Code: http.StatusBadRequest, Key: "unknown_provider"}
	case errors.Is(err, subscription.ErrInvalidRequest), errors.Is(err, subscription.ErrInvalidCommand):
		return errBadRequest
	case errors.Is(err, subscription.ErrPlanNotFound):
		return httpError{Code: http.StatusUnprocessableEntity, Key: "plan_not_found"}
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return httpError{Code: http.StatusNotFound, Key: "not_found"}
	case errors.Is(err, subscription.ErrNotApplied):
		return httpError{Code: http.StatusConflict, Key: "not_applied"}
	case errors.Is(err, subscription.ErrLockTimeout):
		return httpError{Code: http.StatusInternalServerError, Key: "lock_timeout"}
	case errors.Is(err, subscription.ErrConcurrentModification):
		return httpError{Code: http.StatusInternalServerError, Key: "concurrent_modification"}
	case errors.Is(err, subscription.ErrProviderCall):
		return httpError{Code: http.StatusInternalServerError, Key: "provider_unavailable"}
	case errors.Is(err, subscription.ErrPersistence):
		return httpError{Code: http.StatusInternalServerError, Key: "persistence_failure"}
	case errors.Is(err, context.DeadlineExceeded):
		return httpError{Code: http.StatusInternalServerError, Key: "timeout"}
	default:
		return errInternal
	}
}
