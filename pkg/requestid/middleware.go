package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const (
	Header      = "X-Request-ID"
	maxIDLength = 128
	idPattern   = "^[a-zA-Z0-9_-]+$"
)

// Delivery headers payment providers set on webhook requests.
const (
	PayPalTransmissionHeader = "Paypal-Transmission-Id"
	PaddleNotificationHeader = "Paddle-Notification-Id"
)

var validIDRegex = regexp.MustCompile(idPattern)

// Option configures the middleware.
type Option func(*options)

type options struct {
	fallbackHeaders []string
}

// WithFallbackHeaders lists headers consulted, in order, when X-Request-ID is
// absent or invalid. Webhook deliveries carry their own correlation ids, so
// reusing them lets logs be matched against the provider dashboard.
func WithFallbackHeaders(headers ...string) Option {
	return func(o *options) {
		o.fallbackHeaders = append(o.fallbackHeaders, headers...)
	}
}

// Middleware attaches a request ID, generating a UUID when the client sent none.
func Middleware(next http.Handler) http.Handler {
	return New()(next)
}

// New returns the request ID middleware configured with opts.
func New(opts ...Option) func(http.Handler) http.Handler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := o.pick(r.Header)
			w.Header().Set(Header, requestID)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requestID)))
		})
	}
}

func (o options) pick(h http.Header) string {
	if id := h.Get(Header); isValidRequestID(id) {
		return id
	}
	for _, name := range o.fallbackHeaders {
		if id := h.Get(name); isValidRequestID(id) {
			return id
		}
	}
	return uuid.New().String()
}

func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > maxIDLength {
		return false
	}
	return validIDRegex.MatchString(id)
}
