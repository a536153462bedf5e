// Package requestid assigns a correlation id to every HTTP request.
//
// The middleware reuses a valid X-Request-ID sent by the caller or generates a
// UUID, stores it in the request context and echoes it in the response. Payment
// providers do not send X-Request-ID, but PayPal and Paddle put a delivery id on
// every webhook; New with WithFallbackHeaders uses that id instead, so a log line
// can be matched with the provider's delivery log.
//
//	r.Use(requestid.New(requestid.WithFallbackHeaders(
//		requestid.PayPalTransmissionHeader,
//		requestid.PaddleNotificationHeader,
//	)))
//
// LoggerExtractor plugs into logger.WithContextExtractors and adds the id to
// every record logged with the request context.
package requestid
