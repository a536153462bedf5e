// Package logger builds *slog.Logger instances with functional options, domain
// attribute helpers, and transparent injection of values stored in context.Context.
//
// Every record from New also carries the attributes produced by registered
// ContextExtractor functions (a request id, for example).
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Parse(cfg.AppEnv), "billing"),
//	    logger.WithConfig(cfg.Log),
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//
//	log.InfoContext(ctx, "webhook processed",
//	    logger.Provider("stripe"),
//	    logger.EventID(evt.ExternalEventID),
//	    logger.Outcome("applied"),
//	)
//
// Attribute helpers return an empty slog.Attr for nil or empty input, which
// slog drops, so they can be passed unconditionally.
package logger
