// Package httpserver wraps net/http with context-driven graceful shutdown,
// environment-loaded timeouts and JSON health probes.
//
// Run blocks until the supplied context is cancelled and then drains in-flight
// requests within the shutdown timeout. Request contexts are detached from the
// run context, so cancelling Run never aborts a handler mid-commit. Signal
// handling belongs to the caller (see signal.NotifyContext).
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	r.Get("/health/live", httpserver.Liveness())
//	r.Get("/health/ready", httpserver.Readiness(log, 2*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//	))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Run wraps listen errors with ErrStart and Shutdown wraps shutdown errors
// with ErrShutdown.
package httpserver
