package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobboard/pkg/logger"
)

// Check is a named dependency probe used by Readiness.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// HealthReport is the JSON body written by the health handlers.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness answers 200 as long as the process can serve HTTP.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, HealthReport{Status: "alive"})
	}
}

// Readiness runs every check concurrently, each bounded by timeout.
// It answers 200 when all pass and 503 otherwise; failed checks are logged
// but only reported by name so the probe never leaks connection details.
func Readiness(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		report := HealthReport{Status: "ready", Checks: make(map[string]string, len(checks))}
		var mu sync.Mutex

		// Collect every result instead of stopping at the first failure.
		var g errgroup.Group
		for _, c := range checks {
			g.Go(func() error {
				result := "ok"
				if err := c.Fn(ctx); err != nil {
					log.ErrorContext(ctx, "readiness check failed",
						logger.Component(c.Name),
						logger.Error(err),
					)
					result = "failed"
				}
				mu.Lock()
				report.Checks[c.Name] = result
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		code := http.StatusOK
		for _, result := range report.Checks {
			if result != "ok" {
				report.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeReport(w, code, report)
	}
}

func writeReport(w http.ResponseWriter, code int, report HealthReport) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
