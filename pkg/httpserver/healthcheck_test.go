package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/httpserver"
)

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) httpserver.HealthReport {
	t.Helper()
	var report httpserver.HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	return report
}

func TestLiveness(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	httpserver.Liveness()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "alive", decodeReport(t, rec).Status)
}

func TestReadiness(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		h := httpserver.Readiness(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: ok},
			httpserver.Check{Name: "redis", Fn: ok},
		)
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		report := decodeReport(t, rec)
		assert.Equal(t, "ready", report.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, report.Checks)
	})

	t.Run("one check fails", func(t *testing.T) {
		t.Parallel()
		h := httpserver.Readiness(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: ok},
			httpserver.Check{Name: "redis", Fn: fail},
		)
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		report := decodeReport(t, rec)
		assert.Equal(t, "not_ready", report.Status)
		assert.Equal(t, "failed", report.Checks["redis"])
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})

	t.Run("slow check times out", func(t *testing.T) {
		t.Parallel()
		slow := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		h := httpserver.Readiness(nil, 20*time.Millisecond, httpserver.Check{Name: "postgres", Fn: slow})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
