package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/queue"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
	"github.com/dmitrymomot/jobboard/svc/billing"
)

type failingTask struct {
	N int `json:"n"`
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("observer counters", func(t *testing.T) {
		t.Parallel()
		m := billing.NewMetrics("jobboard")

		m.EventProcessed(subscription.ProviderStripe, subscription.KindPaymentFailed, subscription.OutcomeApplied)
		m.EventProcessed(subscription.ProviderStripe, subscription.KindPaymentFailed, subscription.OutcomeApplied)
		m.EventProcessed(subscription.ProviderPayPal, subscription.KindUnknown, subscription.OutcomeRejected)
		m.ProviderCallFailed(subscription.ProviderPaddle, subscription.EffectProviderSuspend)

		assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsProcessed.WithLabelValues("stripe", "payment_failed", "applied")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsProcessed.WithLabelValues("paypal", "unknown", "rejected")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderCallsFailed.WithLabelValues("paddle", "provider_suspend")))
	})

	t.Run("webhook responses", func(t *testing.T) {
		t.Parallel()
		m := billing.NewMetrics("jobboard")

		m.RecordWebhook("stripe", 200, 30*time.Millisecond)
		m.RecordWebhook("stripe", 500, time.Second)

		assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookResponses.WithLabelValues("stripe", "500")))
		assert.Equal(t, 1, testutil.CollectAndCount(m.WebhookDuration))
	})

	t.Run("dead letter hook", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		m := billing.NewMetrics("jobboard")

		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		_, err = enqueuer.Enqueue(ctx, failingTask{N: 1},
			queue.WithQueue(subscription.QueueProviderCalls),
			queue.WithMaxRetries(1),
		)
		require.NoError(t, err)

		worker, err := queue.NewWorker(storage,
			queue.WithQueues(subscription.QueueProviderCalls),
			queue.WithDeadLetterHook(m.DeadLetterHook()),
		)
		require.NoError(t, err)
		worker.RegisterHandlers(queue.NewTaskHandler(func(context.Context, failingTask) error {
			return errors.New("provider down")
		}))

		claimed, err := worker.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, claimed)

		require.Len(t, storage.DeadTasks(), 1)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.DeadTasks.WithLabelValues(subscription.QueueProviderCalls, "billing_test.failingTask")))
	})
}
