package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/queue"
)

func newTask(clock *fakeClock, name string, priority queue.Priority, maxRetries int8) *queue.Task {
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       queue.DefaultQueueName,
		TaskName:    name,
		Payload:     []byte(`{}`),
		Status:      queue.TaskStatusPending,
		Priority:    priority,
		MaxRetries:  maxRetries,
		ScheduledAt: clock.Now(),
		CreatedAt:   clock.Now(),
	}
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	queues := []string{queue.DefaultQueueName}

	t.Run("claims by priority then schedule", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		low := newTask(clock, "low", queue.PriorityLow, 3)
		high := newTask(clock, "high", queue.PriorityHigh, 3)
		require.NoError(t, ms.CreateTask(ctx, low))
		require.NoError(t, ms.CreateTask(ctx, high))

		claimed, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "high", claimed.TaskName)
		assert.Equal(t, queue.TaskStatusProcessing, claimed.Status)

		claimed, err = ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "low", claimed.TaskName)

		_, err = ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("delayed tasks wait for their time", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "later", queue.PriorityDefault, 3)
		task.ScheduledAt = clock.Now().Add(time.Hour)
		require.NoError(t, ms.CreateTask(ctx, task))

		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)

		clock.Advance(time.Hour)
		claimed, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, task.ID, claimed.ID)
	})

	t.Run("ignores other queues", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "x", queue.PriorityDefault, 3)
		task.Queue = "other"
		require.NoError(t, ms.CreateTask(ctx, task))

		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("failure reschedules with backoff", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(
			queue.WithMemoryClock(clock.Now),
			queue.WithMemoryBackoff(queue.ConstantBackoff(30*time.Second)),
		)

		task := newTask(clock, "retry", queue.PriorityDefault, 3)
		require.NoError(t, ms.CreateTask(ctx, task))

		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		require.NoError(t, ms.FailTask(ctx, task.ID, "boom"))

		stored := ms.Tasks("retry")[0]
		assert.Equal(t, queue.TaskStatusPending, stored.Status)
		assert.Equal(t, int8(1), stored.RetryCount)
		assert.Equal(t, clock.Now().Add(30*time.Second), stored.ScheduledAt)
		require.NotNil(t, stored.Error)
		assert.Equal(t, "boom", *stored.Error)
	})

	t.Run("final failure marks failed", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "once", queue.PriorityDefault, 1)
		require.NoError(t, ms.CreateTask(ctx, task))
		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		require.NoError(t, ms.FailTask(ctx, task.ID, "boom"))

		assert.Equal(t, queue.TaskStatusFailed, ms.Tasks("once")[0].Status)
	})

	t.Run("expired lock is recovered", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "stuck", queue.PriorityDefault, 3)
		require.NoError(t, ms.CreateTask(ctx, task))
		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		claimed, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, task.ID, claimed.ID)
	})

	t.Run("move to dlq", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "dead", queue.PriorityDefault, 1)
		require.NoError(t, ms.CreateTask(ctx, task))
		_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		require.NoError(t, ms.FailTask(ctx, task.ID, "fatal"))
		require.NoError(t, ms.MoveToDLQ(ctx, task.ID))

		assert.Empty(t, ms.Tasks())
		dead := ms.DeadTasks()
		require.Len(t, dead, 1)
		assert.Equal(t, task.ID, dead[0].TaskID)
		assert.Equal(t, "fatal", dead[0].Error)
		assert.Equal(t, int8(1), dead[0].RetryCount)
	})

	t.Run("state errors", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))

		task := newTask(clock, "x", queue.PriorityDefault, 3)
		require.NoError(t, ms.CreateTask(ctx, task))

		assert.ErrorIs(t, ms.CreateTask(ctx, task), queue.ErrTaskExists)
		assert.ErrorIs(t, ms.CompleteTask(ctx, task.ID), queue.ErrTaskNotProcessing)
		assert.ErrorIs(t, ms.FailTask(ctx, uuid.New(), "x"), queue.ErrTaskNotFound)
		assert.ErrorIs(t, ms.MoveToDLQ(ctx, uuid.New()), queue.ErrTaskNotFound)
	})
}
