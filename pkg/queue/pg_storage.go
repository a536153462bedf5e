package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobboard/pkg/pg"
)

// PGStorage implements the queue repositories on PostgreSQL.
// Claims use FOR UPDATE SKIP LOCKED so any number of workers across instances can poll
// the same table without handing out a task twice.
type PGStorage struct {
	pool    *pgxpool.Pool
	backoff BackoffStrategy
	now     func() time.Time
}

// PGStorageOption configures a PGStorage.
type PGStorageOption func(*PGStorage)

// WithPGBackoff sets the retry delay strategy.
func WithPGBackoff(b BackoffStrategy) PGStorageOption {
	return func(s *PGStorage) {
		if b != nil {
			s.backoff = b
		}
	}
}

// NewPGStorage creates a PostgreSQL-backed queue storage.
func NewPGStorage(pool *pgxpool.Pool, opts ...PGStorageOption) *PGStorage {
	if pool == nil {
		panic("queue: pg pool cannot be nil")
	}
	s := &PGStorage{pool: pool, backoff: ExponentialBackoff{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const taskColumns = `id, queue, task_name, payload, status, priority, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

// CreateTask implements EnqueuerRepository
func (s *PGStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_tasks (id, queue, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Queue, task.TaskName, task.Payload, task.Status,
		int16(task.Priority), int16(task.RetryCount), int16(task.MaxRetries),
		task.ScheduledAt, task.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask implements WorkerRepository. Tasks whose processing lock expired are
// claimable again, which recovers work from crashed workers.
func (s *PGStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_tasks SET status = 'processing', locked_until = $1, locked_by = $2
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($3)
			  AND ((status = 'pending' AND scheduled_at <= $4)
			    OR (status = 'processing' AND locked_until < $4))
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		now.Add(lockDuration), workerID, queues, now,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// CompleteTask implements WorkerRepository
func (s *PGStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`,
		taskID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotProcessing
	}
	return nil
}

// FailTask implements WorkerRepository
func (s *PGStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var retryCount, maxRetries int16
		var status TaskStatus
		err := tx.QueryRow(ctx,
			`SELECT retry_count, max_retries, status FROM queue_tasks WHERE id = $1 FOR UPDATE`,
			taskID,
		).Scan(&retryCount, &maxRetries, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if status != TaskStatusProcessing {
			return ErrTaskNotProcessing
		}

		retryCount++
		next := TaskStatusPending
		scheduledAt := s.now().Add(s.backoff.NextInterval(int(retryCount)))
		if retryCount >= maxRetries {
			next = TaskStatusFailed
		}

		_, err = tx.Exec(ctx, `
			UPDATE queue_tasks
			SET status = $2, retry_count = $3, error = $4, scheduled_at = $5, locked_until = NULL, locked_by = NULL
			WHERE id = $1`,
			taskID, next, retryCount, errorMsg, scheduledAt,
		)
		if err != nil {
			return fmt.Errorf("update failed task: %w", err)
		}
		return nil
	})
}

// MoveToDLQ implements WorkerRepository
func (s *PGStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO queue_dead_tasks (id, task_id, queue, task_name, payload, priority, error, retry_count, failed_at)
			SELECT $2, id, queue, task_name, payload, priority, COALESCE(error, ''), retry_count, $3
			FROM queue_tasks WHERE id = $1`,
			taskID, uuid.New(), s.now(),
		)
		if err != nil {
			return fmt.Errorf("insert dead task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTaskNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, taskID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t                             Task
		priority, retries, maxRetries int16
	)
	err := row.Scan(
		&t.ID, &t.Queue, &t.TaskName, &t.Payload, &t.Status, &priority, &retries, &maxRetries,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.RetryCount = int8(retries)
	t.MaxRetries = int8(maxRetries)
	return &t, nil
}
