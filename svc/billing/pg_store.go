package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobboard/pkg/pg"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

// PGStore implements subscription.Store on PostgreSQL.
// A commit runs in one transaction; updates are guarded by the row version.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ subscription.Store = (*PGStore)(nil)

// NewPGStore creates a store backed by pool. Panics if pool is nil.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pg pool cannot be nil")
	}
	return &PGStore{pool: pool}
}

const subscriptionColumns = `id, employer_id, provider, provider_sub_id, plan_id, status,
	period_start, period_end, amount_paid, currency, trial, cancel_requested, cancel_reason,
	grace_ends_at, entitled_until, last_event_id, last_event_at,
	created_at, updated_at, activated_at, cancelled_at, suspended_at, expired_at, version`

// Get implements subscription.Store.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}
	return sub, nil
}

// FindByProviderRef implements subscription.Store.
func (s *PGStore) FindByProviderRef(ctx context.Context, provider subscription.Provider, providerSubID string) (*subscription.Subscription, error) {
	if providerSubID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider = $1 AND provider_sub_id = $2`,
		provider, providerSubID,
	)
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}
	return sub, nil
}

// ListByEmployer implements subscription.Store.
func (s *PGStore) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE employer_id = $1 ORDER BY created_at DESC, id`,
		employerID,
	)
	if err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Join(subscription.ErrPersistence, err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}
	return out, nil
}

// ListPayments implements subscription.Store.
func (s *PGStore) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, provider, transaction_id, amount, currency, status, occurred_at, created_at
		FROM payments WHERE subscription_id = $1 ORDER BY occurred_at, created_at`,
		subscriptionID,
	)
	if err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}

	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscription.Payment, error) {
		var p subscription.Payment
		err := row.Scan(&p.ID, &p.SubscriptionID, &p.Provider, &p.TransactionID,
			&p.Amount.Amount, &p.Amount.Currency, &p.Status, &p.OccurredAt, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, errors.Join(subscription.ErrPersistence, err)
	}
	return payments, nil
}

// LookupEvent implements subscription.Store.
func (s *PGStore) LookupEvent(ctx context.Context, provider subscription.Provider, externalEventID string) (*subscription.EventLogEntry, bool, error) {
	var (
		e     subscription.EventLogEntry
		subID *uuid.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT provider, external_event_id, subscription_id, kind, outcome, status, reason, occurred_at, processed_at
		FROM webhook_events WHERE provider = $1 AND external_event_id = $2`,
		provider, externalEventID,
	).Scan(&e.Provider, &e.ExternalEventID, &subID, &e.Kind, &e.Outcome, &e.Status, &e.Reason, &e.OccurredAt, &e.ProcessedAt)
	if pg.IsNotFoundError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Join(subscription.ErrPersistence, err)
	}
	if subID != nil {
		e.SubscriptionID = *subID
	}
	return &e, true, nil
}

// Commit implements subscription.Store. Updates run before inserts so a
// superseded subscription leaves the active set before its replacement joins it.
func (s *PGStore) Commit(ctx context.Context, c subscription.Commit) error {
	if c.Empty() {
		return nil
	}

	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, sub := range c.Update {
			if err := updateSubscription(ctx, tx, sub); err != nil {
				return err
			}
		}
		for _, sub := range c.Insert {
			if err := insertSubscription(ctx, tx, sub); err != nil {
				return err
			}
		}
		if c.Payment != nil {
			if err := insertPayment(ctx, tx, *c.Payment); err != nil {
				return err
			}
		}
		if c.Event != nil {
			if err := insertEvent(ctx, tx, *c.Event); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, subscription.ErrDuplicateEvent),
		errors.Is(err, subscription.ErrConcurrentModification),
		errors.Is(err, subscription.ErrSubscriptionNotFound):
		return err
	case pg.IsDuplicateKeyError(err), pg.IsSerializationError(err):
		return errors.Join(subscription.ErrConcurrentModification, err)
	default:
		return errors.Join(subscription.ErrPersistence, err)
	}
}

func insertSubscription(ctx context.Context, tx pgx.Tx, sub subscription.Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, 1)`,
		sub.ID, sub.EmployerID, sub.Provider, sub.ProviderSubID, sub.PlanID, sub.Status,
		sub.PeriodStart, sub.PeriodEnd, sub.AmountPaid.Amount, sub.AmountPaid.Currency, sub.Trial,
		sub.CancelRequested, sub.CancelReason, sub.GraceEndsAt, sub.EntitledUntil,
		sub.LastEventID, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
		sub.ActivatedAt, sub.CancelledAt, sub.SuspendedAt, sub.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func updateSubscription(ctx context.Context, tx pgx.Tx, sub subscription.Subscription) error {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			provider_sub_id = $3, plan_id = $4, status = $5, period_start = $6, period_end = $7,
			amount_paid = $8, currency = $9, trial = $10, cancel_requested = $11, cancel_reason = $12,
			grace_ends_at = $13, entitled_until = $14, last_event_id = $15, last_event_at = $16,
			updated_at = $17, activated_at = $18, cancelled_at = $19, suspended_at = $20, expired_at = $21,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		sub.ID, sub.Version, sub.ProviderSubID, sub.PlanID, sub.Status, sub.PeriodStart, sub.PeriodEnd,
		sub.AmountPaid.Amount, sub.AmountPaid.Currency, sub.Trial, sub.CancelRequested, sub.CancelReason,
		sub.GraceEndsAt, sub.EntitledUntil, sub.LastEventID, sub.LastEventAt,
		sub.UpdatedAt, sub.ActivatedAt, sub.CancelledAt, sub.SuspendedAt, sub.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check subscription %s: %w", sub.ID, err)
	}
	if !exists {
		return subscription.ErrSubscriptionNotFound
	}
	return fmt.Errorf("%w: subscription %s is no longer at version %d",
		subscription.ErrConcurrentModification, sub.ID, sub.Version)
}

func insertPayment(ctx context.Context, tx pgx.Tx, p subscription.Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, subscription_id, provider, transaction_id, amount, currency, status, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, transaction_id, status) WHERE transaction_id <> '' DO NOTHING`,
		p.ID, p.SubscriptionID, p.Provider, p.TransactionID, p.Amount.Amount, p.Amount.Currency,
		p.Status, p.OccurredAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e subscription.EventLogEntry) error {
	var subID *uuid.UUID
	if e.SubscriptionID != uuid.Nil {
		subID = &e.SubscriptionID
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (provider, external_event_id, subscription_id, kind, outcome, status, reason, occurred_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		e.Provider, e.ExternalEventID, subID, e.Kind, e.Outcome, e.Status, e.Reason, e.OccurredAt, e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event log entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrDuplicateEvent
	}
	return nil
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.EmployerID, &s.Provider, &s.ProviderSubID, &s.PlanID, &s.Status,
		&s.PeriodStart, &s.PeriodEnd, &s.AmountPaid.Amount, &s.AmountPaid.Currency, &s.Trial,
		&s.CancelRequested, &s.CancelReason, &s.GraceEndsAt, &s.EntitledUntil,
		&s.LastEventID, &s.LastEventAt,
		&s.CreatedAt, &s.UpdatedAt, &s.ActivatedAt, &s.CancelledAt, &s.SuspendedAt, &s.ExpiredAt,
		&s.Version,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
