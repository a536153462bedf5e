package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobboard/pkg/pg"
)

// ErrContactNotFound is returned when an employer has no billing email on file.
var ErrContactNotFound = errors.New("billing contact not found")

// Contacts stores the address billing notices go to.
type Contacts interface {
	SaveBillingEmail(ctx context.Context, employerID uuid.UUID, email string) error
	BillingEmail(ctx context.Context, employerID uuid.UUID) (string, error)
}

// PGContacts implements Contacts on the billing_contacts table.
type PGContacts struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGContacts creates a Contacts backed by pool.
func NewPGContacts(pool *pgxpool.Pool) *PGContacts {
	if pool == nil {
		panic("billing: pg pool cannot be nil")
	}
	return &PGContacts{pool: pool, now: time.Now}
}

// SaveBillingEmail upserts the employer's billing address.
func (c *PGContacts) SaveBillingEmail(ctx context.Context, employerID uuid.UUID, email string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO billing_contacts (employer_id, email, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (employer_id) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at`,
		employerID, email, c.now().UTC(),
	)
	return err
}

// BillingEmail returns the employer's billing address.
func (c *PGContacts) BillingEmail(ctx context.Context, employerID uuid.UUID) (string, error) {
	var email string
	err := c.pool.QueryRow(ctx, `SELECT email FROM billing_contacts WHERE employer_id = $1`, employerID).Scan(&email)
	if pg.IsNotFoundError(err) {
		return "", ErrContactNotFound
	}
	return email, err
}

// MemoryContacts is an in-process Contacts.
type MemoryContacts struct {
	mu     sync.RWMutex
	emails map[uuid.UUID]string
}

// NewMemoryContacts creates an empty MemoryContacts.
func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{emails: make(map[uuid.UUID]string)}
}

func (c *MemoryContacts) SaveBillingEmail(_ context.Context, employerID uuid.UUID, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails[employerID] = email
	return nil
}

func (c *MemoryContacts) BillingEmail(_ context.Context, employerID uuid.UUID) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	email, ok := c.emails[employerID]
	if !ok {
		return "", ErrContactNotFound
	}
	return email, nil
}
