package recon

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLinkNotFound indicates no ledger row is linked to a Clockify entry id.
var ErrLinkNotFound = errors.New("recon: link not found")

// LinkStore persists which Odoo timesheet row a Clockify time entry produced,
// so delete events can find their row without re-parsing project and task
// identity, and so out-of-order redeliveries can be recognised.
//
// Backing table:
//
//	CREATE TABLE timesheet_links (
//	    clockify_id TEXT PRIMARY KEY,
//	    odoo_id     BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type LinkStore struct {
	pool *pgxpool.Pool
}

// NewLinkStore constructs the store.
func NewLinkStore(pool *pgxpool.Pool) *LinkStore {
	return &LinkStore{pool: pool}
}

// Get returns the Odoo row id linked to a Clockify entry id.
func (s *LinkStore) Get(ctx context.Context, clockifyID string) (int, error) {
	if s == nil {
		return 0, errors.New("recon: link store not initialised")
	}
	var odooID int
	err := s.pool.QueryRow(ctx,
		`SELECT odoo_id FROM timesheet_links WHERE clockify_id = $1`, clockifyID).Scan(&odooID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrLinkNotFound
	}
	if err != nil {
		return 0, err
	}
	return odooID, nil
}

// Put records or refreshes a link.
func (s *LinkStore) Put(ctx context.Context, clockifyID string, odooID int) error {
	if s == nil {
		return errors.New("recon: link store not initialised")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO timesheet_links (clockify_id, odoo_id) VALUES ($1, $2)
		 ON CONFLICT (clockify_id) DO UPDATE SET odoo_id = EXCLUDED.odoo_id`,
		clockifyID, odooID)
	return err
}

// Delete removes a link. Deleting an absent link is not an error.
func (s *LinkStore) Delete(ctx context.Context, clockifyID string) error {
	if s == nil {
		return errors.New("recon: link store not initialised")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM timesheet_links WHERE clockify_id = $1`, clockifyID)
	return err
}
