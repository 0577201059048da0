// Package budget prices outbound calls and enforces spend and submission limits.
// Spend is read from the local submission ledger over sliding 24h/7d/30d windows.
package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/smtaidev/outbound/errors"
)

// Store handles spend queries against the batch_submissions ledger
type Store struct {
	db *sql.DB
}

// NewStore creates a new budget store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SpendSince sums the estimated cost of successful submissions at or after since
func (s *Store) SpendSince(ctx context.Context, since time.Time) (totalCost float64, submissions int, err error) {
	const query = `
		SELECT
			COALESCE(SUM(estimated_cost), 0) AS total_cost,
			COUNT(*) AS submission_count
		FROM batch_submissions
		WHERE submitted_at >= ?
			AND status = 'submitted'
	`

	if err := s.db.QueryRowContext(ctx, query, since.Unix()).Scan(&totalCost, &submissions); err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query spend since %s", since.Format(time.RFC3339))
	}
	return totalCost, submissions, nil
}
