package submission

import (
	"context"
	"database/sql"
	"time"

	"github.com/smtaidev/outbound/db"
	"github.com/smtaidev/outbound/errors"
)

// Status of a ledger entry
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Record is one attempted batch submission
type Record struct {
	ID            string    `json:"id"`
	RemoteJobID   string    `json:"remote_job_id,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	FileName      string    `json:"file_name"`
	CallStartTime int64     `json:"call_start_time"`
	CallEndTime   int64     `json:"call_end_time"`
	CallDuration  int64     `json:"call_duration"`
	CallGap       int64     `json:"call_gap"`
	BatchNumber   int       `json:"batch_number"`
	NumberCount   *int64    `json:"number_count,omitempty"`
	TotalCalls    int64     `json:"total_calls"`
	EstimatedCost float64   `json:"estimated_cost"`
	Status        Status    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Store handles persistence of the submission ledger
type Store struct {
	db *sql.DB
}

// NewStore creates a new submission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	SELECT id, remote_job_id, fingerprint, file_name,
	       call_start_time, call_end_time, call_duration, call_gap, batch_number,
	       number_count, total_calls, estimated_cost, status, error_message, submitted_at
	FROM batch_submissions`

// Create inserts a ledger entry
func (s *Store) Create(ctx context.Context, r *Record) error {
	const query = `
		INSERT INTO batch_submissions (
			id, remote_job_id, fingerprint, file_name,
			call_start_time, call_end_time, call_duration, call_gap, batch_number,
			number_count, total_calls, estimated_cost, status, error_message, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var remoteJobID, errMsg, numberCount interface{}
	if r.RemoteJobID != "" {
		remoteJobID = r.RemoteJobID
	}
	if r.ErrorMessage != "" {
		errMsg = r.ErrorMessage
	}
	if r.NumberCount != nil {
		numberCount = *r.NumberCount
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		remoteJobID,
		r.Fingerprint,
		r.FileName,
		r.CallStartTime,
		r.CallEndTime,
		r.CallDuration,
		r.CallGap,
		r.BatchNumber,
		numberCount,
		r.TotalCalls,
		r.EstimatedCost,
		string(r.Status),
		errMsg,
		r.SubmittedAt.Unix(),
	)
	return db.Classify(err, "failed to record submission "+r.ID)
}

// Get retrieves a ledger entry by ID
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("submission %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get submission %s", id)
	}
	return r, nil
}

// List returns the most recent ledger entries, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, db.Classify(err, "failed to list submissions")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan submission")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate submissions")
}

// FindRecent returns the newest successful submission with this fingerprint
// at or after since, or nil when there is none
func (s *Store) FindRecent(ctx context.Context, fingerprint string, since time.Time) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE fingerprint = ? AND submitted_at >= ? AND status = 'submitted'
		ORDER BY submitted_at DESC LIMIT 1`, fingerprint, since.Unix())
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "failed to look up recent submission")
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var r Record
	var remoteJobID, errMsg sql.NullString
	var numberCount sql.NullInt64
	var status string
	var submittedAt int64

	if err := sc.Scan(
		&r.ID,
		&remoteJobID,
		&r.Fingerprint,
		&r.FileName,
		&r.CallStartTime,
		&r.CallEndTime,
		&r.CallDuration,
		&r.CallGap,
		&r.BatchNumber,
		&numberCount,
		&r.TotalCalls,
		&r.EstimatedCost,
		&status,
		&errMsg,
		&submittedAt,
	); err != nil {
		return nil, err
	}

	r.RemoteJobID = remoteJobID.String
	r.ErrorMessage = errMsg.String
	if numberCount.Valid {
		n := numberCount.Int64
		r.NumberCount = &n
	}
	r.Status = Status(status)
	r.SubmittedAt = time.Unix(submittedAt, 0)
	return &r, nil
}
