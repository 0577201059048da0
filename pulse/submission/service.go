// Package submission sends the operator's schedule and number file to the
// remote batch API and keeps a local ledger of what was sent.
//
// Submit runs a fixed pipeline: validate the schedule, reject empty files,
// refuse a duplicate of a recent submission, price the batch, check spend
// limits and the submission rate, submit, record the outcome, and arm the
// window watcher with the window end. Nothing reaches the network until every
// local check has passed.
package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/schedule"
)

// Submitter is the remote side of a submission
type Submitter interface {
	SubmitBatch(ctx context.Context, req batchapi.SubmitRequest) (*batchapi.SubmitResponse, error)
	ResolveServiceID(ctx context.Context) (string, error)
}

// WindowArmer starts watching for the window end
type WindowArmer interface {
	Arm(ctx context.Context, windowEnd int64) (uint64, error)
}

// Options wires the collaborators of a Service. Tracker, Limiter and Watcher
// are optional.
type Options struct {
	Session     *schedule.Session
	Estimator   schedule.CostEstimator
	Client      Submitter
	Store       *Store
	Tracker     *budget.Tracker
	Limiter     *budget.Limiter
	Watcher     WindowArmer
	DedupWindow time.Duration // 0 disables duplicate detection
	Now         func() time.Time
	Logger      *zap.SugaredLogger
}

// Request is one submission attempt
type Request struct {
	FileName string
	File     []byte
}

// Result describes an accepted submission
type Result struct {
	Record     *Record `json:"record"`
	JobID      string  `json:"job_id"`
	Message    string  `json:"message,omitempty"`
	Generation uint64  `json:"watch_generation,omitempty"`
}

// Service submits batches. Submissions are serialized so the duplicate check
// and the ledger write cannot interleave.
type Service struct {
	opts Options
	mu   sync.Mutex
}

// NewService creates a submission service
func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("submission")
	}
	return &Service{opts: opts}
}

// Fingerprint identifies a submission by its schedule and file content
func Fingerprint(cfg schedule.Config, file []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|", cfg.CallStartTime, cfg.CallEndTime, cfg.CallDuration, cfg.CallGap, cfg.BatchNumber)
	h.Write(file)
	return hex.EncodeToString(h.Sum(nil))
}

// Quote is the priced form of the current schedule for one file
type Quote struct {
	Config        schedule.Config `json:"config"`
	Calls         int64           `json:"calls"`
	NumberCount   *int64          `json:"number_count,omitempty"`
	EstimatedCost float64         `json:"estimated_cost"`
}

// Quote prices the current schedule against a file without submitting.
// A known number count for the file caps the priced calls.
func (s *Service) Quote(file []byte) Quote {
	cfg := s.opts.Session.Config()
	q := Quote{Config: cfg, Calls: cfg.TotalCalls()}
	if n, ok := s.opts.Session.NumberCountFor(schedule.FileKey(file)); ok {
		q.NumberCount = &n
		q.Calls = schedule.EffectiveCalls(q.Calls, n)
	}
	q.EstimatedCost = s.opts.Estimator.EstimateCost(q.Calls, float64(cfg.CallDuration))
	return q
}

// Submit runs the submission pipeline for the session's current schedule
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.FromContext(ctx, s.opts.Logger)
	if err := s.opts.Session.Validate(); err != nil {
		return nil, err
	}
	if len(req.File) == 0 {
		return nil, errors.WithHint(errors.NewInvalidRequestError("number file is empty"),
			"choose a CSV or XLSX file with at least one number")
	}

	q := s.Quote(req.File)
	cfg, calls, cost := q.Config, q.Calls, q.EstimatedCost
	now := s.opts.Now()
	rec := &Record{
		ID:            uuid.NewString(),
		Fingerprint:   Fingerprint(cfg, req.File),
		FileName:      req.FileName,
		CallStartTime: cfg.CallStartTime,
		CallEndTime:   cfg.CallEndTime,
		CallDuration:  cfg.CallDuration,
		CallGap:       cfg.CallGap,
		BatchNumber:   cfg.BatchNumber,
		NumberCount:   q.NumberCount,
		TotalCalls:    calls,
		EstimatedCost: cost,
		SubmittedAt:   now,
	}
	log = log.With(logger.FieldSubmissionID, rec.ID, logger.FieldFingerprint, rec.Fingerprint[:12])

	if s.opts.DedupWindow > 0 {
		prev, err := s.opts.Store.FindRecent(ctx, rec.Fingerprint, now.Add(-s.opts.DedupWindow))
		if err != nil {
			return nil, err
		}
		if prev != nil {
			err := errors.Wrapf(errors.ErrConflict, "identical batch submitted at %s", prev.SubmittedAt.Format(time.RFC3339))
			err = errors.WithDetailf(err, "Remote job: %s", prev.RemoteJobID)
			return nil, errors.WithHint(err, "change the schedule or the number file, or wait for the duplicate window to pass")
		}
	}

	if s.opts.Tracker != nil {
		if err := s.opts.Tracker.CheckBudget(ctx, cost); err != nil {
			log.Warnw("Submission blocked by budget", logger.FieldEstimatedCost, cost, logger.FieldError, err)
			return nil, err
		}
	}
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Allow(); err != nil {
			log.Warnw("Submission rate limited", logger.FieldError, err)
			return nil, err
		}
	}

	serviceID, err := s.opts.Client.ResolveServiceID(ctx)
	if err != nil {
		return nil, s.fail(ctx, rec, errors.Wrap(err, "failed to resolve service id"))
	}

	resp, err := s.opts.Client.SubmitBatch(ctx, batchapi.SubmitRequest{
		StartingTime:    cfg.CallStartTime,
		CallDuration:    cfg.CallDuration,
		CallGap:         cfg.CallGap,
		NumbersPerBatch: cfg.BatchNumber,
		ServiceID:       serviceID,
		FileName:        req.FileName,
		File:            req.File,
	})
	if err != nil {
		return nil, s.fail(ctx, rec, errors.Wrap(err, "submit batch"))
	}

	rec.RemoteJobID = resp.JobID
	rec.Status = StatusSubmitted
	if err := s.opts.Store.Create(context.WithoutCancel(ctx), rec); err != nil {
		// the remote job exists regardless; do not fail the submission
		log.Errorw("Failed to record accepted submission", logger.FieldJobID, resp.JobID, logger.FieldError, err)
	}

	result := &Result{Record: rec, JobID: resp.JobID, Message: resp.Message}
	if s.opts.Watcher != nil {
		gen, err := s.opts.Watcher.Arm(ctx, cfg.CallEndTime)
		if err != nil {
			log.Warnw("Failed to arm window watcher", logger.FieldError, err)
		}
		result.Generation = gen
	}

	log.Infow("Batch submission accepted",
		logger.FieldJobID, resp.JobID,
		logger.FieldCalls, calls,
		logger.FieldEstimatedCost, cost,
		logger.FieldGeneration, result.Generation)
	return result, nil
}

// fail records a failed attempt and returns cause
func (s *Service) fail(ctx context.Context, rec *Record, cause error) error {
	rec.Status = StatusFailed
	rec.ErrorMessage = cause.Error()
	if err := s.opts.Store.Create(context.WithoutCancel(ctx), rec); err != nil {
		s.opts.Logger.Errorw("Failed to record failed submission", logger.FieldSubmissionID, rec.ID, logger.FieldError, err)
	}
	s.opts.Logger.Warnw("Batch submission failed", logger.FieldSubmissionID, rec.ID, logger.FieldError, cause)
	return cause
}

// History returns recent ledger entries, newest first
func (s *Service) History(ctx context.Context, limit int) ([]*Record, error) {
	return s.opts.Store.List(ctx, limit)
}
