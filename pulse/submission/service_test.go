package submission

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/errors"
	outboundtest "github.com/smtaidev/outbound/internal/testing"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/timenorm"
)

var fixedNow = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

type fakeSubmitter struct {
	mu        sync.Mutex
	requests  []batchapi.SubmitRequest
	jobID     string
	err       error
	serviceID string
}

func (f *fakeSubmitter) SubmitBatch(ctx context.Context, req batchapi.SubmitRequest) (*batchapi.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &batchapi.SubmitResponse{Success: true, JobID: f.jobID, Message: "queued"}, nil
}

func (f *fakeSubmitter) ResolveServiceID(ctx context.Context) (string, error) {
	return f.serviceID, nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeArmer struct {
	ends []int64
}

func (f *fakeArmer) Arm(ctx context.Context, windowEnd int64) (uint64, error) {
	f.ends = append(f.ends, windowEnd)
	return uint64(len(f.ends)), nil
}

type fixture struct {
	db      *sql.DB
	session *schedule.Session
	client  *fakeSubmitter
	armer   *fakeArmer
	store   *Store
	svc     *Service
	now     time.Time
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		db:     outboundtest.CreateTestDB(t),
		client: &fakeSubmitter{jobID: "job-1", serviceID: "svc-1"},
		armer:  &fakeArmer{},
		now:    fixedNow,
	}
	clock := func() time.Time { return f.now }

	norm := timenorm.NewWithClock(time.UTC, clock)
	session, err := schedule.NewSession(norm, schedule.DefaultBounds(), schedule.Defaults{
		Start: "09:00", End: "17:00", Duration: 300, Gap: 10, BatchNumber: 5,
	})
	require.NoError(t, err)
	f.session = session
	f.store = NewStore(f.db)

	opts := Options{
		Session:     session,
		Estimator:   budget.NewEstimator(budget.DefaultRates()),
		Client:      f.client,
		Store:       f.store,
		Tracker:     budget.NewTrackerWithClock(f.db, budget.Limits{}, clock),
		Limiter:     budget.NewLimiterWithClock(0, time.Hour, clock),
		Watcher:     f.armer,
		DedupWindow: 10 * time.Minute,
		Now:         clock,
		Logger:      zap.NewNop().Sugar(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = NewService(opts)
	return f
}

var numbers = []byte("5551230001\n5551230002\n")

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), Request{FileName: "leads.csv", File: numbers})
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, uint64(1), res.Generation)

	// Window and file reach the remote API
	require.Equal(t, 1, f.client.calls())
	sent := f.client.requests[0]
	cfg := f.session.Config()
	assert.Equal(t, cfg.CallStartTime, sent.StartingTime)
	assert.Equal(t, int64(300), sent.CallDuration)
	assert.Equal(t, int64(10), sent.CallGap)
	assert.Equal(t, 5, sent.NumbersPerBatch)
	assert.Equal(t, "svc-1", sent.ServiceID)

	// Watcher armed with the window end
	assert.Equal(t, []int64{cfg.CallEndTime}, f.armer.ends)

	// Ledger entry priced at full capacity: 460 calls x 300s
	rec, err := f.store.Get(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, "job-1", rec.RemoteJobID)
	assert.Equal(t, int64(460), rec.TotalCalls)
	assert.InDelta(t, 351.9, rec.EstimatedCost, 1e-9)
	assert.Nil(t, rec.NumberCount)
}

func TestSubmit_NumberCountCapsCost(t *testing.T) {
	f := newFixture(t)
	f.session.RecordNumberCount(schedule.FileKey(numbers), 2)

	res, err := f.svc.Submit(context.Background(), Request{FileName: "leads.csv", File: numbers})
	require.NoError(t, err)
	require.NotNil(t, res.Record.NumberCount)
	assert.Equal(t, int64(2), res.Record.TotalCalls)
	assert.InDelta(t, 2*0.153*5, res.Record.EstimatedCost, 1e-9)
}

func TestSubmit_ValidationNeverReachesNetwork(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetCallEnd("08:00"))

	_, err := f.svc.Submit(context.Background(), Request{File: numbers})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Zero(t, f.client.calls())
	assert.Empty(t, f.armer.ends)
}

func TestSubmit_EmptyFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), Request{FileName: "empty.csv"})
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Zero(t, f.client.calls())
}

func TestSubmit_DuplicateWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Request{File: numbers})
	require.NoError(t, err)

	// Given the same schedule and file five minutes later
	f.now = f.now.Add(5 * time.Minute)
	_, err = f.svc.Submit(ctx, Request{File: numbers})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.Equal(t, 1, f.client.calls())

	// A different file is not a duplicate
	_, err = f.svc.Submit(ctx, Request{File: []byte("5559990000\n")})
	require.NoError(t, err)

	// Once the window passes the same batch is accepted again
	f.now = f.now.Add(11 * time.Minute)
	_, err = f.svc.Submit(ctx, Request{File: numbers})
	require.NoError(t, err)
	assert.Equal(t, 3, f.client.calls())
}

func TestSubmit_BudgetExceeded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.opts.Tracker.UpdateLimits(budget.Limits{DailyUSD: 100}))

	_, err := f.svc.Submit(context.Background(), Request{File: numbers})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))
	assert.Zero(t, f.client.calls())
}

func TestSubmit_BudgetCountsPriorSubmissions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.opts.Tracker.UpdateLimits(budget.Limits{DailyUSD: 500}))
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Request{File: numbers})
	require.NoError(t, err)

	// 351.9 spent; another 351.9 would cross 500
	_, err = f.svc.Submit(ctx, Request{File: []byte("5559990000\n")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Limiter = budget.NewLimiterWithClock(1, time.Hour, func() time.Time { return fixedNow })
	})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Request{File: numbers})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Request{File: []byte("other\n")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	assert.Equal(t, 1, f.client.calls())
}

func TestSubmit_RemoteFailureRecorded(t *testing.T) {
	f := newFixture(t)
	f.client.err = &batchapi.TransportError{Op: "submit batch", StatusCode: 502, Err: errors.Wrap(errors.ErrTransport, "bad gateway")}
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Request{File: numbers})
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.Empty(t, f.armer.ends, "failed submissions do not arm the watcher")

	history, err := f.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
	assert.Contains(t, history[0].ErrorMessage, "bad gateway")

	// Failures neither count as spend nor block a retry as a duplicate
	spend, n, err := budget.NewStore(f.db).SpendSince(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, spend)
	assert.Zero(t, n)

	f.client.err = nil
	_, err = f.svc.Submit(ctx, Request{File: numbers})
	require.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	cfg := schedule.Config{CallStartTime: 1, CallEndTime: 2, CallDuration: 300, CallGap: 10, BatchNumber: 5}
	a := Fingerprint(cfg, numbers)
	assert.Equal(t, a, Fingerprint(cfg, numbers))

	cfg.CallGap = 11
	assert.NotEqual(t, a, Fingerprint(cfg, numbers))
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	q := f.svc.Quote(numbers)
	assert.Equal(t, int64(460), q.Calls)
	assert.Nil(t, q.NumberCount)
	assert.InDelta(t, 351.9, q.EstimatedCost, 1e-9)
}
