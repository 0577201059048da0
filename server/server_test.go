package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/internal/httpclient"
	outboundtest "github.com/smtaidev/outbound/internal/testing"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/registry"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/pulse/submission"
	"github.com/smtaidev/outbound/pulse/watcher"
	"github.com/smtaidev/outbound/timenorm"
)

// remote fakes the batch API: submit, list and count
type remote struct {
	mu      sync.Mutex
	submits int
	jobs    []batchapi.BatchJob
}

func (rm *remote) submitCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.submits
}

func (rm *remote) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/outbound/start-batch-call", func(w http.ResponseWriter, r *http.Request) {
		rm.mu.Lock()
		rm.submits++
		rm.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"job_id":"job-42","message":"queued"}`)
	})
	mux.HandleFunc("/outbound/all-batch-jobs/", func(w http.ResponseWriter, r *http.Request) {
		rm.mu.Lock()
		page := batchapi.JobPage{Page: 1, Limit: 10, TotalJobs: len(rm.jobs), TotalPages: 1, Jobs: rm.jobs}
		rm.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	})
	mux.HandleFunc("/count", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		n := strings.Count(strings.TrimSpace(string(data)), "\n") + 1
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(batchapi.CountResponse{Success: true, Count: int64(n), Filename: hdr.Filename}))
	})
	return mux
}

type fixture struct {
	srv     *Server
	ts      *httptest.Server
	remote  *remote
	session *schedule.Session
	watcher *watcher.Watcher
	limiter *budget.Limiter
}

var fixedNow = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rm := &remote{}
	upstream := httptest.NewServer(rm.handler(t))
	t.Cleanup(upstream.Close)

	client := batchapi.NewClient(batchapi.Config{
		BaseURL:        upstream.URL,
		CountURL:       upstream.URL + "/count",
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		HTTPClient:     httpclient.Wrap(upstream.Client()),
		Logger:         zap.NewNop().Sugar(),
	})

	clock := func() time.Time { return fixedNow }
	norm := timenorm.NewWithClock(time.UTC, clock)
	session, err := schedule.NewSession(norm, schedule.DefaultBounds(), schedule.Defaults{
		Start: "09:00", End: "17:00", Duration: 300, Gap: 10, BatchNumber: 5,
	})
	require.NoError(t, err)

	db := outboundtest.CreateTestDB(t)
	est := budget.NewEstimator(budget.DefaultRates())
	tracker := budget.NewTrackerWithClock(db, budget.Limits{DailyUSD: 1000}, clock)
	limiter := budget.NewLimiterWithClock(10, time.Hour, clock)
	w := watcher.New(watcher.Config{Interval: 10 * time.Millisecond, Now: clock}, zap.NewNop().Sugar())
	w.Start()
	t.Cleanup(w.Stop)

	subs := submission.NewService(submission.Options{
		Session:     session,
		Estimator:   est,
		Client:      client,
		Store:       submission.NewStore(db),
		Tracker:     tracker,
		Limiter:     limiter,
		Watcher:     w,
		DedupWindow: 10 * time.Minute,
		Now:         clock,
		Logger:      zap.NewNop().Sugar(),
	})

	srv := New(Deps{
		Session:     session,
		Estimator:   est,
		Counter:     client,
		Submissions: subs,
		Registry:    registry.New(client, est, registry.Options{Logger: zap.NewNop().Sugar()}),
		Tracker:     tracker,
		Limiter:     limiter,
		Watcher:     w,
	}, Config{AllowedOrigins: []string{"http://dashboard.local"}}, zap.NewNop().Sugar())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		ts.Close()
	})
	return &fixture{srv: srv, ts: ts, remote: rm, session: session, watcher: w, limiter: limiter}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func upload(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var numbers = []byte("5551230001\n5551230002\n5551230003\n")

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", nil, "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "dash-7")
	resp, err = f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "dash-7", resp.Header.Get("X-Request-ID"))
}

func TestSchedule_GetReturnsProjection(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/schedule", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p schedule.Projection
	decode(t, resp, &p)
	assert.Equal(t, "09:00", p.CallStart)
	assert.Equal(t, "17:00", p.CallEnd)
	assert.Equal(t, int64(460), p.TotalCalls)
	assert.InDelta(t, 351.9, p.EstimatedCost, 1e-6)
}

func TestSchedule_PutAcceptsStringsAndNumbers(t *testing.T) {
	f := newFixture(t)
	body := `{"call_end":"13:00","call_duration":240,"call_gap":"12","batch_number":"4"}`
	resp := f.do(t, http.MethodPut, "/api/schedule", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := f.session.Config()
	assert.Equal(t, int64(240), cfg.CallDuration)
	assert.Equal(t, int64(12), cfg.CallGap)
	assert.Equal(t, 4, cfg.BatchNumber)
	assert.Equal(t, time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC).Unix(), cfg.CallEndTime)
}

func TestSchedule_PutRejectsOutOfBounds(t *testing.T) {
	f := newFixture(t)
	before := f.session.Config()

	resp := f.do(t, http.MethodPut, "/api/schedule", strings.NewReader(`{"call_duration":30}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, before, f.session.Config())
}

func TestSchedule_PutRejectedLeavesEveryFieldUnchanged(t *testing.T) {
	f := newFixture(t)
	before := f.session.Config()

	body := `{"call_end":"13:00","call_duration":240,"call_gap":99}`
	resp := f.do(t, http.MethodPut, "/api/schedule", strings.NewReader(body), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, before, f.session.Config())
}

func TestSchedule_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodDelete, "/api/schedule", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProjection_InvalidWindowStillProjects(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetCallEnd("08:00"))

	resp := f.do(t, http.MethodGet, "/api/projection", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ProjectionResponse
	decode(t, resp, &body)
	assert.False(t, body.Valid)
	assert.NotEmpty(t, body.Problem)
	assert.Equal(t, int64(0), body.TotalCalls)
	assert.Equal(t, 0.0, body.EstimatedCost)
}

func TestCount_CachesCountForFile(t *testing.T) {
	f := newFixture(t)
	buf, ct := upload(t, "file", "leads.csv", numbers)
	resp := f.do(t, http.MethodPost, "/api/numbers/count", buf, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body batchapi.CountResponse
	decode(t, resp, &body)
	assert.Equal(t, int64(3), body.Count)

	n, ok := f.session.NumberCountFor(schedule.FileKey(numbers))
	require.True(t, ok)
	assert.Equal(t, int64(3), n)

	// Projection now prices only the three numbers
	proj := f.do(t, http.MethodGet, "/api/projection", nil, "")
	var p ProjectionResponse
	decode(t, proj, &p)
	assert.Equal(t, int64(3), p.EffectiveCalls)

	del := f.do(t, http.MethodDelete, "/api/numbers/count", nil, "")
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	_, ok = f.session.NumberCountFor(schedule.FileKey(numbers))
	assert.False(t, ok)
}

func TestCount_MissingFile(t *testing.T) {
	f := newFixture(t)
	buf, ct := upload(t, "other", "leads.csv", numbers)
	resp := f.do(t, http.MethodPost, "/api/numbers/count", buf, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Hints)
}

func TestBatches_SubmitThenDuplicate(t *testing.T) {
	f := newFixture(t)

	buf, ct := upload(t, "numberfile", "leads.csv", numbers)
	resp := f.do(t, http.MethodPost, "/api/batches", buf, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result submission.Result
	decode(t, resp, &result)
	assert.Equal(t, "job-42", result.JobID)
	assert.Equal(t, watcher.StateArmed, f.watcher.State())

	// Same schedule and file inside the dedup window
	buf, ct = upload(t, "numberfile", "leads.csv", numbers)
	dup := f.do(t, http.MethodPost, "/api/batches", buf, ct)
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
	assert.Equal(t, 1, f.remote.submitCount())

	hist := f.do(t, http.MethodGet, "/api/batches?limit=5", nil, "")
	require.Equal(t, http.StatusOK, hist.StatusCode)
	var records []submission.Record
	decode(t, hist, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "job-42", records[0].RemoteJobID)
}

func TestBatches_InvalidScheduleNeverReachesRemote(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetCallEnd("08:00"))

	buf, ct := upload(t, "numberfile", "leads.csv", numbers)
	resp := f.do(t, http.MethodPost, "/api/batches", buf, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.remote.submitCount())
}

func TestBatches_RateLimitedSetsRetryAfter(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, f.limiter.Allow())
	}

	buf, ct := upload(t, "numberfile", "leads.csv", numbers)
	resp := f.do(t, http.MethodPost, "/api/batches", buf, ct)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3600", resp.Header.Get("Retry-After"))
	assert.Equal(t, 0, f.remote.submitCount())
}

func TestJobs_SortAndFilter(t *testing.T) {
	f := newFixture(t)
	dur := 60.0
	f.remote.mu.Lock()
	f.remote.jobs = []batchapi.BatchJob{
		{JobID: "b", Status: batchapi.StatusCompleted, CallingTo: "b.csv", TotalNumbers: 20, CallDuration: &dur},
		{JobID: "a", Status: batchapi.StatusCompleted, CallingTo: "a.csv", TotalNumbers: 10, CallDuration: &dur},
		{JobID: "c", Status: batchapi.StatusPending, CallingTo: "c.csv", TotalNumbers: 30},
	}
	f.remote.mu.Unlock()

	resp := f.do(t, http.MethodGet, "/api/jobs?sort=total_numbers&dir=desc", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view registry.View
	decode(t, resp, &view)
	require.Len(t, view.Jobs, 2)
	assert.Equal(t, "b", view.Jobs[0].JobID)
	assert.Equal(t, "a", view.Jobs[1].JobID)

	resp = f.do(t, http.MethodGet, "/api/jobs?filter=all", nil, "")
	decode(t, resp, &view)
	assert.Len(t, view.Jobs, 3)
}

func TestJobs_BadQuery(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"page=0", "filter=bogus", "sort=bogus", "sort=job_id&dir=sideways"} {
		resp := f.do(t, http.MethodGet, "/api/jobs?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestBudget(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/budget", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body BudgetResponse
	decode(t, resp, &body)
	require.NotNil(t, body.Limits)
	assert.Equal(t, 1000.0, body.Limits.DailyUSD)
	assert.Equal(t, 10, body.SubmissionsAllowed)
}

func TestWatcher_ArmCheckDisarm(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/watcher/arm", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wr WatcherResponse
	decode(t, resp, &wr)
	assert.Equal(t, watcher.StateArmed, wr.Watcher.State)
	assert.Equal(t, f.session.Config().CallEndTime, wr.Watcher.WindowEnd)

	// Before the window ends nothing fires
	before := strings.NewReader(`{"now":` + jsonInt(f.session.Config().CallEndTime-1) + `}`)
	resp = f.do(t, http.MethodPost, "/api/watcher/check", before, "application/json")
	var check map[string]interface{}
	decode(t, resp, &check)
	assert.Equal(t, false, check["fired"])

	resp = f.do(t, http.MethodPost, "/api/watcher/disarm", nil, "")
	decode(t, resp, &wr)
	assert.Equal(t, watcher.StateIdle, wr.Watcher.State)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewValidationError("x"), http.StatusBadRequest},
		{errors.NewInvalidInputError("x"), http.StatusBadRequest},
		{errors.NewNotFoundError("x"), http.StatusNotFound},
		{errors.Wrap(errors.ErrConflict, "x"), http.StatusConflict},
		{errors.Wrap(errors.ErrSuperseded, "x"), http.StatusConflict},
		{errors.Wrap(errors.ErrBudgetExceeded, "x"), http.StatusPaymentRequired},
		{errors.Wrap(errors.ErrRateLimited, "x"), http.StatusTooManyRequests},
		{errors.Wrap(errors.ErrTransport, "x"), http.StatusBadGateway},
		{errors.Wrap(errors.ErrServiceUnavailable, "x"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/schedule", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_Broadcasts(t *testing.T) {
	f := newFixture(t)
	f.srv.forwardWatcherEvents()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodPut, "/api/schedule", strings.NewReader(`{"batch_number":3}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgScheduleUpdated, msg["type"])

	// A window that already ended fires on the next tick
	resp = f.do(t, http.MethodPost, "/api/watcher/arm", strings.NewReader(`{"window_end":1}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgWindowEnded, msg["type"])
	assert.Equal(t, float64(1), msg["window_end"])
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
