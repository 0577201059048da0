package server

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/registry"
	"github.com/smtaidev/outbound/pulse/rollover"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/pulse/submission"
	"github.com/smtaidev/outbound/pulse/watcher"
	"github.com/smtaidev/outbound/version"
)

// ScheduleUpdate is the body of PUT /api/schedule. Omitted fields are left
// unchanged; numeric fields also accept numeric strings.
type ScheduleUpdate struct {
	CallStart    *string `json:"call_start,omitempty"`
	CallEnd      *string `json:"call_end,omitempty"`
	CallDuration any     `json:"call_duration,omitempty"`
	CallGap      any     `json:"call_gap,omitempty"`
	BatchNumber  any     `json:"batch_number,omitempty"`
}

// ProjectionResponse pairs the capacity projection with its cost breakdown
type ProjectionResponse struct {
	schedule.Projection
	Summary budget.Summary `json:"summary"`
	Valid   bool           `json:"valid"`
	Problem string         `json:"problem,omitempty"`
}

// BudgetResponse reports spend against limits and the submission rate
type BudgetResponse struct {
	Status             *budget.Status `json:"status,omitempty"`
	Limits             *budget.Limits `json:"limits,omitempty"`
	SubmissionsInHour  int            `json:"submissions_in_window"`
	SubmissionsAllowed int            `json:"submissions_remaining"`
}

// WatcherResponse reports the window watcher and the daily rollover
type WatcherResponse struct {
	Watcher  watcher.Stats   `json:"watcher"`
	Rollover *rollover.Stats `json:"rollover,omitempty"`
}

// WatchRequest is the body of POST /api/watcher/arm and /api/watcher/check.
// A zero WindowEnd means the session's current window end; a zero Now means
// the current time.
type WatchRequest struct {
	WindowEnd int64 `json:"window_end,omitempty"`
	Now       int64 `json:"now,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Get().Short(),
		"clients": s.clientCount(),
	})
}

// handleSchedule reads (GET) or edits (PUT) the operator's calling window
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	session := s.deps.Session
	if r.Method == http.MethodPut {
		var req ScheduleUpdate
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		if err := s.applySchedule(req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		p := session.Projection(s.deps.Estimator)
		s.broadcast(ScheduleUpdatedMessage{Type: MsgScheduleUpdated, Projection: p})
		s.logger.Infow("Schedule updated",
			logger.FieldCalls, p.TotalCalls,
			logger.FieldBatchNumber, p.BatchNumber,
			logger.FieldWindowEnd, p.CallEndTime)
	}
	_ = writeJSON(w, http.StatusOK, session.Projection(s.deps.Estimator))
}

// applySchedule commits every field of req or none of them
func (s *Server) applySchedule(req ScheduleUpdate) error {
	return s.deps.Session.Apply(schedule.Update{
		CallStart:    req.CallStart,
		CallEnd:      req.CallEnd,
		CallDuration: req.CallDuration,
		CallGap:      req.CallGap,
		BatchNumber:  req.BatchNumber,
	})
}

// handleProjection returns capacity, cost and the cost formula. An invalid
// window still projects (zero calls) and reports why.
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	p := s.deps.Session.Projection(s.deps.Estimator)
	resp := ProjectionResponse{
		Projection: p,
		Summary:    s.deps.Estimator.Summarize(p.EffectiveCalls, float64(p.CallDuration)),
		Valid:      true,
	}
	if err := s.deps.Session.Validate(); err != nil {
		resp.Valid = false
		resp.Problem = err.Error()
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

// handleCount counts numbers in an uploaded file (POST) or forgets the
// cached count (DELETE)
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	if r.Method == http.MethodDelete {
		s.deps.Session.InvalidateNumberCount()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.deps.Counter == nil {
		writeErrorFrom(w, errors.Wrap(errors.ErrServiceUnavailable, "number counting is not configured"))
		return
	}

	name, data, err := readUpload(r, "file")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	key := schedule.FileKey(data)
	// a new file invalidates any count cached for the previous one
	s.deps.Session.InvalidateNumberCount()

	resp, err := s.deps.Counter.CountNumbers(r.Context(), name, data)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	s.deps.Session.RecordNumberCount(key, resp.Count)
	s.logger.Infow("Numbers counted", logger.FieldFile, name, logger.FieldCount, resp.Count)
	_ = writeJSON(w, http.StatusOK, resp)
}

// handleBatches submits a batch (POST) or lists the local ledger (GET)
func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		records, err := s.deps.Submissions.History(r.Context(), limit)
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		if records == nil {
			records = []*submission.Record{}
		}
		_ = writeJSON(w, http.StatusOK, records)
		return
	}

	name, data, err := readUpload(r, "numberfile")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := s.deps.Submissions.Submit(r.Context(), submission.Request{FileName: name, File: data})
	if err != nil {
		if errors.Is(err, errors.ErrRateLimited) && s.deps.Limiter != nil {
			secs := int(math.Ceil(s.deps.Limiter.RetryAfter().Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		writeErrorFrom(w, err)
		return
	}
	s.broadcast(BatchSubmittedMessage{
		Type:          MsgBatchSubmitted,
		JobID:         result.JobID,
		TotalCalls:    result.Record.TotalCalls,
		EstimatedCost: result.Record.EstimatedCost,
		WindowEnd:     result.Record.CallEndTime,
	})
	_ = writeJSON(w, http.StatusCreated, result)
}

// handleJobs loads one page of remote jobs, applying optional sort and
// filter query parameters first
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	reg := s.deps.Registry
	if name := q.Get("filter"); name != "" {
		f, ok := registry.FilterByName(name)
		if !ok {
			writeErrorFrom(w, errors.NewInvalidRequestError("unknown filter %q", name))
			return
		}
		reg.SetFilter(f)
	}
	if field := q.Get("sort"); field != "" {
		dir := registry.Asc
		if raw := q.Get("dir"); raw != "" {
			d, ok := registry.ParseDirection(raw)
			if !ok {
				writeErrorFrom(w, errors.NewInvalidRequestError("unknown sort direction %q", raw))
				return
			}
			dir = d
		}
		if err := reg.SetSort(field, dir); err != nil {
			writeErrorFrom(w, err)
			return
		}
	}

	view, err := reg.Load(r.Context(), page)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	var resp BudgetResponse
	if s.deps.Tracker != nil {
		status, err := s.deps.Tracker.GetStatus(r.Context())
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		limits := s.deps.Tracker.Limits()
		resp.Status = status
		resp.Limits = &limits
	}
	if s.deps.Limiter != nil {
		resp.SubmissionsInHour, resp.SubmissionsAllowed = s.deps.Limiter.Stats()
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatcher(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Watcher == nil {
		writeErrorFrom(w, errors.Wrap(errors.ErrServiceUnavailable, "window watcher is not running"))
		return
	}
	_ = writeJSON(w, http.StatusOK, s.watcherResponse())
}

// handleWatcherCheck runs one level check of the armed window against now
func (s *Server) handleWatcherCheck(w http.ResponseWriter, r *http.Request) {
	if !s.watcherRequest(w, r) {
		return
	}
	var req WatchRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}
	now := time.Now()
	if req.Now > 0 {
		now = time.Unix(req.Now, 0)
	}
	fired, err := s.deps.Watcher.Poll(r.Context(), now)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"fired":   fired,
		"watcher": s.deps.Watcher.Stats(),
	})
}

// handleWatcherArm arms the watcher for a window end, defaulting to the
// session's current window
func (s *Server) handleWatcherArm(w http.ResponseWriter, r *http.Request) {
	if !s.watcherRequest(w, r) {
		return
	}
	var req WatchRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}
	end := req.WindowEnd
	if end == 0 {
		if err := s.deps.Session.Validate(); err != nil {
			writeErrorFrom(w, err)
			return
		}
		end = s.deps.Session.Config().CallEndTime
	}
	if _, err := s.deps.Watcher.Arm(r.Context(), end); err != nil {
		writeErrorFrom(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, s.watcherResponse())
}

func (s *Server) handleWatcherDisarm(w http.ResponseWriter, r *http.Request) {
	if !s.watcherRequest(w, r) {
		return
	}
	if err := s.deps.Watcher.Disarm(r.Context()); err != nil {
		writeErrorFrom(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, s.watcherResponse())
}

func (s *Server) watcherRequest(w http.ResponseWriter, r *http.Request) bool {
	if !requireMethods(w, r, http.MethodPost) {
		return false
	}
	if s.deps.Watcher == nil {
		writeErrorFrom(w, errors.Wrap(errors.ErrServiceUnavailable, "window watcher is not running"))
		return false
	}
	return true
}

func (s *Server) watcherResponse() WatcherResponse {
	resp := WatcherResponse{Watcher: s.deps.Watcher.Stats()}
	if s.deps.Rollover != nil {
		st := s.deps.Rollover.Stats()
		resp.Rollover = &st
	}
	return resp
}

// readUpload reads one file part from a multipart form
func readUpload(r *http.Request, field string) (string, []byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, errors.NewInvalidRequestError("expected multipart form with a %q file: %v", field, err)
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", nil, errors.WithHint(
			errors.NewInvalidRequestError("missing %q file", field),
			"upload the number list as a CSV or XLSX file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, errors.Wrapf(err, "read %s", hdr.Filename)
	}
	return hdr.Filename, data, nil
}
