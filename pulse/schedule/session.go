package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/timenorm"
)

// CostEstimator prices a number of calls of a given duration
type CostEstimator interface {
	EstimateCost(calls int64, durationSeconds float64) float64
}

// Defaults are the values a fresh session starts with
type Defaults struct {
	Start       string // "HH:MM"
	End         string // "HH:MM"
	Duration    int64
	Gap         int64
	BatchNumber int
}

// DefaultsFromConfig reads session defaults from the schedule config section
func DefaultsFromConfig(cfg am.ScheduleConfig) Defaults {
	return Defaults{
		Start:       cfg.DefaultStart,
		End:         cfg.DefaultEnd,
		Duration:    int64(cfg.DefaultDuration),
		Gap:         int64(cfg.DefaultGap),
		BatchNumber: cfg.DefaultBatchNumber,
	}
}

// numberCount is the last known count of dialable numbers for an uploaded file
type numberCount struct {
	fileKey string
	count   int64
}

// Session owns one operator's schedule. All mutation goes through setters;
// nothing here is persisted.
type Session struct {
	mu     sync.RWMutex
	norm   *timenorm.Normalizer
	bounds Bounds
	cfg    Config
	count  *numberCount
}

// NewSession creates a session anchored to today in the normalizer's zone
func NewSession(norm *timenorm.Normalizer, bounds Bounds, defaults Defaults) (*Session, error) {
	s := &Session{norm: norm, bounds: bounds}

	start, err := norm.Normalize(timenorm.KindTime, defaults.Start)
	if err != nil {
		return nil, errors.Wrap(err, "default start")
	}
	end, err := norm.Normalize(timenorm.KindTime, defaults.End)
	if err != nil {
		return nil, errors.Wrap(err, "default end")
	}
	s.cfg = Config{
		CallStartTime: start,
		CallEndTime:   end,
		CallDuration:  defaults.Duration,
		CallGap:       defaults.Gap,
		BatchNumber:   defaults.BatchNumber,
	}
	if err := s.cfg.Validate(bounds); err != nil {
		return nil, errors.Wrap(err, "session defaults")
	}
	return s, nil
}

// Normalizer returns the session's time normalizer
func (s *Session) Normalizer() *timenorm.Normalizer {
	return s.norm
}

// Bounds returns the field bounds the session enforces
func (s *Session) Bounds() Bounds {
	return s.bounds
}

// Config returns a copy of the current schedule
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Validate checks the current schedule against every invariant
func (s *Session) Validate() error {
	return s.Config().Validate(s.bounds)
}

// Update is a partial schedule edit. Nil fields are left unchanged; the
// numeric fields accept numbers or numeric strings.
type Update struct {
	CallStart    *string
	CallEnd      *string
	CallDuration any
	CallGap      any
	BatchNumber  any
}

// Apply parses and checks every field of u, then commits them together.
// On error the schedule is unchanged.
func (s *Session) Apply(u Update) error {
	var (
		start, end, dur, gap *int64
		batch                *int
	)
	if u.CallStart != nil {
		epoch, err := s.norm.Normalize(timenorm.KindTime, *u.CallStart)
		if err != nil {
			return errors.Wrap(err, "call_start_time")
		}
		start = &epoch
	}
	if u.CallEnd != nil {
		epoch, err := s.norm.Normalize(timenorm.KindTime, *u.CallEnd)
		if err != nil {
			return errors.Wrap(err, "call_end_time")
		}
		end = &epoch
	}
	if u.CallDuration != nil {
		d, err := s.norm.Normalize(timenorm.KindDuration, u.CallDuration)
		if err != nil {
			return errors.Wrap(err, "call_duration")
		}
		if err := s.bounds.CheckDuration(d); err != nil {
			return err
		}
		dur = &d
	}
	if u.CallGap != nil {
		g, err := s.norm.Normalize(timenorm.KindDuration, u.CallGap)
		if err != nil {
			return errors.Wrap(err, "call_gap")
		}
		if err := s.bounds.CheckGap(g); err != nil {
			return err
		}
		gap = &g
	}
	if u.BatchNumber != nil {
		n, err := parseBatchNumber(u.BatchNumber)
		if err != nil {
			return err
		}
		if err := s.bounds.CheckBatchNumber(n); err != nil {
			return err
		}
		batch = &n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	if start != nil {
		next.CallStartTime = *start
	}
	if end != nil {
		next.CallEndTime = *end
	}
	if dur != nil {
		next.CallDuration = *dur
	}
	if gap != nil {
		next.CallGap = *gap
	}
	if batch != nil {
		next.BatchNumber = *batch
	}
	s.cfg = next
	return nil
}

// SetCallStart sets the window start from an "HH:MM" wall-clock value
func (s *Session) SetCallStart(clock string) error {
	return s.Apply(Update{CallStart: &clock})
}

// SetCallEnd sets the window end from an "HH:MM" wall-clock value
func (s *Session) SetCallEnd(clock string) error {
	return s.Apply(Update{CallEnd: &clock})
}

// SetCallDuration sets the per-call duration in seconds
func (s *Session) SetCallDuration(value any) error {
	return s.Apply(Update{CallDuration: value})
}

// SetCallGap sets the pause between calls in seconds
func (s *Session) SetCallGap(value any) error {
	return s.Apply(Update{CallGap: value})
}

// SetBatchNumber sets the batch size. Form inputs arrive as strings.
func (s *Session) SetBatchNumber(value any) error {
	return s.Apply(Update{BatchNumber: value})
}

func parseBatchNumber(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, errors.NewValidationError("batch_number must be a whole number, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, errors.NewValidationError("batch_number must be a whole number, got %s", v)
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.NewValidationError("batch_number %q is not a number", v)
		}
		return n, nil
	default:
		return 0, errors.NewValidationError("unsupported batch_number type %T", value)
	}
}

// TotalCalls is the capacity of the current schedule
func (s *Session) TotalCalls() int64 {
	return s.Config().TotalCalls()
}

// FileKey identifies an uploaded number file by content
func FileKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RecordNumberCount caches the count returned for an uploaded file
func (s *Session) RecordNumberCount(fileKey string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = &numberCount{fileKey: fileKey, count: count}
}

// NumberCount returns the cached count and the file it belongs to
func (s *Session) NumberCount() (fileKey string, count int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == nil {
		return "", 0, false
	}
	return s.count.fileKey, s.count.count, true
}

// NumberCountFor returns the cached count only if it belongs to fileKey
func (s *Session) NumberCountFor(fileKey string) (int64, bool) {
	key, count, ok := s.NumberCount()
	if !ok || key != fileKey {
		return 0, false
	}
	return count, true
}

// InvalidateNumberCount forgets the cached count (a new file was chosen)
func (s *Session) InvalidateNumberCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = nil
}

// Reanchor moves the window to the same wall-clock times on today's date
func (s *Session) Reanchor() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.CallStartTime = s.norm.Reanchor(s.cfg.CallStartTime)
	s.cfg.CallEndTime = s.norm.Reanchor(s.cfg.CallEndTime)
	return s.cfg
}

// Projection is the live capacity and cost preview for the current schedule
type Projection struct {
	Config
	CallStart      string  `json:"call_start"` // "HH:MM" in the reference zone
	CallEnd        string  `json:"call_end"`
	TotalCalls     int64   `json:"total_calls"`
	NumberCount    *int64  `json:"number_count,omitempty"`
	EffectiveCalls int64   `json:"effective_calls"`
	EstimatedCost  float64 `json:"estimated_cost"`
}

// Projection derives capacity and estimated cost from the current schedule.
// When a number count is known, only min(count, capacity) calls are priced.
func (s *Session) Projection(est CostEstimator) Projection {
	cfg := s.Config()
	p := Projection{
		Config:     cfg,
		CallStart:  s.norm.FormatTimeOfDay(cfg.CallStartTime),
		CallEnd:    s.norm.FormatTimeOfDay(cfg.CallEndTime),
		TotalCalls: cfg.TotalCalls(),
	}
	p.EffectiveCalls = p.TotalCalls
	if _, count, ok := s.NumberCount(); ok {
		c := count
		p.NumberCount = &c
		p.EffectiveCalls = EffectiveCalls(p.TotalCalls, count)
	}
	if est != nil {
		p.EstimatedCost = est.EstimateCost(p.EffectiveCalls, float64(cfg.CallDuration))
	}
	return p
}

// EffectiveCalls caps capacity by the number of dialable numbers
func EffectiveCalls(capacity, numbers int64) int64 {
	if numbers < 0 {
		return capacity
	}
	return min(capacity, numbers)
}
