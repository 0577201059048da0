// Package timenorm converts operator-entered wall-clock and duration values into
// epoch seconds against one reference time zone.
//
// Every schedule boundary in the system passes through a single Normalizer so that
// no call site picks its own zone. Values carrying an explicit UTC offset keep it;
// everything else is read in the reference zone.
package timenorm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

// Kind selects how Normalize interprets its value
type Kind string

const (
	KindDate     Kind = "date"
	KindTime     Kind = "time"
	KindDateTime Kind = "datetime"
	KindDuration Kind = "duration"
)

// ParseKind maps a string to a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDate, KindTime, KindDateTime, KindDuration:
		return k, nil
	default:
		return "", errors.NewInvalidInputError("unknown time kind %q", s)
	}
}

// DefaultZone is the reference zone used when none is configured
const DefaultZone = "America/New_York"

// Layouts accepted for datetimes without an explicit offset
var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

const dateLayout = "2006-01-02"

// Normalizer converts values to epoch seconds in its reference zone
type Normalizer struct {
	loc    *time.Location
	now    func() time.Time
	logger *zap.SugaredLogger
}

// New creates a Normalizer bound to loc and the wall clock
func New(loc *time.Location) *Normalizer {
	return NewWithClock(loc, time.Now)
}

// NewWithClock creates a Normalizer with an injectable clock (for testing)
func NewWithClock(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		loc:    loc,
		now:    now,
		logger: logger.ComponentLogger("timenorm"),
	}
}

// Load creates a Normalizer for the named IANA zone.
// An empty name selects DefaultZone.
func Load(zone string) (*Normalizer, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidInput, "unknown time zone %q", zone),
			"set schedule.timezone to an IANA name such as America/New_York",
		)
	}
	return New(loc), nil
}

// Location returns the reference zone
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Now returns the current instant in the reference zone
func (n *Normalizer) Now() time.Time {
	return n.now().In(n.loc)
}

// Normalize converts value to epoch seconds according to kind.
// Failures wrap errors.ErrInvalidInput.
func (n *Normalizer) Normalize(kind Kind, value any) (int64, error) {
	switch kind {
	case KindDate:
		s, err := asString(kind, value)
		if err != nil {
			return 0, err
		}
		return n.normalizeDate(s)
	case KindTime:
		s, err := asString(kind, value)
		if err != nil {
			return 0, err
		}
		return n.normalizeTime(s)
	case KindDateTime:
		s, err := asString(kind, value)
		if err != nil {
			return 0, err
		}
		t, err := n.parseDateTime(s)
		if err != nil {
			return 0, err
		}
		return t.Unix(), nil
	case KindDuration:
		return NormalizeDuration(value)
	default:
		return 0, errors.NewInvalidInputError("unknown time kind %q", kind)
	}
}

// NormalizeOrZero returns 0 instead of an error and logs the failure.
// Only display paths should use it; 0 is indistinguishable from the epoch.
func (n *Normalizer) NormalizeOrZero(kind Kind, value any) int64 {
	v, err := n.Normalize(kind, value)
	if err != nil {
		n.logger.Debugw("Normalization failed, using 0",
			"kind", kind,
			"value", value,
			logger.FieldError, err)
		return 0
	}
	return v
}

// normalizeDate returns the start of the named day in the reference zone
func (n *Normalizer) normalizeDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var t time.Time
	if d, err := time.ParseInLocation(dateLayout, s, n.loc); err == nil {
		t = d
	} else {
		dt, err := n.parseDateTime(s)
		if err != nil {
			return 0, errors.NewInvalidInputError("invalid date %q", s)
		}
		t = dt.In(n.loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, n.loc).Unix(), nil
}

// normalizeTime combines "HH:MM" with today's date in the reference zone.
// A wall time inside a DST gap moves forward by the size of the gap, so
// 02:30 on a spring-forward day becomes 03:30.
func (n *Normalizer) normalizeTime(s string) (int64, error) {
	hour, minute, err := ParseClock(s)
	if err != nil {
		return 0, err
	}
	today := n.Now()
	t := time.Date(today.Year(), today.Month(), today.Day(), hour, minute, 0, 0, n.loc)
	if t.Hour() == hour && t.Minute() == minute {
		return t.Unix(), nil
	}
	// time.Date may pick either offset inside a gap; read the wall clock
	// with the offset in force before the transition
	_, before := t.Add(-3 * time.Hour).Zone()
	wall := time.Date(today.Year(), today.Month(), today.Day(), hour, minute, 0, 0, time.UTC).Unix()
	return wall - int64(before), nil
}

// parseDateTime reads an ISO datetime; an explicit offset is kept,
// otherwise the value is read in the reference zone.
func (n *Normalizer) parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.NewInvalidInputError("empty datetime")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NewInvalidInputError("invalid datetime %q", s)
}

// ParseClock validates an "HH:MM" string (24-hour clock)
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, errors.NewInvalidInputError("invalid time %q, expected HH:MM", s)
	}
	if !allDigits(hh) || !allDigits(mm) {
		return 0, 0, errors.NewInvalidInputError("invalid time %q, expected HH:MM", s)
	}
	hour, herr := strconv.Atoi(hh)
	minute, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, errors.NewInvalidInputError("invalid time %q, expected HH:MM", s)
	}
	return hour, minute, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeDuration truncates a numeric value toward zero.
// Negative, NaN and infinite values are rejected.
func NormalizeDuration(value any) (int64, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		if v < 0 {
			return 0, errors.NewInvalidInputError("negative duration %d", v)
		}
		return v, nil
	case uint:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, errors.NewInvalidInputError("invalid duration %q", v.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.NewInvalidInputError("invalid duration %q", v)
		}
		f = parsed
	default:
		return 0, errors.NewInvalidInputError("unsupported duration type %T", value)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.NewInvalidInputError("duration must be finite, got %v", f)
	}
	if f < 0 {
		return 0, errors.NewInvalidInputError("negative duration %v", f)
	}
	if f >= math.MaxInt64 {
		return 0, errors.NewInvalidInputError("duration %v overflows", f)
	}
	return int64(math.Trunc(f)), nil
}

// FormatTimeOfDay renders epoch seconds as "HH:MM" in the reference zone
func (n *Normalizer) FormatTimeOfDay(epoch int64) string {
	return time.Unix(epoch, 0).In(n.loc).Format("15:04")
}

// FormatDateTime renders epoch seconds for display in the reference zone
func (n *Normalizer) FormatDateTime(epoch int64) string {
	return time.Unix(epoch, 0).In(n.loc).Format("2006-01-02 15:04 MST")
}

// Reanchor returns the epoch for the same wall-clock time of day on the
// current date in the reference zone.
func (n *Normalizer) Reanchor(epoch int64) int64 {
	t := time.Unix(epoch, 0).In(n.loc)
	today := n.Now()
	return time.Date(today.Year(), today.Month(), today.Day(), t.Hour(), t.Minute(), t.Second(), 0, n.loc).Unix()
}

func asString(kind Kind, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.NewInvalidInputError("%s value must be a string, got %T", kind, value)
	}
}
