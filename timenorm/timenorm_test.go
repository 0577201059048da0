package timenorm

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smtaidev/outbound/errors"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNormalizeTime_RoundTrip(t *testing.T) {
	loc := newYork(t)
	n := NewWithClock(loc, fixedClock(time.Date(2025, 6, 10, 8, 0, 0, 0, loc)))

	epoch, err := n.Normalize(KindTime, "14:30")
	require.NoError(t, err)

	assert.Equal(t, "14:30", n.FormatTimeOfDay(epoch))
	assert.Equal(t, int64(0), epoch%60, "seconds are zeroed")
	assert.Equal(t, time.Date(2025, 6, 10, 18, 30, 0, 0, time.UTC).Unix(), epoch)
}

func TestNormalizeTime_AcrossDSTChange(t *testing.T) {
	loc := newYork(t)

	tests := []struct {
		name  string
		today time.Time
		want  time.Time
	}{
		{"spring forward day", time.Date(2025, 3, 9, 12, 0, 0, 0, loc), time.Date(2025, 3, 9, 18, 30, 0, 0, time.UTC)},
		{"fall back day", time.Date(2025, 11, 2, 12, 0, 0, 0, loc), time.Date(2025, 11, 2, 19, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewWithClock(loc, fixedClock(tt.today))
			epoch, err := n.Normalize(KindTime, "14:30")
			require.NoError(t, err)
			assert.Equal(t, tt.want.Unix(), epoch)
			assert.Equal(t, "14:30", n.FormatTimeOfDay(epoch))
		})
	}
}

func TestNormalizeTime_InsideDSTGap(t *testing.T) {
	loc := newYork(t)
	n := NewWithClock(loc, fixedClock(time.Date(2025, 3, 9, 12, 0, 0, 0, loc)))

	epoch, err := n.Normalize(KindTime, "02:30")
	require.NoError(t, err)

	// 02:30 does not exist on this day; it moves forward to 03:30 EDT
	assert.Equal(t, int64(1741505400), epoch)
	assert.Equal(t, time.Date(2025, 3, 9, 3, 30, 0, 0, loc).Unix(), epoch)
	assert.Equal(t, "03:30", n.FormatTimeOfDay(epoch))

	// the hour after the gap is untouched
	epoch, err = n.Normalize(KindTime, "03:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC).Unix(), epoch)
}

func TestNormalizeTime_UsesReferenceZoneDate(t *testing.T) {
	loc := newYork(t)
	// 02:00 UTC on June 11 is still June 10 in New York
	n := NewWithClock(loc, fixedClock(time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)))

	epoch, err := n.Normalize(KindTime, "09:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, loc).Unix(), epoch)
}

func TestNormalizeTime_Invalid(t *testing.T) {
	n := NewWithClock(time.UTC, fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	for _, in := range []any{"25:00", "12:60", "1230", "", "ab:cd", "12:5", "+9:30", "-0:30", "9:+5", 1430} {
		_, err := n.Normalize(KindTime, in)
		require.Error(t, err, "input %v", in)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput), "input %v", in)
	}
}

func TestNormalizeDate(t *testing.T) {
	loc := newYork(t)
	n := New(loc)

	epoch, err := n.Normalize(KindDate, "2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, loc).Unix(), epoch)

	// A datetime input is truncated to its day in the reference zone
	epoch, err = n.Normalize(KindDate, "2025-03-10T03:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, loc).Unix(), epoch)

	_, err = n.Normalize(KindDate, "09/03/2025")
	assert.True(t, errors.IsInvalidInputError(err))
}

func TestNormalizeDateTime(t *testing.T) {
	loc := newYork(t)
	n := New(loc)

	// No offset: read in the reference zone
	epoch, err := n.Normalize(KindDateTime, "2025-07-01T09:15:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 9, 15, 0, 0, loc).Unix(), epoch)

	// Explicit offset is kept
	epoch, err = n.Normalize(KindDateTime, "2025-07-01T09:15:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 7, 15, 0, 0, time.UTC).Unix(), epoch)

	epoch, err = n.Normalize(KindDateTime, "2025-07-01 09:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 9, 15, 0, 0, loc).Unix(), epoch)

	_, err = n.Normalize(KindDateTime, "not a date")
	assert.True(t, errors.IsInvalidInputError(err))
}

func TestNormalizeDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{"int", 300, 300},
		{"int64", int64(120), 120},
		{"float truncates", 299.9, 299},
		{"numeric string", "360", 360},
		{"fractional string", " 45.7 ", 45},
		{"json number", json.Number("600"), 600},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(time.UTC).Normalize(KindDuration, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDuration_Invalid(t *testing.T) {
	for _, in := range []any{-1, int64(-5), -0.5, math.NaN(), math.Inf(1), "abc", true, nil, json.Number("x")} {
		_, err := NormalizeDuration(in)
		require.Error(t, err, "input %v", in)
		assert.True(t, errors.IsInvalidInputError(err), "input %v", in)
	}
}

func TestNormalize_UnknownKind(t *testing.T) {
	_, err := New(time.UTC).Normalize(Kind("week"), "x")
	assert.True(t, errors.IsInvalidInputError(err))

	_, err = ParseKind("week")
	assert.Error(t, err)

	k, err := ParseKind(" Duration ")
	require.NoError(t, err)
	assert.Equal(t, KindDuration, k)
}

func TestNormalizeOrZero(t *testing.T) {
	n := NewWithClock(time.UTC, fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(0), n.NormalizeOrZero(KindTime, "99:99"))
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC).Unix(), n.NormalizeOrZero(KindTime, "09:00"))
}

func TestReanchor(t *testing.T) {
	loc := newYork(t)
	yesterday := time.Date(2025, 11, 1, 17, 45, 0, 0, loc).Unix()
	n := NewWithClock(loc, fixedClock(time.Date(2025, 11, 2, 0, 0, 5, 0, loc)))

	got := n.Reanchor(yesterday)
	assert.Equal(t, time.Date(2025, 11, 2, 17, 45, 0, 0, loc).Unix(), got)
	assert.Equal(t, "17:45", n.FormatTimeOfDay(got))
	// Fall-back day: 25 hours separate the two anchors
	assert.Equal(t, int64(25*3600), got-yesterday)
}

func TestLoad(t *testing.T) {
	n, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, n.Location().String())

	_, err = Load("Nowhere/Special")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInputError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))
}
