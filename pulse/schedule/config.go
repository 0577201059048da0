// Package schedule holds the operator's daily calling window and the pure
// capacity math derived from it.
package schedule

import (
	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
)

// Config is one operator's calling window for today.
// Times are epoch seconds; durations are seconds.
type Config struct {
	CallStartTime int64 `json:"call_start_time"`
	CallEndTime   int64 `json:"call_end_time"`
	CallDuration  int64 `json:"call_duration"`
	CallGap       int64 `json:"call_gap"`
	BatchNumber   int   `json:"batch_number"`
}

// Bounds are the inclusive ranges accepted for each tunable field
type Bounds struct {
	MinCallDuration int64
	MaxCallDuration int64
	MinCallGap      int64
	MaxCallGap      int64
	MinBatchNumber  int
	MaxBatchNumber  int
}

// DefaultBounds returns the stock slider ranges
func DefaultBounds() Bounds {
	return Bounds{
		MinCallDuration: 120,
		MaxCallDuration: 600,
		MinCallGap:      5,
		MaxCallGap:      15,
		MinBatchNumber:  1,
		MaxBatchNumber:  10,
	}
}

// BoundsFromConfig reads bounds from the schedule config section
func BoundsFromConfig(cfg am.ScheduleConfig) Bounds {
	return Bounds{
		MinCallDuration: int64(cfg.MinCallDuration),
		MaxCallDuration: int64(cfg.MaxCallDuration),
		MinCallGap:      int64(cfg.MinCallGap),
		MaxCallGap:      int64(cfg.MaxCallGap),
		MinBatchNumber:  cfg.MinBatchNumber,
		MaxBatchNumber:  cfg.MaxBatchNumber,
	}
}

// CheckDuration rejects a call duration outside its bounds
func (b Bounds) CheckDuration(d int64) error {
	if d <= 0 || d < b.MinCallDuration || d > b.MaxCallDuration {
		return errors.NewValidationError("call_duration %d outside [%d, %d]", d, b.MinCallDuration, b.MaxCallDuration)
	}
	return nil
}

// CheckGap rejects a call gap outside its bounds
func (b Bounds) CheckGap(g int64) error {
	if g < 0 || g < b.MinCallGap || g > b.MaxCallGap {
		return errors.NewValidationError("call_gap %d outside [%d, %d]", g, b.MinCallGap, b.MaxCallGap)
	}
	return nil
}

// CheckBatchNumber rejects a batch size outside its bounds
func (b Bounds) CheckBatchNumber(n int) error {
	if n < 1 || n < b.MinBatchNumber || n > b.MaxBatchNumber {
		return errors.NewValidationError("batch_number %d outside [%d, %d]", n, b.MinBatchNumber, b.MaxBatchNumber)
	}
	return nil
}

// Validate returns the first violated invariant as a validation error
func (c Config) Validate(b Bounds) error {
	if c.CallStartTime >= c.CallEndTime {
		return errors.WithHint(
			errors.NewValidationError("call_start_time %d must be before call_end_time %d", c.CallStartTime, c.CallEndTime),
			"pick an end time later than the start time",
		)
	}
	if err := b.CheckDuration(c.CallDuration); err != nil {
		return err
	}
	if err := b.CheckGap(c.CallGap); err != nil {
		return err
	}
	return b.CheckBatchNumber(c.BatchNumber)
}

// WindowLength is the calling window in seconds (may be <= 0 for an invalid window)
func (c Config) WindowLength() int64 {
	return c.CallEndTime - c.CallStartTime
}

// SlotSeconds is the time one call occupies including the gap after it
func (c Config) SlotSeconds() int64 {
	return c.CallDuration + c.CallGap
}

// TotalCalls is the window's capacity
func (c Config) TotalCalls() int64 {
	return CalculateTotalCalls(c.CallStartTime, c.CallEndTime, c.CallDuration, c.CallGap, c.BatchNumber)
}
