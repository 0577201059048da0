package budget

import (
	"fmt"
	"math"
	"sync"

	"github.com/smtaidev/outbound/am"
)

// Rates are per-minute provider prices in USD
type Rates struct {
	VoicePerMinute     float64 `json:"voice_per_minute_usd"`
	TelephonyPerMinute float64 `json:"telephony_per_minute_usd"`
}

// DefaultRates returns the stock voice and telephony prices
func DefaultRates() Rates {
	return Rates{VoicePerMinute: 0.14, TelephonyPerMinute: 0.013}
}

// RatesFromConfig reads rates from the rates config section
func RatesFromConfig(cfg am.RatesConfig) Rates {
	return Rates{VoicePerMinute: cfg.VoicePerMinuteUSD, TelephonyPerMinute: cfg.TelephonyPerMinuteUSD}
}

// PerMinute is the combined price of one call-minute
func (r Rates) PerMinute() float64 {
	return r.VoicePerMinute + r.TelephonyPerMinute
}

// Estimator prices calls from the current rates. Rates can be swapped at
// runtime (config reload) without callers holding a stale copy.
type Estimator struct {
	mu    sync.RWMutex
	rates Rates
}

// NewEstimator creates an estimator with the given rates
func NewEstimator(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

// Rates returns the current rates
func (e *Estimator) Rates() Rates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates
}

// SetRates replaces the current rates
func (e *Estimator) SetRates(r Rates) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates = r
}

// EstimateCost prices calls of durationSeconds each:
//
//	(voice + telephony) * calls * durationSeconds / 60
//
// The result is unrounded; zero calls or zero duration cost nothing.
func (e *Estimator) EstimateCost(calls int64, durationSeconds float64) float64 {
	if calls <= 0 || durationSeconds <= 0 {
		return 0
	}
	return e.Rates().PerMinute() * float64(calls) * durationSeconds / 60
}

// CompletedCallsCost is the derived cost shown for a listed job:
//
//	calls * (voice + telephony) * callDuration
//
// A missing or zero callDuration counts as 1. callDuration is used in the unit the
// listing reports it, with no seconds-to-minutes conversion.
func (e *Estimator) CompletedCallsCost(calls int64, callDuration *float64) float64 {
	d := 1.0
	if callDuration != nil && *callDuration != 0 {
		d = *callDuration
	}
	return float64(calls) * e.Rates().PerMinute() * d
}

// FormatUSD renders an amount for display, rounded to cents
func FormatUSD(amount float64) string {
	return fmt.Sprintf("$%.2f", math.Round(amount*100)/100)
}

// Summary is the "running calls" breakdown shown next to a projection
type Summary struct {
	Rates           Rates   `json:"rates"`
	CombinedRate    float64 `json:"combined_rate_per_minute_usd"`
	Calls           int64   `json:"calls"`
	DurationSeconds float64 `json:"duration_seconds"`
	TotalMinutes    float64 `json:"total_minutes"`
	TotalCost       float64 `json:"total_cost"`
	Formula         string  `json:"formula"`
}

// Summarize explains how EstimateCost arrived at its figure
func (e *Estimator) Summarize(calls int64, durationSeconds float64) Summary {
	r := e.Rates()
	s := Summary{
		Rates:           r,
		CombinedRate:    r.PerMinute(),
		Calls:           calls,
		DurationSeconds: durationSeconds,
		TotalCost:       e.EstimateCost(calls, durationSeconds),
	}
	if calls > 0 && durationSeconds > 0 {
		s.TotalMinutes = float64(calls) * durationSeconds / 60
	}
	s.Formula = fmt.Sprintf("(%.3f + %.3f) x %d calls x %.0fs / 60 = %s",
		r.VoicePerMinute, r.TelephonyPerMinute, calls, durationSeconds, FormatUSD(s.TotalCost))
	return s
}
