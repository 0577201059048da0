package budget

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
)

// Sliding windows used for spend limits
const (
	DailyWindow   = 24 * time.Hour
	WeeklyWindow  = 7 * 24 * time.Hour
	MonthlyWindow = 30 * 24 * time.Hour
)

// Limits are spend ceilings in USD. Zero disables a limit.
type Limits struct {
	DailyUSD   float64 `json:"daily_usd"`
	WeeklyUSD  float64 `json:"weekly_usd"`
	MonthlyUSD float64 `json:"monthly_usd"`
}

// LimitsFromConfig reads limits from the budget config section
func LimitsFromConfig(cfg am.BudgetConfig) Limits {
	return Limits{DailyUSD: cfg.DailyUSD, WeeklyUSD: cfg.WeeklyUSD, MonthlyUSD: cfg.MonthlyUSD}
}

// Status represents current budget state
type Status struct {
	DailySpend         float64 `json:"daily_spend"`
	WeeklySpend        float64 `json:"weekly_spend"`
	MonthlySpend       float64 `json:"monthly_spend"`
	DailyRemaining     float64 `json:"daily_remaining"`
	WeeklyRemaining    float64 `json:"weekly_remaining"`
	MonthlyRemaining   float64 `json:"monthly_remaining"`
	DailySubmissions   int     `json:"daily_submissions"`
	WeeklySubmissions  int     `json:"weekly_submissions"`
	MonthlySubmissions int     `json:"monthly_submissions"`
}

// Tracker tracks and enforces spend limits
type Tracker struct {
	store  *Store
	limits Limits
	mu     sync.RWMutex // Protects limits from concurrent read/write
	now    func() time.Time
}

// NewTracker creates a new budget tracker
func NewTracker(db *sql.DB, limits Limits) *Tracker {
	return NewTrackerWithClock(db, limits, time.Now)
}

// NewTrackerWithClock creates a tracker with an injectable clock (for testing)
func NewTrackerWithClock(db *sql.DB, limits Limits, now func() time.Time) *Tracker {
	return &Tracker{store: NewStore(db), limits: limits, now: now}
}

// GetStatus returns current spend in each sliding window
func (bt *Tracker) GetStatus(ctx context.Context) (*Status, error) {
	now := bt.now()

	dailySpend, dailyOps, err := bt.store.SpendSince(ctx, now.Add(-DailyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "daily spend")
	}
	weeklySpend, weeklyOps, err := bt.store.SpendSince(ctx, now.Add(-WeeklyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "weekly spend")
	}
	monthlySpend, monthlyOps, err := bt.store.SpendSince(ctx, now.Add(-MonthlyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "monthly spend")
	}

	limits := bt.Limits()

	return &Status{
		DailySpend:         dailySpend,
		WeeklySpend:        weeklySpend,
		MonthlySpend:       monthlySpend,
		DailyRemaining:     remaining(limits.DailyUSD, dailySpend),
		WeeklyRemaining:    remaining(limits.WeeklyUSD, weeklySpend),
		MonthlyRemaining:   remaining(limits.MonthlyUSD, monthlySpend),
		DailySubmissions:   dailyOps,
		WeeklySubmissions:  weeklyOps,
		MonthlySubmissions: monthlyOps,
	}, nil
}

// remaining reports headroom; a disabled limit reports -1
func remaining(limit, spend float64) float64 {
	if limit <= 0 {
		return -1
	}
	return limit - spend
}

// CheckBudget returns an error wrapping errors.ErrBudgetExceeded if
// estimatedCostUSD would push any enabled window over its limit.
func (bt *Tracker) CheckBudget(ctx context.Context, estimatedCostUSD float64) error {
	limits := bt.Limits()
	if limits.DailyUSD <= 0 && limits.WeeklyUSD <= 0 && limits.MonthlyUSD <= 0 {
		return nil
	}

	status, err := bt.GetStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	checks := []struct {
		name  string
		spend float64
		limit float64
	}{
		{"daily", status.DailySpend, limits.DailyUSD},
		{"weekly", status.WeeklySpend, limits.WeeklyUSD},
		{"monthly", status.MonthlySpend, limits.MonthlyUSD},
	}
	for _, c := range checks {
		if c.limit > 0 && c.spend+estimatedCostUSD > c.limit {
			err := errors.Wrapf(errors.ErrBudgetExceeded,
				"%s budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
				c.name, c.spend, estimatedCostUSD, c.limit)
			err = errors.WithDetail(err, fmt.Sprintf("Remaining %s budget: $%.2f", c.name, c.limit-c.spend))
			return errors.WithHint(err, "shorten the window, reduce the batch size, or raise budget."+c.name+"_usd")
		}
	}
	return nil
}

// Limits returns the current spend limits
func (bt *Tracker) Limits() Limits {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.limits
}

// UpdateLimits replaces the spend limits at runtime (config reload)
func (bt *Tracker) UpdateLimits(limits Limits) error {
	if limits.DailyUSD < 0 || limits.WeeklyUSD < 0 || limits.MonthlyUSD < 0 {
		return errors.Newf("budget limits cannot be negative: %+v", limits)
	}
	bt.mu.Lock()
	bt.limits = limits
	bt.mu.Unlock()
	return nil
}
