package am

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smtaidev/outbound/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be within 0-65535, got %d", c.Server.Port)
	}

	// Schedule: zone must resolve, bounds must be ordered and positive
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return errors.WithHint(
				errors.Newf("schedule.timezone %q is not a known IANA zone", c.Schedule.Timezone),
				"use a name such as America/New_York or UTC",
			)
		}
	}
	if c.Schedule.MinCallDuration <= 0 || c.Schedule.MinCallDuration > c.Schedule.MaxCallDuration {
		return errors.Newf("schedule call duration bounds invalid: min=%d max=%d",
			c.Schedule.MinCallDuration, c.Schedule.MaxCallDuration)
	}
	if c.Schedule.MinCallGap < 0 || c.Schedule.MinCallGap > c.Schedule.MaxCallGap {
		return errors.Newf("schedule call gap bounds invalid: min=%d max=%d",
			c.Schedule.MinCallGap, c.Schedule.MaxCallGap)
	}
	if c.Schedule.MinBatchNumber < 1 || c.Schedule.MinBatchNumber > c.Schedule.MaxBatchNumber {
		return errors.Newf("schedule batch number bounds invalid: min=%d max=%d",
			c.Schedule.MinBatchNumber, c.Schedule.MaxBatchNumber)
	}
	if c.Schedule.RolloverCron != "" {
		if _, err := cron.ParseStandard(c.Schedule.RolloverCron); err != nil {
			return errors.Wrapf(err, "schedule.rollover_cron %q", c.Schedule.RolloverCron)
		}
	}

	// Rates: 0 is allowed (free provider), negative is not
	if c.Rates.VoicePerMinuteUSD < 0 {
		return errors.Newf("rates.voice_per_minute_usd must be >= 0, got %f", c.Rates.VoicePerMinuteUSD)
	}
	if c.Rates.TelephonyPerMinuteUSD < 0 {
		return errors.Newf("rates.telephony_per_minute_usd must be >= 0, got %f", c.Rates.TelephonyPerMinuteUSD)
	}

	// Batch API
	if c.BatchAPI.TimeoutSeconds < 0 {
		return errors.Newf("batch_api.timeout_seconds must be >= 0, got %d", c.BatchAPI.TimeoutSeconds)
	}
	if c.BatchAPI.RequestsPerSecond < 0 {
		return errors.Newf("batch_api.requests_per_second must be >= 0, got %f", c.BatchAPI.RequestsPerSecond)
	}
	if c.BatchAPI.MaxRetries < 0 {
		return errors.Newf("batch_api.max_retries must be >= 0, got %d", c.BatchAPI.MaxRetries)
	}

	// Registry
	if c.Registry.PageSize < 0 {
		return errors.Newf("registry.page_size must be >= 0, got %d", c.Registry.PageSize)
	}
	switch c.Registry.Scope {
	case "", ScopePage, ScopeAll:
	default:
		return errors.Newf("registry.scope must be %q or %q, got %q", ScopePage, ScopeAll, c.Registry.Scope)
	}

	// Watcher: 0 disables periodic ticking, negative is invalid
	if c.Watcher.IntervalSeconds < 0 {
		return errors.Newf("watcher.interval_seconds must be >= 0, got %d", c.Watcher.IntervalSeconds)
	}

	// Budget values: 0 = no limit, negative = invalid
	if c.Budget.DailyUSD < 0 {
		return errors.Newf("budget.daily_usd must be >= 0, got %f", c.Budget.DailyUSD)
	}
	if c.Budget.WeeklyUSD < 0 {
		return errors.Newf("budget.weekly_usd must be >= 0, got %f", c.Budget.WeeklyUSD)
	}
	if c.Budget.MonthlyUSD < 0 {
		return errors.Newf("budget.monthly_usd must be >= 0, got %f", c.Budget.MonthlyUSD)
	}
	if c.Budget.MaxSubmissionsPerHour < 0 {
		return errors.Newf("budget.max_submissions_per_hour must be >= 0, got %d", c.Budget.MaxSubmissionsPerHour)
	}
	if c.Budget.DedupWindowSeconds < 0 {
		return errors.Newf("budget.dedup_window_seconds must be >= 0, got %d", c.Budget.DedupWindowSeconds)
	}

	return nil
}
