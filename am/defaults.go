package am

import (
	"github.com/spf13/viper"
)

// Directory permissions for ~/.outbound
const DefaultDirPermissions = 0750

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "outbound.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Schedule defaults
	v.SetDefault("schedule.timezone", "America/New_York")
	v.SetDefault("schedule.min_call_duration", 120)
	v.SetDefault("schedule.max_call_duration", 600)
	v.SetDefault("schedule.min_call_gap", 5)
	v.SetDefault("schedule.max_call_gap", 15)
	v.SetDefault("schedule.min_batch_number", 1)
	v.SetDefault("schedule.max_batch_number", 10)
	v.SetDefault("schedule.default_start", "09:00")
	v.SetDefault("schedule.default_end", "17:00")
	v.SetDefault("schedule.default_duration", 300)
	v.SetDefault("schedule.default_gap", 5)
	v.SetDefault("schedule.default_batch_number", 7)
	v.SetDefault("schedule.rollover_cron", "0 0 * * *") // midnight in the reference zone

	// Provider rates (USD per minute)
	v.SetDefault("rates.voice_per_minute_usd", 0.14)
	v.SetDefault("rates.telephony_per_minute_usd", 0.013)

	// Remote batch API defaults
	v.SetDefault("batch_api.base_url", "https://docs-outbound.advanceaimarketing.cloud")
	v.SetDefault("batch_api.count_url", "")
	v.SetDefault("batch_api.agents_url", "")
	v.SetDefault("batch_api.timeout_seconds", 30)
	v.SetDefault("batch_api.requests_per_second", 2.0)
	v.SetDefault("batch_api.burst", 2)
	v.SetDefault("batch_api.max_retries", 3)
	v.SetDefault("batch_api.retry_base_delay_ms", 500)
	v.SetDefault("batch_api.trusted_hosts", []string{})

	// Registry defaults
	v.SetDefault("registry.page_size", 10)
	v.SetDefault("registry.scope", ScopePage)

	// Watcher defaults
	v.SetDefault("watcher.interval_seconds", 5)

	// Budget defaults (0 = no limit)
	v.SetDefault("budget.daily_usd", 0.0)
	v.SetDefault("budget.weekly_usd", 0.0)
	v.SetDefault("budget.monthly_usd", 0.0)
	v.SetDefault("budget.max_submissions_per_hour", 20)
	v.SetDefault("budget.dedup_window_seconds", 600)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("batch_api.auth_token", "OUTBOUND_BATCH_API_AUTH_TOKEN", "OUTBOUND_TOKEN")
	_ = v.BindEnv("batch_api.service_id", "OUTBOUND_BATCH_API_SERVICE_ID")
	_ = v.BindEnv("database.path", "OUTBOUND_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "outbound.db"
	}
	return c.Database.Path
}

// GetServerPort returns the configured port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetRegistryScope returns the aggregation scope, defaulting to page
func (c *Config) GetRegistryScope() string {
	if c.Registry.Scope == "" {
		return ScopePage
	}
	return c.Registry.Scope
}
