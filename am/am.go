package am

// Config represents the outbound scheduler configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Rates    RatesConfig    `mapstructure:"rates"`
	BatchAPI BatchAPIConfig `mapstructure:"batch_api"`
	Registry RegistryConfig `mapstructure:"registry"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Budget   BudgetConfig   `mapstructure:"budget"`
}

// DatabaseConfig configures the SQLite submission ledger
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP/WebSocket surface
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// ScheduleConfig configures the reference zone, field bounds and session defaults
type ScheduleConfig struct {
	// IANA zone every wall-clock value is read in
	Timezone string `mapstructure:"timezone"`

	MinCallDuration int `mapstructure:"min_call_duration"` // seconds
	MaxCallDuration int `mapstructure:"max_call_duration"` // seconds
	MinCallGap      int `mapstructure:"min_call_gap"`      // seconds
	MaxCallGap      int `mapstructure:"max_call_gap"`      // seconds
	MinBatchNumber  int `mapstructure:"min_batch_number"`
	MaxBatchNumber  int `mapstructure:"max_batch_number"`

	// Values a fresh session starts with
	DefaultStart       string `mapstructure:"default_start"` // "HH:MM"
	DefaultEnd         string `mapstructure:"default_end"`   // "HH:MM"
	DefaultDuration    int    `mapstructure:"default_duration"`
	DefaultGap         int    `mapstructure:"default_gap"`
	DefaultBatchNumber int    `mapstructure:"default_batch_number"`

	// Cron spec (reference zone) for re-anchoring the window to the new day
	RolloverCron string `mapstructure:"rollover_cron"`
}

// RatesConfig holds the per-minute provider rates used for cost estimates
type RatesConfig struct {
	VoicePerMinuteUSD     float64 `mapstructure:"voice_per_minute_usd"`
	TelephonyPerMinuteUSD float64 `mapstructure:"telephony_per_minute_usd"`
}

// BatchAPIConfig configures the remote batch-calling and number-counting endpoints
type BatchAPIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	CountURL          string  `mapstructure:"count_url"`
	AgentsURL         string  `mapstructure:"agents_url"` // resolves service_id when unset
	AuthToken         string  `mapstructure:"auth_token"`
	ServiceID         string  `mapstructure:"service_id"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // 0 = unpaced
	Burst             int     `mapstructure:"burst"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBaseDelayMS  int     `mapstructure:"retry_base_delay_ms"`
	// hosts on private addresses the client may still reach
	TrustedHosts []string `mapstructure:"trusted_hosts"`
}

// Aggregation scopes for the job registry
const (
	ScopePage = "page"
	ScopeAll  = "all"
)

// RegistryConfig configures job listing and cost aggregation
type RegistryConfig struct {
	PageSize int    `mapstructure:"page_size"`
	Scope    string `mapstructure:"scope"` // "page" or "all"
}

// WatcherConfig configures the window-end watcher
type WatcherConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// BudgetConfig configures spend limits and submission pacing.
// Zero disables the corresponding limit.
type BudgetConfig struct {
	DailyUSD              float64 `mapstructure:"daily_usd"`
	WeeklyUSD             float64 `mapstructure:"weekly_usd"`
	MonthlyUSD            float64 `mapstructure:"monthly_usd"`
	MaxSubmissionsPerHour int     `mapstructure:"max_submissions_per_hour"`
	DedupWindowSeconds    int     `mapstructure:"dedup_window_seconds"`
}
