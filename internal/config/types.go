package config

// Config is the root of the YAML/JSON config file. Unknown keys are
// rejected so typos surface on load and on hot-reload.
//
// Durations are Go duration strings ("500ms", "10s", "36h"). Secrets
// (telegram.token, sms.auth_token, ops.token) can be left out of the file
// and supplied through LIFEJOURNEY_* environment variables.
type Config struct {
	Logging    LoggingConfig    `json:"logging" envPrefix:"LOG_"`
	Storage    StorageConfig    `json:"storage" envPrefix:"STORAGE_"`
	Scheduler  SchedulerConfig  `json:"scheduler" envPrefix:"SCHEDULER_"`
	JobEngine  JobEngineConfig  `json:"job_engine"`
	Sweep      SweepConfig      `json:"sweep" envPrefix:"SWEEP_"`
	Reminders  RemindersConfig  `json:"reminders" envPrefix:"REMINDERS_"`
	Notifier   NotifierConfig   `json:"notifier"`
	SMS        SMSConfig        `json:"sms" envPrefix:"SMS_"`
	Telegram   TelegramConfig   `json:"telegram" envPrefix:"TELEGRAM_"`
	Moderation ModerationConfig `json:"moderation"`
	Ops        OpsConfig        `json:"ops" envPrefix:"OPS_"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: sqlite, path: ./lifejourney.db }
type StorageConfig struct {
	Driver      string `json:"driver" env:"DRIVER"`
	Path        string `json:"path" env:"PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger service. Timezone applies to cron
// schedules; it does not change which civil date the sweep processes.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty" env:"TIMEZONE"`
}

// JobEngineConfig controls execution of scheduled jobs.
//
// Enabled is a pointer so an omitted value can follow scheduler.enabled.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
//   - circuit_trip_failures: 5 (-1 disables)
type JobEngineConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	Workers             int    `json:"workers,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	DefaultTimeout      string `json:"default_timeout,omitempty"`
	MaxQueueDelay       string `json:"max_queue_delay,omitempty"`
	HistorySize         int    `json:"history_size,omitempty"`
	RetryMax            int    `json:"retry_max,omitempty"`
	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
}

// SweepConfig controls the overdue sweep.
//
// Schedule accepts a cron expression, "@every 1h" or a plain duration.
// The default runs shortly before midnight in scheduler.timezone.
type SweepConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Schedule   string `json:"schedule,omitempty" env:"SCHEDULE"`
	Timezone   string `json:"timezone,omitempty" env:"TIMEZONE"`
	Timeout    string `json:"timeout,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	MaxCatchUp int    `json:"max_catch_up,omitempty"`
}

// RemindersConfig controls "due today" messages.
type RemindersConfig struct {
	Enabled       bool     `json:"enabled" env:"ENABLED"`
	Schedule      string   `json:"schedule,omitempty" env:"SCHEDULE"`
	Timezone      string   `json:"timezone,omitempty"`
	QuietStart    string   `json:"quiet_start,omitempty"`
	QuietEnd      string   `json:"quiet_end,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	MaxTitleRunes int      `json:"max_title_runes,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
}

// NotifierConfig controls the outbound message pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// SMSConfig configures the SMS gateway (a Twilio-compatible REST API).
type SMSConfig struct {
	Enabled    bool   `json:"enabled" env:"ENABLED"`
	BaseURL    string `json:"base_url,omitempty" env:"BASE_URL"`
	AccountSID string `json:"account_sid,omitempty" env:"ACCOUNT_SID"`
	AuthToken  string `json:"auth_token,omitempty" env:"AUTH_TOKEN"`
	From       string `json:"from,omitempty" env:"FROM"`
	Timeout    string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Token   string `json:"token,omitempty" env:"TOKEN"`
	APIURL  string `json:"api_url,omitempty" env:"API_URL"`
	Timeout string `json:"timeout,omitempty"`
}

// ModerationConfig extends the built-in title rules.
type ModerationConfig struct {
	Disabled bool         `json:"disabled,omitempty"`
	Rules    []RuleConfig `json:"rules,omitempty"`
}

// RuleConfig is one extra moderation rule. Action is "flag" or "block".
type RuleConfig struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Pattern  string `json:"pattern"`
}

// OpsConfig controls the metrics/health/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9477").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled" env:"ENABLED"`
	Addr          string `json:"addr,omitempty" env:"ADDR"`
	Token         string `json:"token,omitempty" env:"TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// EngineEnabled resolves job_engine.enabled against scheduler.enabled.
func (c *Config) EngineEnabled() bool {
	if c.JobEngine.Enabled != nil {
		return *c.JobEngine.Enabled
	}
	return c.Scheduler.Enabled
}

// SweepEnabled defaults to true.
func (c *Config) SweepEnabled() bool {
	return c.Sweep.Enabled == nil || *c.Sweep.Enabled
}
