// Package config loads and represents the steward core configuration.
package config

// Config represents the core steward configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the agent job scheduler
type SchedulerConfig struct {
	// Workers bounds concurrent job pipelines within one poll cycle.
	// Also bounds concurrent outbound decision-engine calls.
	Workers int `mapstructure:"workers"`

	// BatchLimit bounds how many due jobs one poll cycle claims (back-pressure
	// against an unbounded backlog).
	BatchLimit int `mapstructure:"batch_limit"`

	// PollIntervalSeconds is the daemon's poll cadence.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// JobTimeoutSeconds bounds one job's pipeline wall-clock, dominated by the
	// decision-engine call. The reaper re-queues running jobs abandoned for
	// twice this long.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// EngineConfig configures the decision engine (OpenRouter-compatible chat API)
type EngineConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// RequestsPerMinute rate-limits outbound completion calls process-wide.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// ServerConfig configures the HTTP trigger endpoint
type ServerConfig struct {
	Port int `mapstructure:"port"`
}
