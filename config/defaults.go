package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "steward.db")

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.batch_limit", 20)
	v.SetDefault("scheduler.poll_interval_seconds", 120)
	v.SetDefault("scheduler.job_timeout_seconds", 90)

	// Engine defaults
	v.SetDefault("engine.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("engine.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("engine.temperature", 0.2)            // Deterministic
	v.SetDefault("engine.max_tokens", 1000)
	v.SetDefault("engine.requests_per_minute", 30)

	// Server defaults
	v.SetDefault("server.port", 8710)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("engine.api_key", "STEWARD_ENGINE_API_KEY")
}
