package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	Reset()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.BatchLimit != 20 {
		t.Errorf("default batch_limit = %d, want 20", cfg.Scheduler.BatchLimit)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("default workers = %d, want 4", cfg.Scheduler.Workers)
	}
	if cfg.Engine.Model == "" {
		t.Error("default engine model is empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steward.toml")

	content := `
[database]
path = "custom.db"

[scheduler]
workers = 8
job_timeout_seconds = 30

[engine]
model = "anthropic/claude-3.5-haiku"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Database.Path != "custom.db" {
		t.Errorf("database.path = %q, want custom.db", cfg.Database.Path)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("scheduler.workers = %d, want 8", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.JobTimeoutSeconds != 30 {
		t.Errorf("scheduler.job_timeout_seconds = %d, want 30", cfg.Scheduler.JobTimeoutSeconds)
	}
	if cfg.Engine.Model != "anthropic/claude-3.5-haiku" {
		t.Errorf("engine.model = %q", cfg.Engine.Model)
	}
	// Defaults still apply for unset keys
	if cfg.Scheduler.BatchLimit != 20 {
		t.Errorf("scheduler.batch_limit default lost: got %d", cfg.Scheduler.BatchLimit)
	}
}
