package commands

import (
	"database/sql"
	"time"

	"github.com/stewardhq/steward/ai"
	"github.com/stewardhq/steward/approval"
	"github.com/stewardhq/steward/budget"
	"github.com/stewardhq/steward/config"
	"github.com/stewardhq/steward/internal/util"
	"github.com/stewardhq/steward/logger"
	"github.com/stewardhq/steward/notify"
	"github.com/stewardhq/steward/sched"
	"github.com/stewardhq/steward/snapshot"
)

// buildRunner wires the full decision pipeline from configuration
func buildRunner(cfg *config.Config, database *sql.DB) *sched.Runner {
	engine := ai.NewClient(ai.Config{
		APIKey:            cfg.Engine.APIKey,
		BaseURL:           cfg.Engine.BaseURL,
		Model:             cfg.Engine.Model,
		Temperature:       util.Ptr(cfg.Engine.Temperature),
		MaxTokens:         util.Ptr(cfg.Engine.MaxTokens),
		RequestsPerMinute: cfg.Engine.RequestsPerMinute,
		Logger:            logger.Logger,
	})

	runnerConfig := sched.RunnerConfig{
		Workers:    cfg.Scheduler.Workers,
		BatchLimit: cfg.Scheduler.BatchLimit,
		JobTimeout: time.Duration(cfg.Scheduler.JobTimeoutSeconds) * time.Second,
	}

	return sched.NewRunner(
		sched.NewStore(database),
		budget.NewGate(database),
		snapshot.NewStoreProvider(database, logger.Logger),
		engine,
		notify.NewOutbox(database),
		approval.NewStore(database),
		runnerConfig,
		logger.Logger,
	)
}
