package sched

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stewardhq/steward/approval"
	"github.com/stewardhq/steward/budget"
	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/notify"
	"github.com/stewardhq/steward/snapshot"
)

// finalizeTimeout bounds the terminal status write. Finalization runs on a
// fresh context so a job that blew its own deadline still gets recorded.
const finalizeTimeout = 5 * time.Second

// Engine produces free-text decisions from prompts
type Engine interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ActionSink records agent-proposed actions for human review
type ActionSink interface {
	Create(ctx context.Context, accountID, jobID, domain, actionType, title string, payload json.RawMessage) (*approval.Action, error)
}

// RunnerConfig holds scheduler loop tuning
type RunnerConfig struct {
	Workers    int           // concurrent job pipelines per cycle
	BatchLimit int           // max due jobs claimed per cycle
	JobTimeout time.Duration // wall-clock bound on one job's pipeline
}

// DefaultRunnerConfig returns sensible defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:    4,
		BatchLimit: 20,
		JobTimeout: 90 * time.Second,
	}
}

// Summary reports one poll cycle's outcome
type Summary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Runner drives agent jobs through the decision pipeline: budget gate,
// snapshot, engine call, parse, effects, finalize.
type Runner struct {
	store     *Store
	gate      *budget.Gate
	snapshots snapshot.Provider
	engine    Engine
	channel   notify.Channel
	actions   ActionSink
	config    RunnerConfig
	logger    *zap.SugaredLogger
}

// NewRunner assembles a scheduler runner
func NewRunner(store *Store, gate *budget.Gate, snapshots snapshot.Provider, engine Engine, channel notify.Channel, actions ActionSink, config RunnerConfig, logger *zap.SugaredLogger) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultRunnerConfig().Workers
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = DefaultRunnerConfig().BatchLimit
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultRunnerConfig().JobTimeout
	}

	return &Runner{
		store:     store,
		gate:      gate,
		snapshots: snapshots,
		engine:    engine,
		channel:   channel,
		actions:   actions,
		config:    config,
		logger:    logger,
	}
}

// RunOnce executes one poll cycle: recover abandoned jobs, fetch due jobs,
// claim and run each inside the failure boundary. Idempotent and safe to
// invoke concurrently: the claim protocol guarantees each job runs once.
// Per-job failures land in the summary, never in the returned error.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	now := time.Now().UTC()

	reaped, err := r.store.ReapAbandoned(ctx, now.Add(-2*r.config.JobTimeout))
	if err != nil {
		return Summary{}, errors.Wrap(err, "reap abandoned jobs")
	}
	if reaped > 0 {
		r.logger.Warnw("Recovered abandoned jobs", "count", reaped)
	}

	jobs, err := r.store.FetchDueJobs(ctx, now, r.config.BatchLimit)
	if err != nil {
		return Summary{}, errors.Wrap(err, "fetch due jobs")
	}
	if len(jobs) == 0 {
		return Summary{}, nil
	}

	r.logger.Infow("Poll cycle starting", "due_jobs", len(jobs), "workers", r.config.Workers)

	var mu sync.Mutex
	var summary Summary

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			claimed, err := r.store.Claim(gctx, job.ID, time.Now().UTC())
			if err != nil {
				r.logger.Errorw("Claim failed", "job_id", job.ID, "error", err)
				return nil
			}
			if !claimed {
				// Another worker got there first. Not ours, not counted.
				return nil
			}

			status := r.runJob(gctx, job)

			mu.Lock()
			switch status {
			case JobStatusDone:
				summary.Processed++
			case JobStatusSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	// Workers contain their own failures; Wait only propagates ctx errors
	if err := g.Wait(); err != nil {
		return summary, errors.Wrap(err, "poll cycle interrupted")
	}

	r.logger.Infow("Poll cycle complete",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, nil
}

// runJob executes one claimed job inside the failure boundary and finalizes
// it. Panics and errors are converted to a failed terminal status; the loop
// itself never dies with the job.
func (r *Runner) runJob(ctx context.Context, job *Job) (status JobStatus) {
	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("Job panicked", "job_id", job.ID, "job_type", job.Type, "panic", p)
			r.finalize(job, JobStatusFailed, nil, errors.Newf("panic: %v", p).Error())
			status = JobStatusFailed
		}
	}()

	start := time.Now()
	status, result, errMsg := r.pipeline(jobCtx, job)
	if status == JobStatusFailed && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		errMsg = errors.Wrapf(errors.ErrTimeout, "job exceeded %s: %s", r.config.JobTimeout, errMsg).Error()
	}
	r.finalize(job, status, result, errMsg)

	r.logger.Infow("Job finished",
		"job_id", job.ID,
		"job_type", job.Type,
		"account_id", job.AccountID,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return status
}

// pipeline runs the decision cycle and returns the terminal status to record
func (r *Runner) pipeline(ctx context.Context, job *Job) (JobStatus, json.RawMessage, string) {
	verdict, err := r.gate.CheckAndReserve(ctx, job.AccountID)
	if err != nil {
		return JobStatusFailed, nil, errors.Wrap(err, "budget check").Error()
	}
	if !verdict.OK {
		// Skips are outcomes, not errors. The engine is never invoked.
		result, _ := json.Marshal(map[string]any{
			"skip_reason": verdict.Reason,
			"balance":     verdict.Balance,
			"cost":        verdict.Cost,
		})
		r.logger.Infow("Job skipped",
			"job_id", job.ID,
			"account_id", job.AccountID,
			"reason", verdict.Reason,
			"balance", verdict.Balance,
			"cost", verdict.Cost,
		)
		return JobStatusSkipped, result, ""
	}

	snap, err := r.snapshots.GetSnapshot(ctx, job.AccountID)
	if err != nil {
		return JobStatusFailed, nil, errors.Wrap(err, "snapshot").Error()
	}

	userPrompt, err := buildUserPrompt(job, snap)
	if err != nil {
		return JobStatusFailed, nil, errors.Wrap(err, "build prompt").Error()
	}

	raw, err := r.engine.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return JobStatusFailed, nil, errors.Wrap(err, "engine").Error()
	}

	d, err := parseDecision(raw)
	if err != nil {
		return JobStatusFailed, nil, err.Error()
	}

	result, err := r.applyEffects(ctx, job, d, verdict.Cost)
	if err != nil {
		return JobStatusFailed, nil, err.Error()
	}

	return JobStatusDone, result, ""
}

// finalize records the terminal status on a fresh context
func (r *Runner) finalize(job *Job, status JobStatus, result json.RawMessage, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := r.store.Finalize(ctx, job.ID, status, result, errMsg); err != nil {
		r.logger.Errorw("Failed to finalize job",
			"job_id", job.ID,
			"status", status,
			"error", err,
		)
	}
}

// RunForever polls at the configured interval until the context is cancelled.
// The reaper sweep runs as part of every cycle.
func (r *Runner) RunForever(ctx context.Context, interval time.Duration) error {
	r.logger.Infow("Scheduler started",
		"poll_interval", interval,
		"workers", r.config.Workers,
		"batch_limit", r.config.BatchLimit,
		"job_timeout", r.config.JobTimeout,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			// A broken cycle (database unavailable, etc) should not kill the
			// daemon; the next tick retries.
			r.logger.Errorw("Poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Infow("Scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}

	r.logger.Infow("Scheduler stopping", "reason", ctx.Err())
	return nil
}
