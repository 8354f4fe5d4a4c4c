package sched

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/approval"
	"github.com/stewardhq/steward/budget"
	"github.com/stewardhq/steward/errors"
	qtesting "github.com/stewardhq/steward/internal/testing"
	"github.com/stewardhq/steward/notify"
	"github.com/stewardhq/steward/snapshot"
)

const engineDecision = "```json\n" + `{
  "title": "Check-in",
  "body": "Two tasks need attention today.",
  "priority": "normal",
  "actions": [{"domain": "tasks", "action_type": "reschedule", "title": "Push standup", "payload": {"task_id": "t1"}}],
  "follow_ups": [{"job_type": "tasks_nudge", "delay_minutes": 240}]
}` + "\n```"

// fakeEngine scripts the decision engine for pipeline tests
type fakeEngine struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	delay    time.Duration
	panics   bool
}

func (e *fakeEngine) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.panics {
		panic("engine exploded")
	}
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return "", e.err
	}
	return e.response, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// failingChannel refuses every dispatch
type failingChannel struct{}

func (failingChannel) Send(ctx context.Context, accountID string, msg notify.Message) error {
	return assert.AnError
}

type runnerFixture struct {
	db      *sql.DB
	store   *Store
	gate    *budget.Gate
	outbox  *notify.Outbox
	actions *approval.Store
	engine  *fakeEngine
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db := qtesting.CreateTestDB(t)
	return &runnerFixture{
		db:      db,
		store:   NewStore(db),
		gate:    budget.NewGate(db),
		outbox:  notify.NewOutbox(db),
		actions: approval.NewStore(db),
		engine:  &fakeEngine{response: engineDecision},
	}
}

func (f *runnerFixture) runner(t *testing.T, channel notify.Channel, config RunnerConfig) *Runner {
	t.Helper()
	if channel == nil {
		channel = f.outbox
	}
	if config.JobTimeout == 0 {
		config = RunnerConfig{Workers: 2, BatchLimit: 10, JobTimeout: 5 * time.Second}
	}
	provider := snapshot.NewStoreProvider(f.db, nil)
	return NewRunner(f.store, f.gate, provider, f.engine, channel, f.actions, config, nil)
}

func (f *runnerFixture) seedAccount(t *testing.T, accountID string, balance, cost float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.gate.Grant(ctx, accountID, balance))
	require.NoError(t, f.gate.SetCostPerCycle(ctx, accountID, cost))
}

func TestRunner_SuccessfulCycle(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))

	before := time.Now().UTC()
	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, summary)

	// Job is done with the applied effects recorded
	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, got.Status)

	var applied appliedEffects
	require.NoError(t, json.Unmarshal(got.Result, &applied))
	assert.True(t, applied.Dispatched)
	assert.Equal(t, 6.0, applied.Debited)
	assert.Equal(t, 1, applied.ActionsProposed)
	assert.Equal(t, 1, applied.FollowUpsCreated)

	// Exactly one cycle's cost left the balance, with one ledger debit
	balance, err := f.gate.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, balance)

	entries, err := f.gate.ListLedger(ctx, "acct-1", 10)
	require.NoError(t, err)
	var debits int
	for _, e := range entries {
		if e.Amount < 0 {
			debits++
			assert.Equal(t, -6.0, e.Amount)
		}
	}
	assert.Equal(t, 1, debits)

	// The decision was dispatched
	msgs, err := f.outbox.ListByAccount(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Check-in", msgs[0].Title)
	assert.Equal(t, job.ID, msgs[0].JobID)

	// The proposed action awaits approval
	actions, err := f.actions.ListByAccount(ctx, "acct-1", approval.ActionStatusProposed)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "tasks", actions[0].Domain)
	assert.Equal(t, job.ID, actions[0].JobID)

	// The follow-up is queued 240 minutes out, pointing back at its parent
	children, err := f.store.ListJobsByParent(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "tasks_nudge", children[0].Type)
	assert.Equal(t, JobStatusQueued, children[0].Status)
	assert.WithinDuration(t, before.Add(240*time.Minute), children[0].RunAt, 10*time.Second)

	// Rerunning immediately does nothing: the follow-up is not due yet
	summary, err = f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestRunner_InsufficientBudgetSkips(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 5, 6)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))

	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1}, summary)

	assert.Zero(t, f.engine.callCount(), "engine must not be invoked on insufficient budget")

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusSkipped, got.Status)
	assert.Empty(t, got.Error, "a skip is not an error")
	assert.Contains(t, string(got.Result), "insufficient budget")

	balance, err := f.gate.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, balance)

	msgs, err := f.outbox.ListByAccount(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRunner_ZeroCostCycleDispatchesWithoutDebit(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 0)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))

	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, summary)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, got.Status)
	assert.Empty(t, got.Error)

	var applied appliedEffects
	require.NoError(t, json.Unmarshal(got.Result, &applied))
	assert.True(t, applied.Dispatched)
	assert.Zero(t, applied.Debited)

	msgs, err := f.outbox.ListByAccount(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Balance untouched and no debit entry appended
	balance, err := f.gate.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance)

	entries, err := f.gate.ListLedger(ctx, "acct-1", 10)
	require.NoError(t, err)
	for _, e := range entries {
		assert.GreaterOrEqual(t, e.Amount, 0.0, "a free cycle must not write a debit entry")
	}
}

func TestRunner_MalformedEngineOutputFails(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))
	f.engine.response = "I had a think about the account and everything looks fine to me."

	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	// Nothing dispatched, nothing spent
	balance, err := f.gate.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance)

	msgs, err := f.outbox.ListByAccount(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRunner_DispatchFailureLeavesBudgetIntact(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))

	summary, err := f.runner(t, failingChannel{}, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)

	balance, err := f.gate.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance, "no debit without a dispatch")
}

func TestRunner_PanicIsContained(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	panicking := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-2*time.Minute))
	f.engine.panics = true

	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err, "a panicking job must not kill the cycle")
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := f.store.GetJob(ctx, panicking.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "panic")
}

func TestRunner_JobTimeout(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	job := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Minute))
	f.engine.delay = 500 * time.Millisecond

	config := RunnerConfig{Workers: 2, BatchLimit: 10, JobTimeout: 50 * time.Millisecond}
	summary, err := f.runner(t, nil, config).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status, "timed-out jobs still get a terminal status")
	assert.Contains(t, got.Error, errors.ErrTimeout.Error())
}

func TestRunner_ReapsAbandonedJobs(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "acct-1", 10, 6)
	abandoned := mustCreateJob(t, f.store, "acct-1", "checkin", time.Now().Add(-time.Hour))

	// A worker claimed this job long ago and never finished
	claimed, err := f.store.Claim(ctx, abandoned.ID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := f.runner(t, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, summary, "reaped job runs in the same cycle")

	got, err := f.store.GetJob(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, got.Status)
}

func TestRunner_RunForeverStopsOnCancel(t *testing.T) {
	f := newRunnerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.runner(t, nil, RunnerConfig{}).RunForever(ctx, 10*time.Millisecond)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not stop after cancel")
	}
}
