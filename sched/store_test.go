package sched

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/errors"
	qtesting "github.com/stewardhq/steward/internal/testing"
)

func mustCreateJob(t *testing.T, store *Store, accountID, jobType string, runAt time.Time) *Job {
	t.Helper()
	job, err := NewJob(accountID, jobType, runAt, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestStore_CreateAndGet(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job, err := NewJob("acct-1", "checkin", time.Now(), json.RawMessage(`{"mood":"curious"}`))
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "checkin", got.Type)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"mood":"curious"}`, string(got.Context))
	assert.Nil(t, got.ClaimedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestStore_GetJob_NotFound(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStore_FetchDueJobs(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	late := mustCreateJob(t, store, "acct-1", "checkin", now.Add(-2*time.Hour))
	later := mustCreateJob(t, store, "acct-1", "tasks_nudge", now.Add(-1*time.Hour))
	mustCreateJob(t, store, "acct-1", "future", now.Add(1*time.Hour))

	t.Run("returns only due jobs, oldest first", func(t *testing.T) {
		jobs, err := store.FetchDueJobs(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, late.ID, jobs[0].ID)
		assert.Equal(t, later.ID, jobs[1].ID)
	})

	t.Run("respects the limit", func(t *testing.T) {
		jobs, err := store.FetchDueJobs(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, late.ID, jobs[0].ID)
	})

	t.Run("excludes non-queued jobs", func(t *testing.T) {
		claimed, err := store.Claim(ctx, late.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		jobs, err := store.FetchDueJobs(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, later.ID, jobs[0].ID)
	})
}

func TestStore_Claim(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("first claim wins, second loses", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)

		claimed, err := store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed, "second claim must lose")

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusRunning, got.Status)
		require.NotNil(t, got.ClaimedAt)
	})

	t.Run("concurrent claims yield exactly one winner", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)

		const contenders = 8
		results := make(chan bool, contenders)
		var wg sync.WaitGroup
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := store.Claim(ctx, job.ID, time.Now().UTC())
				assert.NoError(t, err)
				results <- claimed
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for claimed := range results {
			if claimed {
				wins++
			}
		}
		assert.Equal(t, 1, wins, "exactly one contender may claim the job")
	})

	t.Run("cannot claim a terminal job", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)

		claimed, err := store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.Finalize(ctx, job.ID, JobStatusDone, nil, ""))

		claimed, err = store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestStore_Finalize(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("records result and completed_at", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)
		claimed, err := store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		result := json.RawMessage(`{"dispatched":true}`)
		require.NoError(t, store.Finalize(ctx, job.ID, JobStatusDone, result, ""))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusDone, got.Status)
		assert.JSONEq(t, `{"dispatched":true}`, string(got.Result))
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("idempotent for the same terminal status", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)
		claimed, err := store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		require.NoError(t, store.Finalize(ctx, job.ID, JobStatusFailed, nil, "boom"))
		require.NoError(t, store.Finalize(ctx, job.ID, JobStatusFailed, nil, "boom"))
	})

	t.Run("terminal statuses are monotonic", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)
		claimed, err := store.Claim(ctx, job.ID, now)
		require.NoError(t, err)
		require.True(t, claimed)

		require.NoError(t, store.Finalize(ctx, job.ID, JobStatusDone, nil, ""))

		err = store.Finalize(ctx, job.ID, JobStatusFailed, nil, "too late")
		require.Error(t, err)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusDone, got.Status)
	})

	t.Run("rejects queued jobs", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)
		err := store.Finalize(ctx, job.ID, JobStatusDone, nil, "")
		require.Error(t, err)
	})

	t.Run("rejects non-terminal target status", func(t *testing.T) {
		job := mustCreateJob(t, store, "acct-1", "checkin", now)
		err := store.Finalize(ctx, job.ID, JobStatusRunning, nil, "")
		require.Error(t, err)
	})
}

func TestStore_ReapAbandoned(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := mustCreateJob(t, store, "acct-1", "checkin", now.Add(-3*time.Hour))
	fresh := mustCreateJob(t, store, "acct-1", "checkin", now)

	// Backdate the stale claim past the cutoff
	claimed, err := store.Claim(ctx, stale.ID, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.Claim(ctx, fresh.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	reaped, err := store.ReapAbandoned(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Nil(t, got.ClaimedAt)

	got, err = store.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status, "recently claimed jobs stay running")
}

func TestStore_ListJobsByParent(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	parent := mustCreateJob(t, store, "acct-1", "checkin", time.Now())

	followUp, err := NewFollowUpJob(parent, "tasks_nudge", 4*time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, followUp))

	mustCreateJob(t, store, "acct-1", "unrelated", time.Now())

	children, err := store.ListJobsByParent(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, followUp.ID, children[0].ID)
	assert.Equal(t, parent.ID, children[0].ParentJobID())
}

func TestNewFollowUpJob(t *testing.T) {
	parent, err := NewJob("acct-1", "checkin", time.Now(), nil)
	require.NoError(t, err)

	t.Run("schedules delay from now", func(t *testing.T) {
		before := time.Now().UTC()
		job, err := NewFollowUpJob(parent, "tasks_nudge", 4*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, "acct-1", job.AccountID)
		assert.Equal(t, JobStatusQueued, job.Status)
		assert.WithinDuration(t, before.Add(4*time.Hour), job.RunAt, 2*time.Second)
		assert.Equal(t, parent.ID, job.ParentJobID())
	})

	t.Run("rejects non-positive delay", func(t *testing.T) {
		_, err := NewFollowUpJob(parent, "tasks_nudge", 0)
		require.Error(t, err)
	})
}
