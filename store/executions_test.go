package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/cronhook/core"
)

func TestExecutionLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := activeJob("lifecycle")
	require.NoError(t, s.CreateJob(ctx, job))

	started := time.Now().UTC()
	e, err := s.CreateExecution(ctx, job.ID, core.TriggerManual, started)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusRunning, e.Status)
	assert.Equal(t, core.TriggerManual, e.TriggerType)

	require.NoError(t, s.SetExecutionTarget(ctx, e.ID, core.ExecutionTypeWebhook, "https://example.com/hook"))

	status := 200
	require.NoError(t, s.CompleteExecution(ctx, e.ID, ExecutionOutcome{
		Status:          StatusSuccess,
		CompletedAt:     started.Add(1200 * time.Millisecond),
		DurationSeconds: 1.2,
		ResponseStatus:  &status,
		Output:          "ok",
	}))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, core.ExecutionTypeWebhook, got.ExecutionType)
	assert.Equal(t, "https://example.com/hook", got.Target)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationSeconds)
	assert.InDelta(t, 1.2, *got.DurationSeconds, 0.001)
	require.NotNil(t, got.ResponseStatus)
	assert.Equal(t, 200, *got.ResponseStatus)
	assert.Equal(t, "ok", got.Output)
	assert.Empty(t, got.ErrorMessage)
}

func TestCompleteExecutionFailure(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := activeJob("failing")
	require.NoError(t, s.CreateJob(ctx, job))

	e, err := s.CreateExecution(ctx, job.ID, core.TriggerScheduled, time.Now().UTC())
	require.NoError(t, err)

	status := 502
	require.NoError(t, s.CompleteExecution(ctx, e.ID, ExecutionOutcome{
		Status:         StatusFailed,
		CompletedAt:    time.Now().UTC(),
		ResponseStatus: &status,
		ErrorMessage:   "remote returned status 502",
	}))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "remote returned status 502", got.ErrorMessage)

	assert.ErrorIs(t, s.CompleteExecution(ctx, "ghost", ExecutionOutcome{
		Status:      StatusFailed,
		CompletedAt: time.Now().UTC(),
	}), ErrNotFound)
}

func TestCompleteExecutionTruncatesOutput(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := activeJob("chatty")
	require.NoError(t, s.CreateJob(ctx, job))

	e, err := s.CreateExecution(ctx, job.ID, core.TriggerScheduled, time.Now().UTC())
	require.NoError(t, err)

	long := strings.Repeat("x", core.OutputLimit+500)
	require.NoError(t, s.CompleteExecution(ctx, e.ID, ExecutionOutcome{
		Status:      StatusSuccess,
		CompletedAt: time.Now().UTC(),
		Output:      long,
	}))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, got.Output, core.OutputLimit, "output is capped at the persistence limit")
	assert.Equal(t, long[:core.OutputLimit], got.Output, "truncation keeps the head")
}

func TestListExecutionsByJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	jobA := activeJob("list-a")
	jobB := activeJob("list-b")
	require.NoError(t, s.CreateJob(ctx, jobA))
	require.NoError(t, s.CreateJob(ctx, jobB))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := s.CreateExecution(ctx, jobA.ID, core.TriggerScheduled, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := s.CreateExecution(ctx, jobB.ID, core.TriggerScheduled, base)
	require.NoError(t, err)

	execs, err := s.ListExecutionsByJob(ctx, jobA.ID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	for _, e := range execs {
		assert.Equal(t, jobA.ID, e.JobID)
	}
	// Newest first.
	assert.True(t, execs[0].StartedAt.After(execs[1].StartedAt))
	assert.True(t, execs[1].StartedAt.After(execs[2].StartedAt))

	limited, err := s.ListExecutionsByJob(ctx, jobA.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	recent, err := s.ListRecentExecutions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestFailStaleRunning(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := activeJob("stale")
	require.NoError(t, s.CreateJob(ctx, job))

	stale1, err := s.CreateExecution(ctx, job.ID, core.TriggerScheduled, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	stale2, err := s.CreateExecution(ctx, job.ID, core.TriggerManual, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, err)

	completed, err := s.CreateExecution(ctx, job.ID, core.TriggerScheduled, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.CompleteExecution(ctx, completed.ID, ExecutionOutcome{
		Status:      StatusSuccess,
		CompletedAt: time.Now().UTC(),
	}))

	n, err := s.FailStaleRunning(ctx, "interrupted by scheduler restart")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{stale1.ID, stale2.ID} {
		got, err := s.GetExecution(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "interrupted by scheduler restart", got.ErrorMessage)
		require.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.DurationSeconds)
		assert.Greater(t, *got.DurationSeconds, 0.0)
	}

	// The finished row is untouched.
	got, err := s.GetExecution(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)

	// Second sweep finds nothing.
	n, err = s.FailStaleRunning(ctx, "interrupted by scheduler restart")
	require.NoError(t, err)
	assert.Zero(t, n)
}
