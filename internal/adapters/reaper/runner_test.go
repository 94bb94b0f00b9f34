package reaper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/model"
)

func TestNewRunner_RequiresJobs(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_RequeuesStaleJobOnStart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	started := time.Now().UTC().Add(-2 * time.Hour)

	_, err := store.Jobs().Create(ctx, model.CreateJobParams{
		ID: "stale", Source: "zillow", Region: "07001", Params: json.RawMessage(`{}`), Now: started,
	})
	require.NoError(t, err)
	ok, err := store.Jobs().MarkRunning(ctx, "stale", started)
	require.NoError(t, err)
	require.True(t, ok)

	runner, err := NewRunner(RunnerOptions{
		Jobs: store.Jobs(),
		Config: config.ReaperConfig{
			Interval:          time.Second,
			StaleRunningAfter: 30 * time.Minute,
			BatchSize:         100,
		},
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()

	require.Eventually(t, func() bool {
		job, getErr := store.Jobs().GetByID(ctx, "stale")
		return getErr == nil && job.Status == model.JobStatusQueued
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	job, err := store.Jobs().GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, job.StartedAt)
}
