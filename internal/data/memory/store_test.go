package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRecordRepo_ConcurrentUpsertCreatesOnce(t *testing.T) {
	records := NewStore().Records()
	key := model.RecordKey{Source: "zillow", Region: "07001", NormalizedAddress: "1 main st"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[model.UpsertOutcome]int{}
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := records.Upsert(context.Background(), model.UpsertRecordParams{
				ID: fmt.Sprintf("r%d", i), Key: key, Payload: json.RawMessage(`{}`), Now: t0,
			})
			assert.NoError(t, err)
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[model.UpsertCreated])
	assert.Equal(t, 19, outcomes[model.UpsertUpdated])
	all := records.All()
	require.Len(t, all, 1)
	assert.Equal(t, 20, all[0].SeenCount)
}

func TestRecordRepo_RejectsInvalidKey(t *testing.T) {
	_, err := NewStore().Records().Upsert(context.Background(), model.UpsertRecordParams{
		ID: "r1", Key: model.RecordKey{Source: "s", Region: "r"}, Now: t0,
	})
	require.Error(t, err)
}

func TestJobRepo_Transitions(t *testing.T) {
	jobs := NewStore().Jobs()
	ctx := context.Background()

	job, err := jobs.Create(ctx, model.CreateJobParams{ID: "j1", Source: "zillow", Region: "07001", Now: t0})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(job.Params))

	ok, err := jobs.Complete(ctx, model.JobCompletionParams{ID: "j1", Now: t0})
	require.NoError(t, err)
	assert.False(t, ok, "queued job cannot complete")

	ok, err = jobs.MarkRunning(ctx, "j1", t0)
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := jobs.RecordFailure(ctx, model.JobFailureParams{
		ID: "j1", Message: "scrape_error: boom", NextRunAt: t0.Add(time.Second), Now: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, failed.Status)
	assert.Equal(t, 1, failed.Attempt)

	due, err := jobs.ListRunnable(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = jobs.ListRunnable(ctx, t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, due)

	_, err = jobs.MarkRunning(ctx, "j1", t0)
	require.NoError(t, err)
	final, err := jobs.RecordFailure(ctx, model.JobFailureParams{
		ID: "j1", Message: "scrape_error: boom", Terminal: true, Now: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.FinishedAt)
	require.NotNil(t, final.Error)
	assert.Len(t, final.PreviousErrors, final.Attempt)

	_, err = jobs.RecordFailure(ctx, model.JobFailureParams{ID: "j1", Now: t0})
	require.ErrorIs(t, err, model.ErrJobStateConflict)

	n, err := jobs.DeleteTerminalBefore(ctx, core.DeleteTerminalJobsParams{FinishedBefore: t0.Add(time.Hour), BatchSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = jobs.GetByID(ctx, "j1")
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestJobRepo_ListAndRequeue(t *testing.T) {
	jobs := NewStore().Jobs()
	ctx := context.Background()
	for i, src := range []string{"zillow", "redfin", "zillow"} {
		_, err := jobs.Create(ctx, model.CreateJobParams{
			ID: fmt.Sprintf("j%d", i), Source: src, Region: "r", Now: t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	list, err := jobs.List(ctx, model.JobListOptions{Source: "Zillow"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "j2", list[0].ID)

	list, err = jobs.List(ctx, model.JobListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "j1", list[0].ID)

	_, err = jobs.MarkRunning(ctx, "j0", t0)
	require.NoError(t, err)
	n, err := jobs.RequeueStale(ctx, core.RequeueStaleParams{StartedBefore: t0.Add(time.Minute), Now: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err := jobs.GetByID(ctx, "j0")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestDeliveryRepo_ClaimOutcomeResolve(t *testing.T) {
	deliveries := NewStore().Deliveries()
	ctx := context.Background()

	_, err := deliveries.Create(ctx, model.CreateDeliveryParams{
		ID: "d1", SubscriptionID: "s1", EventType: model.EventPropertyNew, Payload: json.RawMessage(`{}`), Now: t0,
	})
	require.NoError(t, err)

	code := 503
	failed, err := deliveries.RecordOutcome(ctx, model.DeliveryOutcomeParams{
		ID: "d1", ResponseStatus: &code, Error: "delivery_error: HTTP 503", Now: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, failed.Status)
	assert.False(t, failed.IsResolved)

	pending, err := deliveries.List(ctx, model.DeliveryListOptions{
		Statuses: []model.DeliveryStatus{model.DeliveryStatusFailed}, Unresolved: true,
	})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	ok, err := deliveries.Claim(ctx, model.ClaimDeliveryParams{
		ID: "d1", From: []model.DeliveryStatus{model.DeliveryStatusDelivered}, Now: t0,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	resolved, err := deliveries.Resolve(ctx, "d1", t0)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.Equal(t, model.DeliveryStatusFailed, resolved.Status)

	ok, err = deliveries.Claim(ctx, model.ClaimDeliveryParams{
		ID: "d1", From: []model.DeliveryStatus{model.DeliveryStatusFailed}, Unresolved: true, Now: t0,
	})
	require.NoError(t, err)
	assert.False(t, ok, "resolved rows are not claimable when Unresolved is set")

	ok, err = deliveries.Claim(ctx, model.ClaimDeliveryParams{
		ID: "d1", From: []model.DeliveryStatus{model.DeliveryStatusFailed}, Now: t0,
	})
	require.NoError(t, err)
	assert.True(t, ok, "operator retries still claim resolved rows")

	_, err = deliveries.GetByID(ctx, "missing")
	require.ErrorIs(t, err, model.ErrDeliveryNotFound)
}

func TestDeliveryRepo_FailStalePending(t *testing.T) {
	deliveries := NewStore().Deliveries()
	ctx := context.Background()

	for id, created := range map[string]time.Time{"old": t0, "fresh": t0.Add(20 * time.Minute)} {
		_, err := deliveries.Create(ctx, model.CreateDeliveryParams{
			ID: id, SubscriptionID: "s1", EventType: model.EventPropertyNew, Payload: json.RawMessage(`{}`), Now: created,
		})
		require.NoError(t, err)
	}

	now := t0.Add(30 * time.Minute)
	n, err := deliveries.FailStalePending(ctx, core.FailStaleDeliveriesParams{
		UpdatedBefore: t0.Add(15 * time.Minute),
		Now:           now,
		Error:         "delivery_error: interrupted",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := deliveries.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, old.Status)
	require.NotNil(t, old.LastError)
	assert.Equal(t, "delivery_error: interrupted", *old.LastError)
	assert.Equal(t, now, old.UpdatedAt)

	fresh, err := deliveries.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusPending, fresh.Status)

	ok, err := deliveries.Claim(ctx, model.ClaimDeliveryParams{
		ID: "old", From: []model.DeliveryStatus{model.DeliveryStatusFailed}, Now: now,
	})
	require.NoError(t, err)
	assert.True(t, ok, "a reaped delivery can be retried")
}

func TestActivityRepo_NaturalKeyUnique(t *testing.T) {
	activities := NewStore().Activities()
	ctx := context.Background()
	params := model.CreateActivityParams{
		ID: "a1", Type: model.ActivityTypeCallSummary, NaturalKey: "CA1", Payload: json.RawMessage(`{}`), Now: t0,
	}

	_, err := activities.Create(ctx, params)
	require.NoError(t, err)
	params.ID = "a2"
	_, err = activities.Create(ctx, params)
	require.ErrorIs(t, err, model.ErrActivityExists)

	a, err := activities.Reemit(ctx, "a1", json.RawMessage(`{"v":2}`), t0)
	require.NoError(t, err)
	assert.Equal(t, 2, a.EmitCount)
}

func TestSubscriptionRepo_FindActive(t *testing.T) {
	subs := NewStore().Subscriptions()
	subs.Put(&model.WebhookSubscription{ID: "b", IsActive: true, EventTypes: []string{model.EventPropertyNew}})
	subs.Put(&model.WebhookSubscription{ID: "a", IsActive: true, EventTypes: []string{model.EventPropertyNew}})
	subs.Put(&model.WebhookSubscription{ID: "c", IsActive: false, EventTypes: []string{model.EventPropertyNew}})

	found, err := subs.FindActive(context.Background(), model.EventPropertyNew)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].ID)

	_, err = subs.GetByID(context.Background(), "zzz")
	require.ErrorIs(t, err, model.ErrSubscriptionNotFound)
}

func TestKeyGuard_ExclusiveUntilReleaseOrExpiry(t *testing.T) {
	ctx := context.Background()
	clock := core.NewFixedTimeProvider(t0)
	g := NewKeyGuard(clock)

	ok, err := g.TryAcquire(ctx, "call:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryAcquire(ctx, "call:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "call:1"))
	ok, err = g.TryAcquire(ctx, "call:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	ok, err = g.TryAcquire(ctx, "call:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be taken again")
}
