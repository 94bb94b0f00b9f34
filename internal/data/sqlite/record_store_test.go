package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/internal/domain/model"
)

func openTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestRecordStore_UpsertCreatesThenUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := model.RecordKey{Source: "zillow", Region: "07001", NormalizedAddress: "12 oak st"}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := store.Upsert(ctx, model.UpsertRecordParams{
		ID: "r1", Key: key, Payload: json.RawMessage(`{"price":1}`), JobID: "j1", Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.UpsertCreated, first.Outcome)
	assert.Equal(t, 1, first.Record.SeenCount)
	require.NotNil(t, first.Record.LastJobID)
	assert.Equal(t, "j1", *first.Record.LastJobID)

	second, err := store.Upsert(ctx, model.UpsertRecordParams{
		ID: "r2", Key: key, Payload: json.RawMessage(`{"price":2}`), Now: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, model.UpsertUpdated, second.Outcome)
	assert.Equal(t, "r1", second.Record.ID)
	assert.Equal(t, 2, second.Record.SeenCount)
	assert.JSONEq(t, `{"price":2}`, string(second.Record.Payload))
	assert.Equal(t, "j1", *second.Record.LastJobID, "empty job id keeps the previous one")
	assert.True(t, second.Record.FirstSeenAt.Equal(now))
	assert.True(t, second.Record.LastSeenAt.Equal(now.Add(time.Hour)))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordStore_InsertDuplicateReturnsErrRecordExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	params := model.UpsertRecordParams{
		ID:      "r1",
		Key:     model.RecordKey{Source: "s", Region: "r", NormalizedAddress: "a"},
		Payload: json.RawMessage(`{}`),
		Now:     time.Now(),
	}
	_, err := store.InsertRecord(ctx, params)
	require.NoError(t, err)

	params.ID = "r2"
	_, err = store.InsertRecord(ctx, params)
	require.ErrorIs(t, err, model.ErrRecordExists)
}

func TestRecordStore_ConcurrentUpsertSingleCreate(t *testing.T) {
	store := openTestStore(t)
	key := model.RecordKey{Source: "s", Region: "r", NormalizedAddress: "race"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Upsert(context.Background(), model.UpsertRecordParams{
				ID: "id-" + string(rune('a'+i)), Key: key, Payload: json.RawMessage(`{}`), Now: time.Now(),
			})
			if !assert.NoError(t, err) {
				return
			}
			if res.Outcome == model.UpsertCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	rec, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 8, rec.SeenCount)
}

func TestRecordStore_GetMissing(t *testing.T) {
	store := openTestStore(t)
	rec, err := store.Get(context.Background(), model.RecordKey{Source: "s", Region: "r", NormalizedAddress: "x"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}
