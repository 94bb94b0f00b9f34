package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/listing-relay/internal/domain/model"
)

// UpsertRecord performs an insert-first upsert: the insert is always attempted and a
// key collision reported by the store's uniqueness constraint selects the update path.
// Two racing writers for one key therefore produce one row and exactly one "created".
func UpsertRecord(
	ctx context.Context,
	w RecordWriter,
	params model.UpsertRecordParams,
) (model.UpsertResult, error) {
	if err := params.Key.Validate(); err != nil {
		return model.UpsertResult{}, err
	}

	rec, err := w.InsertRecord(ctx, params)
	if err == nil {
		return model.UpsertResult{Outcome: model.UpsertCreated, Record: rec}, nil
	}
	if !errors.Is(err, model.ErrRecordExists) {
		return model.UpsertResult{}, fmt.Errorf("insert record %s: %w", params.Key, err)
	}

	rec, err = w.UpdateRecord(ctx, params)
	if err != nil {
		return model.UpsertResult{}, fmt.Errorf("update record %s: %w", params.Key, err)
	}
	return model.UpsertResult{Outcome: model.UpsertUpdated, Record: rec}, nil
}
