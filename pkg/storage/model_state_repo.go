package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ModelStateRepo persists the LLM Gateway's sliding-window rate-limit
// counters, the one piece of Model state the gateway needs to survive
// a restart. The gateway keeps a hot in-memory cache in front of this
// and writes through on every accepted call.
type ModelStateRepo struct {
	db *sql.DB
}

// Get loads the persisted rate state for a model, or a zero-value row
// if none exists yet.
func (r *ModelStateRepo) Get(ctx context.Context, modelID string) (*ModelRateRow, error) {
	var row ModelRateRow
	var bucketsJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT model_id, minute_bucket, minute_request_count, day_token_buckets, updated_at
		FROM model_rate_state WHERE model_id = $1`, modelID).
		Scan(&row.ModelID, &row.MinuteBucket, &row.MinuteRequestCount, &bucketsJSON, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &ModelRateRow{ModelID: modelID, DayTokenBuckets: map[string]int{}}, nil
	}
	if err != nil {
		return nil, err
	}
	row.DayTokenBuckets = map[string]int{}
	if len(bucketsJSON) > 0 {
		if err := json.Unmarshal(bucketsJSON, &row.DayTokenBuckets); err != nil {
			return nil, err
		}
	}
	return &row, nil
}

// Upsert persists the current rate state for a model.
func (r *ModelStateRepo) Upsert(ctx context.Context, row *ModelRateRow) error {
	bucketsJSON, err := json.Marshal(row.DayTokenBuckets)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO model_rate_state (model_id, minute_bucket, minute_request_count, day_token_buckets, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_id) DO UPDATE SET
			minute_bucket = EXCLUDED.minute_bucket,
			minute_request_count = EXCLUDED.minute_request_count,
			day_token_buckets = EXCLUDED.day_token_buckets,
			updated_at = EXCLUDED.updated_at`,
		row.ModelID, row.MinuteBucket, row.MinuteRequestCount, bucketsJSON, row.UpdatedAt)
	return err
}
