package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CircuitStateRepo persists circuit breaker state for any (skill or
// model) target, shared by the LLM Gateway and the Skill Framework.
type CircuitStateRepo struct {
	db *sql.DB
}

// Get loads the breaker row for a target, defaulting to closed with a
// zero failure count if none exists yet.
func (r *CircuitStateRepo) Get(ctx context.Context, target string) (*CircuitBreakerRow, error) {
	var row CircuitBreakerRow
	err := r.db.QueryRowContext(ctx, `
		SELECT target, state, failure_count, last_failure_at, opened_at, updated_at
		FROM circuit_breaker_state WHERE target = $1`, target).
		Scan(&row.Target, &row.State, &row.FailureCount, &row.LastFailureAt, &row.OpenedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &CircuitBreakerRow{Target: target, State: CircuitClosed}, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert persists the current breaker state for a target.
func (r *CircuitStateRepo) Upsert(ctx context.Context, row *CircuitBreakerRow) error {
	row.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_state (target, state, failure_count, last_failure_at, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (target) DO UPDATE SET
			state = EXCLUDED.state,
			failure_count = EXCLUDED.failure_count,
			last_failure_at = EXCLUDED.last_failure_at,
			opened_at = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at`,
		row.Target, row.State, row.FailureCount, row.LastFailureAt, row.OpenedAt, row.UpdatedAt)
	return err
}

// All returns every persisted breaker row, used to rehydrate the
// in-memory breaker cache on startup.
func (r *CircuitStateRepo) All(ctx context.Context) ([]*CircuitBreakerRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT target, state, failure_count, last_failure_at, opened_at, updated_at FROM circuit_breaker_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CircuitBreakerRow
	for rows.Next() {
		var row CircuitBreakerRow
		if err := rows.Scan(&row.Target, &row.State, &row.FailureCount, &row.LastFailureAt, &row.OpenedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}
