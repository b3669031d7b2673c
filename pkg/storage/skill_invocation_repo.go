package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SkillInvocationRepo persists telemetry records for skill calls.
type SkillInvocationRepo struct {
	db *sql.DB
}

// Insert records one completed skill invocation.
func (r *SkillInvocationRepo) Insert(ctx context.Context, inv *SkillInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO skill_invocations (id, skill, action, duration_ms, outcome, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.Skill, inv.Action, inv.Duration.Milliseconds(), inv.Outcome, inv.CorrelationID, inv.CreatedAt)
	return err
}

// RecentBySkill returns the most recent invocations for a skill,
// newest first, bounded by limit.
func (r *SkillInvocationRepo) RecentBySkill(ctx context.Context, skill string, limit int) ([]*SkillInvocation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, skill, action, duration_ms, outcome, correlation_id, created_at
		FROM skill_invocations WHERE skill = $1 ORDER BY created_at DESC LIMIT $2`, skill, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SkillInvocation
	for rows.Next() {
		var inv SkillInvocation
		var durMS int64
		if err := rows.Scan(&inv.ID, &inv.Skill, &inv.Action, &durMS, &inv.Outcome, &inv.CorrelationID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, &inv)
	}
	return out, rows.Err()
}
