package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// CronJobRepo persists schedule definitions and last-run outcomes for
// cron jobs. The at-most-one-concurrent-instance invariant is enforced
// by the scheduler's in-memory per-job mutex, not here.
type CronJobRepo struct {
	db *sql.DB
}

// Upsert inserts or updates a cron job's static definition (schedule,
// skill, action, model, args). The POST/PATCH /cron routes do not call
// it; they update the in-memory registry through Scheduler.PutJob.
func (r *CronJobRepo) Upsert(ctx context.Context, j *CronJobRow) error {
	argsJSON, err := json.Marshal(j.Args)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (name, schedule, skill, action, model_id, args, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (name) DO UPDATE SET
			schedule = EXCLUDED.schedule,
			skill = EXCLUDED.skill,
			action = EXCLUDED.action,
			model_id = EXCLUDED.model_id,
			args = EXCLUDED.args,
			updated_at = EXCLUDED.updated_at`,
		j.Name, j.Schedule, j.Skill, j.Action, j.ModelID, argsJSON, now)
	return err
}

// Get loads one cron job by name.
func (r *CronJobRepo) Get(ctx context.Context, name string) (*CronJobRow, error) {
	return scanCronJob(r.db.QueryRowContext(ctx, `
		SELECT name, schedule, skill, action, model_id, args, next_run, last_run_at, last_run_status, created_at, updated_at
		FROM cron_jobs WHERE name = $1`, name))
}

// All returns every cron job. The scheduler loads its jobs from the
// config registry, not from this table.
func (r *CronJobRepo) All(ctx context.Context) ([]*CronJobRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, schedule, skill, action, model_id, args, next_run, last_run_at, last_run_status, created_at, updated_at
		FROM cron_jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CronJobRow
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RecordRun updates next_run and the last-run outcome after one
// execution, win or lose.
func (r *CronJobRepo) RecordRun(ctx context.Context, name string, ranAt time.Time, status string, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cron_jobs SET last_run_at = $1, last_run_status = $2, next_run = $3, updated_at = now()
		WHERE name = $4`, ranAt, status, nextRun, name)
	return err
}

// Delete removes a cron job definition.
func (r *CronJobRepo) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE name = $1`, name)
	return err
}

func scanCronJob(row rowScanner) (*CronJobRow, error) {
	var j CronJobRow
	var argsJSON []byte
	if err := row.Scan(&j.Name, &j.Schedule, &j.Skill, &j.Action, &j.ModelID, &argsJSON, &j.NextRun, &j.LastRunAt, &j.LastRunStatus, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	j.Args = map[string]any{}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &j.Args); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
