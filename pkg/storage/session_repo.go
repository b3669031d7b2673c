package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepo is the typed collection view over the sessions table,
// the partition exclusively owned by the session manager.
type SessionRepo struct {
	db *sql.DB
}

// Create inserts a new session with message_count=0.
func (r *SessionRepo) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.MessageCount = 0
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}

	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.Type, s.AgentID, s.ModelID, s.Title, s.MessageCount, s.Status, metaJSON, s.CreatedAt, s.UpdatedAt)
	return err
}

// Get fetches one active session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// UpdateTitle is idempotent: a later call overwrites an earlier one.
func (r *SessionRepo) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET title = $1, updated_at = now() WHERE id = $2`, title, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// IncrementMessageCount bumps message_count by one and touches
// updated_at; called in the same transaction as a message insert.
func (r *SessionRepo) IncrementMessageCount(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = now() WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List supports the filter set named by list_sessions: type, status,
// min_message_count, order, limit, offset. A nil Status filter
// defaults to excluding archived sessions.
func (r *SessionRepo) List(ctx context.Context, f SessionFilter) ([]*Session, error) {
	query := `SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at FROM sessions WHERE 1=1`
	var args []any
	argN := 0
	next := func() int { argN++; return argN }

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", next())
		args = append(args, *f.Status)
	} else {
		query += fmt.Sprintf(" AND status != $%d", next())
		args = append(args, SessionStatusArchived)
	}
	if f.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", next())
		args = append(args, *f.Type)
	}
	if f.MinMessageCount != nil {
		query += fmt.Sprintf(" AND message_count >= $%d", next())
		args = append(args, *f.MinMessageCount)
	}

	if f.OrderDesc {
		query += " ORDER BY created_at DESC"
	} else {
		query += " ORDER BY created_at ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", next(), next())
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListAfterID is the keyset query behind cursor pagination: active
// sessions with id strictly greater than afterID, id ascending. An
// empty afterID starts from the beginning.
func (r *SessionRepo) ListAfterID(ctx context.Context, afterID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at
		 FROM sessions WHERE status != $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		SessionStatusArchived, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Ghosts returns active sessions with message_count=0 created before
// now-ttl, matching the ghost derivation rule.
func (r *SessionRepo) Ghosts(ctx context.Context, now time.Time, ttl time.Duration) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at
		FROM sessions
		WHERE status = 'active' AND message_count = 0 AND created_at < $1`, now.Add(-ttl))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// StaleForPrune returns active sessions with updated_at < now-days,
// used by prune_old_sessions.
func (r *SessionRepo) StaleForPrune(ctx context.Context, now time.Time, days int) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at
		FROM sessions
		WHERE status = 'active' AND updated_at < $1`, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteGhosts deletes active sessions matching the ghost predicate
// and returns the count removed. Tolerates races: rows inserted after
// cutoff computation simply fall outside the WHERE clause.
func (r *SessionRepo) DeleteGhosts(ctx context.Context, now time.Time, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE message_count = 0 AND created_at < $1`, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Delete removes a session by id (cascades to its messages).
func (r *SessionRepo) Delete(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// BeginTx starts a transaction on the repository's connection pool,
// used by the session manager for the archive/prune compound writes.
func (r *SessionRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var metaJSON []byte
	if err := row.Scan(&s.ID, &s.Type, &s.AgentID, &s.ModelID, &s.Title, &s.MessageCount, &s.Status, &metaJSON, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &s, nil
}
