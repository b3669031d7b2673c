package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ArchiveRepo implements the all-or-nothing archive operation: copy a
// session and its messages into the archive tables with an idempotent
// insert, then delete the originals, all inside one transaction.
type ArchiveRepo struct {
	db *sql.DB
}

// Archive moves session id into the archive partition. Returns false
// if the session did not exist in the active tables (the caller
// treats that as a no-op, not an error, matching archive_session's
// bool-of-existence contract).
func (r *ArchiveRepo) Archive(ctx context.Context, sessions *SessionRepo, messages *MessageRepo, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var sess Session
	var metaJSON []byte
	err = tx.QueryRowContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at
		FROM sessions WHERE id = $1 FOR UPDATE`, id).
		Scan(&sess.ID, &sess.Type, &sess.AgentID, &sess.ModelID, &sess.Title, &sess.MessageCount, &sess.Status, &metaJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	msgRows, err := tx.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, agent_id, model_id, token_usage, created_at
		FROM messages WHERE session_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return false, err
	}
	var msgs []*Message
	for msgRows.Next() {
		m, err := scanMessage(msgRows)
		if err != nil {
			msgRows.Close()
			return false, err
		}
		msgs = append(msgs, m)
	}
	if err := msgRows.Err(); err != nil {
		msgRows.Close()
		return false, err
	}
	msgRows.Close()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archived_sessions (id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'archived', $7, $8, $9, now())
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.Type, sess.AgentID, sess.ModelID, sess.Title, sess.MessageCount, metaJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert archived_sessions: %w", err)
	}

	for _, m := range msgs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO archived_messages (id, session_id, seq, role, content, agent_id, model_id, token_usage, created_at, archived_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.SessionID, m.Seq, m.Role, m.Content, m.AgentID, m.ModelID, m.TokenUsage, m.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("insert archived_messages: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	return true, tx.Commit()
}

// Get fetches one archived session.
func (r *ArchiveRepo) Get(ctx context.Context, id string) (*ArchivedSession, error) {
	var a ArchivedSession
	var metaJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at, archived_at
		FROM archived_sessions WHERE id = $1`, id).
		Scan(&a.ID, &a.Type, &a.AgentID, &a.ModelID, &a.Title, &a.MessageCount, &a.Status, &metaJSON, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// ListSessions returns a page of archived sessions, most recently
// archived first, for GET /sessions/archive.
func (r *ArchiveRepo) ListSessions(ctx context.Context, limit, offset int) ([]*ArchivedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, agent_id, model_id, title, message_count, status, metadata, created_at, updated_at, archived_at
		FROM archived_sessions ORDER BY archived_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ArchivedSession
	for rows.Next() {
		var a ArchivedSession
		var metaJSON []byte
		if err := rows.Scan(&a.ID, &a.Type, &a.AgentID, &a.ModelID, &a.Title, &a.MessageCount, &a.Status, &metaJSON, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListMessages returns an archived session's messages in order.
func (r *ArchiveRepo) ListMessages(ctx context.Context, sessionID string) ([]*ArchivedMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, agent_id, model_id, token_usage, created_at, archived_at
		FROM archived_messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.AgentID, &m.ModelID, &m.TokenUsage, &m.CreatedAt, &m.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
