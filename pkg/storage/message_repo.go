package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageRepo is the typed collection view over the messages table.
type MessageRepo struct {
	db *sql.DB
}

// NextSeq returns the next strictly increasing sequence number for a
// session, computed inside the caller's transaction to avoid a
// lost-update race against concurrent appends.
func (r *MessageRepo) NextSeq(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	if _, err := tx.ExecContext(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID); err != nil {
		return 0, err
	}
	var maxSeq sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM messages WHERE session_id = $1`, sessionID).Scan(&maxSeq)
	if err != nil {
		return 0, err
	}
	if !maxSeq.Valid {
		return 1, nil
	}
	return int(maxSeq.Int64) + 1, nil
}

// Insert appends a message at the given sequence number inside tx.
func (r *MessageRepo) Insert(ctx context.Context, tx *sql.Tx, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, agent_id, model_id, token_usage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SessionID, m.Seq, m.Role, m.Content, m.AgentID, m.ModelID, m.TokenUsage, m.CreatedAt)
	return err
}

// ListBySession returns a session's messages in sequence order.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, agent_id, model_id, token_usage, created_at
		FROM messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Delete removes one message and decrements its session's
// message_count in the same transaction.
func (r *MessageRepo) Delete(ctx context.Context, tx *sql.Tx, sessionRepo *SessionRepo, id string) error {
	var sessionID string
	if err := tx.QueryRowContext(ctx, `SELECT session_id FROM messages WHERE id = $1`, id).Scan(&sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count - 1, updated_at = now() WHERE id = $1`, sessionID)
	return err
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.AgentID, &m.ModelID, &m.TokenUsage, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}
