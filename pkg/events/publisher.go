package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// notifyByteLimit is the usable slice of PostgreSQL's 8000-byte NOTIFY
// payload ceiling. Payloads over it are replaced by a routing-only
// envelope; the full event is still in the events table for catchup.
const notifyByteLimit = 7900

// EventPublisher is the single write path for live events. Persistent
// events are inserted into the events table and NOTIFYed in one
// transaction, so a subscriber's catchup cursor can never skip an event
// it was notified about. Transient events (stream deltas, swarm
// progress) go out via NOTIFY alone.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher wraps the storage client's *sql.DB.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishMessageCreated persists and broadcasts a message.created event
// on the owning session's channel.
func (p *EventPublisher) PublishMessageCreated(ctx context.Context, payload MessageCreatedPayload) error {
	return p.persistent(ctx, payload.SessionID, ChatChannel(payload.SessionID), payload)
}

// PublishMessageCompleted persists and broadcasts the terminal event of
// a streaming message.
func (p *EventPublisher) PublishMessageCompleted(ctx context.Context, payload MessageCompletedPayload) error {
	return p.persistent(ctx, payload.SessionID, ChatChannel(payload.SessionID), payload)
}

// PublishStreamChunk broadcasts one LLM delta. NOTIFY only.
func (p *EventPublisher) PublishStreamChunk(ctx context.Context, payload StreamChunkPayload) error {
	return p.transient(ctx, ChatChannel(payload.SessionID), payload)
}

// PublishRoundtableTurn persists and broadcasts one roundtable turn.
func (p *EventPublisher) PublishRoundtableTurn(ctx context.Context, payload RoundtableTurnPayload) error {
	return p.persistent(ctx, payload.SessionID, ChatChannel(payload.SessionID), payload)
}

// PublishSwarmProgress broadcasts per-worker swarm progress. NOTIFY only.
func (p *EventPublisher) PublishSwarmProgress(ctx context.Context, payload SwarmProgressPayload) error {
	return p.transient(ctx, ChatChannel(payload.SessionID), payload)
}

// PublishSessionStatus persists a lifecycle event on the session's own
// channel and mirrors a transient copy to the global sessions channel.
// Both sends are attempted; the first error wins.
func (p *EventPublisher) PublishSessionStatus(ctx context.Context, payload SessionStatusPayload) error {
	var firstErr error
	if err := p.persistent(ctx, payload.SessionID, ChatChannel(payload.SessionID), payload); err != nil {
		slog.Warn("session status publish failed on session channel",
			"session_id", payload.SessionID, "status", payload.Status, "error", err)
		firstErr = err
	}
	if err := p.transient(ctx, GlobalSessionsChannel, payload); err != nil {
		slog.Warn("session status publish failed on global channel",
			"session_id", payload.SessionID, "status", payload.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishTitleUpdated persists the title change and mirrors it to the
// global sessions channel for open list views.
func (p *EventPublisher) PublishTitleUpdated(ctx context.Context, payload TitleUpdatedPayload) error {
	var firstErr error
	if err := p.persistent(ctx, payload.SessionID, ChatChannel(payload.SessionID), payload); err != nil {
		firstErr = err
	}
	if err := p.transient(ctx, GlobalSessionsChannel, payload); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// persistent inserts the event row and fires pg_notify inside one
// transaction. pg_notify is transactional, so the notification is held
// until COMMIT and the insert and broadcast land atomically.
func (p *EventPublisher) persistent(ctx context.Context, sessionID, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cursor int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, payloadJSON, time.Now(),
	).Scan(&cursor)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := withCursor(payloadJSON, cursor)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event transaction: %w", err)
	}
	return nil
}

// transient fires pg_notify without touching the events table.
func (p *EventPublisher) transient(ctx context.Context, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	notifyPayload, err := capNotifyPayload(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// withCursor stamps the row id onto the NOTIFY copy of a persisted
// event so subscribers can track their catchup position, then applies
// the size cap. The stored row keeps the unstamped payload; catchup
// re-stamps from the row id at query time.
func withCursor(payloadJSON []byte, cursor int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("unmarshal payload for cursor stamp: %w", err)
	}
	m["cursor"] = cursor

	stamped, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal stamped payload: %w", err)
	}
	return capNotifyPayload(string(stamped))
}

// capNotifyPayload replaces an oversized payload with a routing-only
// envelope carrying type, ids, and a truncated flag; the client fetches
// the full event through catchup or REST.
func capNotifyPayload(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyByteLimit {
		return payloadStr, nil
	}

	var routing struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		SessionID string `json:"session_id"`
		Cursor    *int64 `json:"cursor,omitempty"`
	}
	if err := json.Unmarshal([]byte(payloadStr), &routing); err != nil {
		return "", fmt.Errorf("extract routing fields for truncation: %w", err)
	}

	envelope := map[string]any{
		"type":       routing.Type,
		"session_id": routing.SessionID,
		"truncated":  true,
	}
	if routing.MessageID != "" {
		envelope["message_id"] = routing.MessageID
	}
	if routing.Cursor != nil {
		envelope["cursor"] = *routing.Cursor
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal truncation envelope: %w", err)
	}
	return string(out), nil
}
