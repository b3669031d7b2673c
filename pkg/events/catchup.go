package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CatchupEvent is one persisted event replayed to a late subscriber.
type CatchupEvent struct {
	Cursor  int
	Payload map[string]any
}

// CatchupQuerier replays persisted events for a channel after a cursor
// position. Implemented by CatchupStore; faked in tests.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, afterCursor, limit int) ([]CatchupEvent, error)
}

// CatchupStore reads the events table the EventPublisher writes. It
// lives here rather than pkg/storage because the events table is this
// package's own partition: no other component reads or writes it.
type CatchupStore struct {
	db *sql.DB
}

// NewCatchupStore wraps the storage client's *sql.DB.
func NewCatchupStore(db *sql.DB) *CatchupStore {
	return &CatchupStore{db: db}
}

// GetCatchupEvents returns up to limit persisted events on channel with
// id > afterCursor, oldest first.
func (s *CatchupStore) GetCatchupEvents(ctx context.Context, channel string, afterCursor, limit int) ([]CatchupEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, afterCursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query catchup events: %w", err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var evt CatchupEvent
		var raw []byte
		if err := rows.Scan(&evt.Cursor, &raw); err != nil {
			return nil, fmt.Errorf("scan catchup event: %w", err)
		}
		if err := json.Unmarshal(raw, &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode catchup payload %d: %w", evt.Cursor, err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// DeleteEventsBefore removes persisted events whose id is below
// beforeID. Nothing in this module calls it; the events table is not
// pruned automatically.
func (s *CatchupStore) DeleteEventsBefore(ctx context.Context, beforeID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id < $1`, beforeID)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return res.RowsAffected()
}
