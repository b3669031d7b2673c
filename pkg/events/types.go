// Package events delivers live chat activity to WebSocket clients via
// PostgreSQL NOTIFY/LISTEN, so every pod sees every session's traffic
// regardless of which pod handled the originating request.
//
// Assistant output follows one of two delivery patterns; clients tell
// them apart by the "status" field of the message.created payload.
//
// Streaming (status: "streaming"):
//
//	message.created   {status: "streaming", content: ""}
//	stream.chunk      {delta: "..."}  (repeated, never persisted)
//	message.completed {status: "completed", content: "full text"}
//
// The message row exists before the model has produced any output;
// deltas arrive as transient chunks and the final content travels in
// the completed event, so a client that reconnects mid-stream still
// ends up with the full text.
//
// Fire-and-forget (status: "completed"):
//
//	message.created   {status: "completed", content: "full text"}
//
// Used for user messages, system notices, and non-streamed assistant
// replies. There is no subsequent message.completed — this is the
// terminal state.
//
// Session lifecycle transitions (created, archived, title updates)
// publish to both the owning session's channel and the global sessions
// channel so the session list stays current without per-session
// subscriptions.
package events

// Persistent event types: stored in the events table, then NOTIFYed.
const (
	EventTypeMessageCreated   = "message.created"
	EventTypeMessageCompleted = "message.completed"
	EventTypeSessionStatus    = "session.status"
	EventTypeTitleUpdated     = "session.title_updated"
	EventTypeRoundtableTurn   = "roundtable.turn"
)

// Transient event types: NOTIFY only, never persisted.
const (
	// High-frequency LLM streaming deltas.
	EventTypeStreamChunk = "stream.chunk"

	// Per-worker swarm progress for live recap displays.
	EventTypeSwarmProgress = "swarm.progress"
)

// Session status values carried by session.status payloads.
const (
	SessionStatusCreated  = "created"
	SessionStatusActive   = "active"
	SessionStatusArchived = "archived"
	SessionStatusPruned   = "pruned"
)

// GlobalSessionsChannel carries session-level lifecycle events for the
// session list view.
const GlobalSessionsChannel = "sessions"

// ChatChannel returns the NOTIFY channel for one session's events,
// "chat:{session_id}".
func ChatChannel(sessionID string) string {
	return "chat:" + sessionID
}

// ClientMessage is the client → server WebSocket frame.
type ClientMessage struct {
	Action  string `json:"action"`            // subscribe, unsubscribe, catchup, ping
	Channel string `json:"channel,omitempty"` // e.g. "chat:abc-123"
	// AfterCursor requests redelivery of persisted events newer than
	// this position; nil on subscribe means "everything".
	AfterCursor *int `json:"after_cursor,omitempty"`
}
