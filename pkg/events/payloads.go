package events

// MessageCreatedPayload announces a new message row in a session.
// Status "streaming" means content is still being produced and will
// arrive via stream.chunk deltas; "completed" means the content field
// is final.
type MessageCreatedPayload struct {
	Type      string `json:"type"` // always EventTypeMessageCreated
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Status    string `json:"status"` // "streaming" or "completed"
	Content   string `json:"content"`
	AgentID   string `json:"agent_id,omitempty"`
	ModelID   string `json:"model_id,omitempty"`
	Sequence  int    `json:"sequence"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// MessageCompletedPayload closes out a streaming message with its final
// content and token usage.
type MessageCompletedPayload struct {
	Type       string `json:"type"` // always EventTypeMessageCompleted
	MessageID  string `json:"message_id"`
	SessionID  string `json:"session_id"`
	Content    string `json:"content"`
	ModelID    string `json:"model_id,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// StreamChunkPayload carries one incremental LLM delta. Transient:
// lost on disconnect, never persisted.
type StreamChunkPayload struct {
	Type      string `json:"type"` // always EventTypeStreamChunk
	MessageID string `json:"message_id,omitempty"`
	SessionID string `json:"session_id"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"`
}

// SessionStatusPayload announces a session lifecycle transition.
type SessionStatusPayload struct {
	Type      string `json:"type"` // always EventTypeSessionStatus
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // created, active, archived, pruned
	Timestamp string `json:"timestamp"`
}

// TitleUpdatedPayload announces a quick- or slow-title write so open
// session lists re-render without polling.
type TitleUpdatedPayload struct {
	Type      string `json:"type"` // always EventTypeTitleUpdated
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
}

// RoundtableTurnPayload announces one participant's completed turn in a
// roundtable, including the synthesis pseudo-turn at the end.
type RoundtableTurnPayload struct {
	Type        string `json:"type"` // always EventTypeRoundtableTurn
	SessionID   string `json:"session_id"`
	Participant string `json:"participant"`
	Round       int    `json:"round"`
	Content     string `json:"content"`
	ModelID     string `json:"model_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// SwarmProgressPayload reports one worker finishing within a swarm run.
// Transient: the persisted recap is the durable record.
type SwarmProgressPayload struct {
	Type       string `json:"type"` // always EventTypeSwarmProgress
	SessionID  string `json:"session_id"`
	Worker     string `json:"worker"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Timestamp  string `json:"timestamp"`
}
