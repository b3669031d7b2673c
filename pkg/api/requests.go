package api

// ChatRequest is the body for POST /chat and POST /chat/stream. SessionID
// is optional: omitted, a new chat session is created lazily on the
// first message, per spec §4.1.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" validate:"required"`
	Model     string `json:"model"`
}

// SpawnAgentRequest is the body for POST /agents/spawn.
type SpawnAgentRequest struct {
	Name         string `json:"name" validate:"required"`
	Role         string `json:"role" validate:"required"`
	Instructions string `json:"instructions"`
	Model        string `json:"model"`
}

// DelegateRequest is the body for POST /agents/delegate.
type DelegateRequest struct {
	Task        string `json:"task" validate:"required"`
	Role        string `json:"role" validate:"required"`
	Model       string `json:"model"`
	Context     string `json:"context"`
	TimeoutSecs int    `json:"timeout_seconds"`
	Cleanup     bool   `json:"cleanup"`
}

// CronJobRequest is the body for POST /cron and PATCH /cron/{id}.
type CronJobRequest struct {
	Name     string         `json:"name" validate:"required"`
	Schedule string         `json:"schedule" validate:"required"`
	Skill    string         `json:"skill" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Model    string         `json:"model"`
	Args     map[string]any `json:"args"`
}

// RoundtableRequest is the message a client sends over /ws/roundtable to
// kick off a deliberation or swarm run.
type RoundtableRequest struct {
	Mode    string   `json:"mode"` // "roundtable" (default), "mini", or "swarm"
	Preset  string   `json:"preset"`
	Topic   string   `json:"topic" validate:"required"`
	Agents  []string `json:"agents"` // used by mode="mini"
}
