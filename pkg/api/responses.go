package api

import "time"

// HealthResponse is GET /health's body (spec §6), with per-component
// detail beyond the database boolean.
type HealthResponse struct {
	Status     string            `json:"status"`
	Database   string            `json:"database"`
	UptimeS    int64             `json:"uptime_s"`
	Components *HealthComponents `json:"components,omitempty"`
}

// HealthComponents carries the live per-component gauges reported on a
// healthy response.
type HealthComponents struct {
	DBOpenConns      int `json:"db_open_conns"`
	DBInUse          int `json:"db_in_use"`
	LiveAgents       int `json:"live_agents"`
	WSConnections    int `json:"ws_connections"`
	ConfiguredModels int `json:"configured_models"`
	CronJobs         int `json:"cron_jobs"`
}

// ChatResponse is POST /chat's body.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	ModelID   string `json:"model_id"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens_used"`
}

// SessionResponse shapes one session for GET /sessions and GET
// /sessions/archive.
type SessionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AgentID      *string   `json:"agent_id,omitempty"`
	ModelID      *string   `json:"model_id,omitempty"`
	Title        *string   `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
}

// ArchiveSessionResponse is POST /sessions/{id}/archive's body.
type ArchiveSessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// DeleteGhostsResponse is DELETE /sessions/ghosts's body.
type DeleteGhostsResponse struct {
	Deleted int `json:"deleted"`
}

// AgentResponse shapes one agent for GET /agents.
type AgentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	PinnedModel string `json:"pinned_model,omitempty"`
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
}

// DelegateResponse is POST /agents/delegate's body.
type DelegateResponse struct {
	AgentID    string `json:"agent_id"`
	Model      string `json:"model"`
	Status     string `json:"status"`
	Result     string `json:"result"`
	TokensUsed int    `json:"tokens_used"`
	DurationMS int64  `json:"duration_ms"`
}

// ModelResponse shapes one catalog entry for GET /models.
type ModelResponse struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Tier            string `json:"tier"`
	MaxRPM          *int   `json:"max_rpm,omitempty"`
	MaxTPD          *int   `json:"max_tpd,omitempty"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

// CronJobResponse shapes one job for GET /cron and the PUT responses.
type CronJobResponse struct {
	Name     string         `json:"name"`
	Schedule string         `json:"schedule"`
	Skill    string         `json:"skill"`
	Action   string         `json:"action"`
	Model    string         `json:"model,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}
