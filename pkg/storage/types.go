package storage

import "time"

// SessionType distinguishes the kinds of conversational session the
// core tracks.
type SessionType string

const (
	SessionTypeChat       SessionType = "chat"
	SessionTypeRoundtable SessionType = "roundtable"
	SessionTypeSwarm      SessionType = "swarm"
	SessionTypeCron       SessionType = "cron"
	SessionTypeInternal   SessionType = "internal"
)

// SessionStatus is the lifecycle state of a Session row.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// MessageRole identifies the author of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Session is a unit of conversation, owned exclusively by the session
// manager.
type Session struct {
	ID           string
	Type         SessionType
	AgentID      *string
	ModelID      *string
	Title        *string
	MessageCount int
	Status       SessionStatus
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsGhost reports whether s is a ghost session as of now, per the
// definition owned by the session manager: no messages, created
// longer than ttl ago.
func (s *Session) IsGhost(now time.Time, ttl time.Duration) bool {
	return s.MessageCount == 0 && s.CreatedAt.Before(now.Add(-ttl))
}

// Message is an ordered entry in a session.
type Message struct {
	ID         string
	SessionID  string
	Seq        int
	Role       MessageRole
	Content    string
	AgentID    *string
	ModelID    *string
	TokenUsage *int
	CreatedAt  time.Time
}

// ArchivedSession mirrors Session plus the timestamp it was archived.
type ArchivedSession struct {
	Session
	ArchivedAt time.Time
}

// ArchivedMessage mirrors Message plus the timestamp it was archived.
type ArchivedMessage struct {
	Message
	ArchivedAt time.Time
}

// SessionFilter selects a subset of sessions for list_sessions.
type SessionFilter struct {
	Type            *SessionType
	Status          *SessionStatus
	MinMessageCount *int
	OrderDesc       bool
	Limit           int
	Offset          int
}

// CircuitState is the three-state circuit breaker state machine value,
// shared by the LLM Gateway (per-model) and Skill Framework
// (per-skill).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerRow is the persisted snapshot of one breaker keyed by
// an opaque target (a model id or a "skill:action" pair).
type CircuitBreakerRow struct {
	Target        string
	State         CircuitState
	FailureCount  int
	LastFailureAt *time.Time
	OpenedAt      *time.Time
	UpdatedAt     time.Time
}

// ModelRateRow is the persisted sliding-window rate-limit state for
// one model.
type ModelRateRow struct {
	ModelID             string
	MinuteBucket        time.Time
	MinuteRequestCount  int
	DayTokenBuckets     map[string]int // hour-bucket key ("2006010215") -> token count
	UpdatedAt           time.Time
}

// CronJobRow is the persisted schedule and last-run outcome for one
// cron job.
type CronJobRow struct {
	Name          string
	Schedule      string
	Skill         string
	Action        string
	ModelID       *string
	Args          map[string]any
	NextRun       *time.Time
	LastRunAt     *time.Time
	LastRunStatus *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SkillInvocationOutcome is the terminal result of one skill call.
type SkillInvocationOutcome string

const (
	OutcomeOK          SkillInvocationOutcome = "ok"
	OutcomeError       SkillInvocationOutcome = "error"
	OutcomeCircuitOpen SkillInvocationOutcome = "circuit_open"
	OutcomeTimeout     SkillInvocationOutcome = "timeout"
)

// SkillInvocation is a telemetry record for one skill call.
type SkillInvocation struct {
	ID            string
	Skill         string
	Action        string
	Duration      time.Duration
	Outcome       SkillInvocationOutcome
	CorrelationID string
	CreatedAt     time.Time
}
