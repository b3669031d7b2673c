// Package orchestrator coordinates N participant agents over one or more
// rounds (spec §4.4): sequential roundtable deliberation with synthesis,
// and parallel swarm fan-out with a deterministic merge.
package orchestrator

import (
	"context"
	"time"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/storage"
)

// Delegator is the narrow slice of the Agent Pool the orchestrator
// depends on.
type Delegator interface {
	DelegateTask(ctx context.Context, task, role string, model string, taskContext string, timeout time.Duration, cleanup bool) (*agent.DelegateResult, error)
}

// SessionStore is the narrow slice of the Session Manager the
// orchestrator needs to create and append to its own roundtable/swarm
// session (distinct from each participant's own delegated session).
type SessionStore interface {
	CreateSession(ctx context.Context, typ storage.SessionType, agentID, modelID *string) (*storage.Session, error)
	AppendMessage(ctx context.Context, sessionID string, role storage.MessageRole, content string, agentID, modelID *string) (*storage.Message, error)
	ArchiveSession(ctx context.Context, id string) (bool, error)
}

// ParticipantTurn is one participant's contribution in a roundtable
// round, or one worker's result in a swarm.
type ParticipantTurn struct {
	AgentName  string
	Model      string
	Output     string
	TokensUsed int
	DurationMS int64
	Err        string
}

// RoundtableResult is the terminal output of RunRoundtable and
// RunMiniRoundtable.
type RoundtableResult struct {
	SessionID string
	Rounds    [][]ParticipantTurn
	Synthesis string
}

// SwarmRecap is the result of one swarm run: per worker output plus the
// merged output and total metrics. Only the worker outputs are stored
// (as assistant messages in the swarm session); Merged, TotalTokens and
// TotalDuration are returned to the caller and not persisted.
type SwarmRecap struct {
	SessionID    string
	Workers      []ParticipantTurn
	Merged       string
	TotalTokens  int
	TotalDuration time.Duration
}

// UnknownParticipantError is returned when an /rt slash command references an
// alias absent from the agent registry (spec §4.4): "unknown aliases are
// reported back as an error message in the stream without creating a
// roundtable session."
type UnknownParticipantError struct {
	Alias string
}

func (e *UnknownParticipantError) Error() string {
	return "unknown participant alias: " + e.Alias
}

// resolveParticipants maps a preset's participant agent names (or /rt
// alias tokens) against the agent registry, returning an
// UnknownParticipantError for the first miss.
func resolveParticipants(agents *config.AgentRegistry, names []string) ([]*config.AgentDefConfig, error) {
	defs := make([]*config.AgentDefConfig, 0, len(names))
	for _, n := range names {
		def, err := agents.Get(n)
		if err != nil {
			if resolved, aliasErr := agents.ResolveAlias(n); aliasErr == nil {
				def, err = agents.Get(resolved)
			}
		}
		if err != nil {
			return nil, &UnknownParticipantError{Alias: n}
		}
		defs = append(defs, def)
	}
	return defs, nil
}
