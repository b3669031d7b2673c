package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/llmgateway"
	"github.com/ariacore/aria/pkg/storage"
)

// SessionStore is the narrow slice of the Session Manager the Agent Pool
// depends on. Defined as an interface (rather than importing
// *session.Manager directly) so tests can substitute a fake without a
// live persistence gateway, matching the teacher's SessionExecutor
// pattern in pkg/queue.
type SessionStore interface {
	CreateSession(ctx context.Context, typ storage.SessionType, agentID, modelID *string) (*storage.Session, error)
	AppendMessage(ctx context.Context, sessionID string, role storage.MessageRole, content string, agentID, modelID *string) (*storage.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*storage.Message, error)
	ArchiveSession(ctx context.Context, id string) (bool, error)
	DeleteSession(ctx context.Context, id string) error
}

// Generator is the narrow slice of the LLM Gateway the Agent Pool needs:
// one non-streaming completion call per delegated task.
type Generator interface {
	Complete(ctx context.Context, req *llmgateway.CompletionRequest) (*llmgateway.CompletionResult, error)
}

// Pool manages the lifecycle of worker agents (spec §4.3). It owns the
// Agent entity exclusively (spec §3 Ownership paragraph); agents are
// process-local and never persisted, only their bound chat sessions are.
type Pool struct {
	// PollEvery overrides PollInterval for delegate_task's state polls.
	// Zero means the package default; tests and config tuning set it.
	PollEvery time.Duration

	sessions SessionStore
	gateway  Generator
	models   *config.ModelRegistry

	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewPool wires an Agent Pool over the Session Manager and LLM Gateway.
func NewPool(sessions SessionStore, gateway Generator, models *config.ModelRegistry) *Pool {
	return &Pool{
		sessions: sessions,
		gateway:  gateway,
		models:   models,
		agents:   make(map[string]*Agent),
	}
}

// SpawnAgent creates an agent and its bound chat session as a single
// transactional unit (spec §4.3: "a partial-spawn... is impossible
// because creation is a single transactional unit" — achieved here by
// creating the session first and only registering the in-memory Agent
// once that succeeds, so a session-creation failure never leaves a
// dangling agent record).
func (p *Pool) SpawnAgent(ctx context.Context, name, role, instructions, model string) (*Agent, error) {
	if model != "" && !p.models.Has(model) {
		return nil, coreerrors.ErrUnknownModel
	}

	agentID := uuid.NewString()
	var modelPtr *string
	if model != "" {
		modelPtr = &model
	}
	agentIDCopy := agentID

	sess, err := p.sessions.CreateSession(ctx, storage.SessionTypeChat, &agentIDCopy, modelPtr)
	if err != nil {
		return nil, fmt.Errorf("spawn agent: create session: %w", err)
	}

	now := time.Now()
	a := &Agent{
		ID:           agentID,
		Name:         name,
		Role:         role,
		Instructions: instructions,
		PinnedModel:  model,
		SessionID:    sess.ID,
		State:        StateIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	p.mu.Lock()
	p.agents[agentID] = a
	p.mu.Unlock()

	return a, nil
}

// Get returns a copy of the agent's current state.
func (p *Pool) Get(agentID string) (Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// List returns a snapshot of every live agent.
func (p *Pool) List() []Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, *a)
	}
	return out
}

func (p *Pool) setState(agentID string, state State, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.agents[agentID]; ok {
		a.State = state
		a.lastError = errMsg
		a.UpdatedAt = time.Now()
	}
}

// DelegateTask implements spec §4.3's delegate_task: spawn, post the
// combined (context, task) as a user message, dispatch generation
// asynchronously, and poll every PollInterval until the agent is
// completed or failed, or timeout. On cleanup, terminate the agent regardless of outcome.
func (p *Pool) DelegateTask(ctx context.Context, task, role string, model string, taskContext string, timeout time.Duration, cleanup bool) (*DelegateResult, error) {
	if timeout <= 0 {
		timeout = DefaultDelegateTimeout
	}
	name := role + "-" + uuid.NewString()[:8]
	a, err := p.SpawnAgent(ctx, name, role, "", model)
	if err != nil {
		return nil, err
	}

	combined := task
	if taskContext != "" {
		combined = taskContext + "\n\n" + task
	}

	start := time.Now()
	if _, err := p.sessions.AppendMessage(ctx, a.SessionID, storage.RoleUser, combined, &a.ID, nilIfEmpty(model)); err != nil {
		p.setState(a.ID, StateFailed, err.Error())
		if cleanup {
			_ = p.Terminate(context.Background(), a.ID, false)
		}
		return &DelegateResult{AgentID: a.ID, Model: model, Status: DelegateError, Result: ""}, nil
	}

	p.setState(a.ID, StateBusy, "")
	done := make(chan struct{})
	go p.runGeneration(a, done)

	result := p.pollUntilDone(ctx, a.ID, done, timeout)
	result.DurationMS = time.Since(start).Milliseconds()

	if cleanup {
		if err := p.Terminate(context.Background(), a.ID, false); err != nil {
			slog.Warn("delegate_task cleanup terminate failed", "agent_id", a.ID, "error", err)
		}
	}

	return result, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// runGeneration performs the actual model call for a delegated task and
// appends the assistant reply, transitioning agent state to completed or
// failed. It runs detached from the caller's context so a delegate_task
// timeout (caller side) doesn't abort an in-flight generation that might
// still finish and be collected by a later poll.
func (p *Pool) runGeneration(a *Agent, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), llmgateway.DefaultTimeout)
	defer cancel()

	msgs, err := p.sessions.ListMessages(ctx, a.SessionID)
	if err != nil {
		p.setState(a.ID, StateFailed, err.Error())
		return
	}

	conv := make([]llmgateway.ConversationMessage, 0, len(msgs)+1)
	if a.Instructions != "" {
		conv = append(conv, llmgateway.ConversationMessage{Role: llmgateway.RoleSystem, Content: a.Instructions})
	}
	for _, m := range msgs {
		conv = append(conv, llmgateway.ConversationMessage{Role: string(m.Role), Content: m.Content})
	}

	res, err := p.gateway.Complete(ctx, &llmgateway.CompletionRequest{
		SessionID:   a.SessionID,
		Messages:    conv,
		PinnedModel: a.PinnedModel,
	})
	if err != nil {
		p.setState(a.ID, StateFailed, err.Error())
		return
	}

	modelID := res.ModelID
	if _, err := p.sessions.AppendMessage(ctx, a.SessionID, storage.RoleAssistant, res.Content, &a.ID, &modelID); err != nil {
		p.setState(a.ID, StateFailed, err.Error())
		return
	}

	p.mu.Lock()
	if ag, ok := p.agents[a.ID]; ok {
		ag.State = StateCompleted
		ag.UpdatedAt = time.Now()
	}
	p.mu.Unlock()
}

func (p *Pool) pollUntilDone(ctx context.Context, agentID string, done <-chan struct{}, timeout time.Duration) *DelegateResult {
	every := p.PollEvery
	if every <= 0 {
		every = PollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-done:
			return p.collectResult(agentID)
		case <-deadline:
			return p.partialOrTimeout(agentID)
		case <-ticker.C:
			a, ok := p.Get(agentID)
			if ok && (a.State == StateCompleted || a.State == StateFailed) {
				return p.collectResult(agentID)
			}
		case <-ctx.Done():
			return p.partialOrTimeout(agentID)
		}
	}
}

func (p *Pool) collectResult(agentID string) *DelegateResult {
	a, _ := p.Get(agentID)
	status := DelegateCompleted
	if a.State == StateFailed {
		status = DelegateError
	}
	result, tokens := p.lastAssistantMessage(agentID)
	return &DelegateResult{AgentID: agentID, Model: a.PinnedModel, Status: status, Result: result, TokensUsed: tokens}
}

// partialOrTimeout returns whatever assistant output exists so far
// (spec §4.3: "Delegation timeout returns partial results if any
// assistant message exists; else empty with status=timeout").
func (p *Pool) partialOrTimeout(agentID string) *DelegateResult {
	a, _ := p.Get(agentID)
	result, tokens := p.lastAssistantMessage(agentID)
	return &DelegateResult{AgentID: agentID, Model: a.PinnedModel, Status: DelegateTimeout, Result: result, TokensUsed: tokens}
}

func (p *Pool) lastAssistantMessage(agentID string) (string, int) {
	a, ok := p.Get(agentID)
	if !ok {
		return "", 0
	}
	msgs, err := p.sessions.ListMessages(context.Background(), a.SessionID)
	if err != nil {
		return "", 0
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == storage.RoleAssistant {
			tokens := 0
			if msgs[i].TokenUsage != nil {
				tokens = *msgs[i].TokenUsage
			}
			return msgs[i].Content, tokens
		}
	}
	return "", 0
}

// Terminate transitions an agent to terminated and disposes of its bound
// session: archived if archiveSession is true and it has messages,
// deleted otherwise (spec §4.3).
func (p *Pool) Terminate(ctx context.Context, agentID string, archiveSession bool) error {
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return coreerrors.ErrNotFound
	}
	a.State = StateTerminated
	a.UpdatedAt = time.Now()
	sessionID := a.SessionID
	p.mu.Unlock()

	archive := archiveSession
	if archive {
		msgs, err := p.sessions.ListMessages(ctx, sessionID)
		archive = err != nil || len(msgs) > 0
	}
	if archive {
		if _, err := p.sessions.ArchiveSession(ctx, sessionID); err != nil {
			slog.Warn("terminate: archive session failed", "agent_id", agentID, "session_id", sessionID, "error", err)
		}
	} else if err := p.sessions.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("terminate: delete session failed", "agent_id", agentID, "session_id", sessionID, "error", err)
	}

	p.mu.Lock()
	delete(p.agents, agentID)
	p.mu.Unlock()
	return nil
}
