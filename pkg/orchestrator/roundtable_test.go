package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/storage"
)

// fakeDelegator records every delegated task and answers from a
// per-role script.
type fakeDelegator struct {
	mu    sync.Mutex
	calls []delegateCall
	reply func(task, role string) string
}

type delegateCall struct {
	task, role, model string
	order             int
}

func (f *fakeDelegator) DelegateTask(_ context.Context, task, role string, model string, _ string, _ time.Duration, _ bool) (*agent.DelegateResult, error) {
	f.mu.Lock()
	call := delegateCall{task: task, role: role, model: model, order: len(f.calls)}
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	out := role + " says hello"
	if f.reply != nil {
		out = f.reply(task, role)
	}
	return &agent.DelegateResult{AgentID: uuid.NewString(), Model: model, Status: agent.DelegateCompleted, Result: out, TokensUsed: 5, DurationMS: 10}, nil
}

// fakeStore is a minimal in-memory SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]storage.SessionType
	messages map[string][]*storage.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]storage.SessionType), messages: make(map[string][]*storage.Message)}
}

func (f *fakeStore) CreateSession(_ context.Context, typ storage.SessionType, _, _ *string) (*storage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.sessions[id] = typ
	return &storage.Session{ID: id, Type: typ, Status: storage.SessionStatusActive}, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, sessionID string, role storage.MessageRole, content string, agentID, modelID *string) (*storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &storage.Message{ID: uuid.NewString(), SessionID: sessionID, Seq: len(f.messages[sessionID]) + 1, Role: role, Content: content, AgentID: agentID, ModelID: modelID}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	return m, nil
}

func (f *fakeStore) ArchiveSession(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[id]
	delete(f.sessions, id)
	return ok, nil
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func testOrchestrator(delegator Delegator, store SessionStore) *Orchestrator {
	agents := config.NewAgentRegistry(map[string]*config.AgentDefConfig{
		"alice": {Role: "analyst", Alias: "a", PinnedModel: "model-a"},
		"bob":   {Role: "critic", Alias: "b"},
	})
	roundtables := config.NewRoundtableRegistry(map[string]*config.RoundtableConfig{
		"panel": {
			Mode:         config.RoundtableModeSequential,
			Participants: []string{"alice", "bob"},
			Rounds:       2,
		},
		"workers": {
			Mode:         config.RoundtableModeSwarm,
			Participants: []string{"bob", "alice"},
		},
	})
	return NewOrchestrator(delegator, store, agents, roundtables)
}

func TestRunRoundtable_TurnsInDeclaredOrder(t *testing.T) {
	delegator := &fakeDelegator{}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	result, err := orch.RunRoundtable(context.Background(), "panel", "should we ship?")
	require.NoError(t, err)
	require.Len(t, result.Rounds, 2)

	for _, round := range result.Rounds {
		require.Len(t, round, 2)
		assert.Equal(t, "alice", round[0].AgentName)
		assert.Equal(t, "bob", round[1].AgentName)
	}

	// 2 rounds × 2 participants + 1 synthesis call.
	require.Len(t, delegator.calls, 5)
	assert.Equal(t, "analyst", delegator.calls[0].role)
	assert.Equal(t, "critic", delegator.calls[1].role)
	assert.Equal(t, "synthesizer", delegator.calls[4].role)

	// Per-agent model override flows through.
	assert.Equal(t, "model-a", delegator.calls[0].model)
	assert.Empty(t, delegator.calls[1].model)
}

func TestRunRoundtable_TranscriptAccumulates(t *testing.T) {
	delegator := &fakeDelegator{reply: func(_, role string) string { return "<" + role + ">" }}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	_, err := orch.RunRoundtable(context.Background(), "panel", "topic X")
	require.NoError(t, err)

	// The second participant's task is the transcript so far: it must
	// contain the topic and the first participant's output.
	second := delegator.calls[1].task
	assert.Contains(t, second, "Topic: topic X")
	assert.Contains(t, second, "<analyst>")

	// The first participant of round two sees both round-one outputs.
	third := delegator.calls[2].task
	assert.Contains(t, third, "<analyst>")
	assert.Contains(t, third, "<critic>")
}

func TestRunRoundtable_SynthesisPersisted(t *testing.T) {
	delegator := &fakeDelegator{reply: func(task, role string) string {
		if role == "synthesizer" {
			return "consensus reached"
		}
		return "position"
	}}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	result, err := orch.RunRoundtable(context.Background(), "panel", "topic")
	require.NoError(t, err)
	assert.Equal(t, "consensus reached", result.Synthesis)

	msgs := store.messages[result.SessionID]
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, storage.RoleSystem, last.Role)
	assert.Equal(t, "consensus reached", last.Content)
}

func TestRunMiniRoundtable_UnknownAliasCreatesNoSession(t *testing.T) {
	delegator := &fakeDelegator{}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	_, err := orch.RunMiniRoundtable(context.Background(), []string{"a", "stranger"}, "topic")

	var unk *UnknownParticipantError
	require.ErrorAs(t, err, &unk)
	assert.Equal(t, "stranger", unk.Alias)
	assert.Zero(t, store.sessionCount(), "no roundtable session on unknown alias")
	assert.Empty(t, delegator.calls)
}

func TestRunMiniRoundtable_ResolvesAliases(t *testing.T) {
	delegator := &fakeDelegator{}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	result, err := orch.RunMiniRoundtable(context.Background(), []string{"a", "b"}, "quick check")
	require.NoError(t, err)
	require.Len(t, result.Rounds, 1)
	assert.Len(t, result.Rounds[0], 2)
}

func TestRunSwarm_DeterministicMergeOrder(t *testing.T) {
	delegator := &fakeDelegator{reply: func(_, role string) string { return "output of " + role }}
	store := newFakeStore()
	orch := testOrchestrator(delegator, store)

	// Preset declares bob before alice; the merge must still come out
	// sorted by participant name.
	recap, err := orch.RunSwarm(context.Background(), "workers", "split this task")
	require.NoError(t, err)

	require.Len(t, recap.Workers, 2)
	assert.Equal(t, "alice", recap.Workers[0].AgentName)
	assert.Equal(t, "bob", recap.Workers[1].AgentName)

	aliceIdx := strings.Index(recap.Merged, "### alice")
	bobIdx := strings.Index(recap.Merged, "### bob")
	require.NotEqual(t, -1, aliceIdx)
	require.NotEqual(t, -1, bobIdx)
	assert.Less(t, aliceIdx, bobIdx)

	assert.Equal(t, 10, recap.TotalTokens)
}

func TestRunSwarm_UnknownPreset(t *testing.T) {
	orch := testOrchestrator(&fakeDelegator{}, newFakeStore())
	_, err := orch.RunSwarm(context.Background(), "nope", "task")
	assert.Error(t, err)
}

// errDelegator fails every delegation; a swarm must still complete and
// report the per-worker error instead of aborting the whole run.
type errDelegator struct{}

func (errDelegator) DelegateTask(context.Context, string, string, string, string, time.Duration, bool) (*agent.DelegateResult, error) {
	return nil, errors.New("pool exhausted")
}

func TestRunSwarm_WorkerFailureIsCaptured(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(errDelegator{}, store)

	recap, err := orch.RunSwarm(context.Background(), "workers", "task")
	require.NoError(t, err)
	require.Len(t, recap.Workers, 2)
	for _, w := range recap.Workers {
		assert.NotEmpty(t, w.Err)
	}
	assert.Empty(t, recap.Merged, "failed workers contribute nothing to the merge")
}
