package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/llmgateway"
	"github.com/ariacore/aria/pkg/storage"
)

// fakeSessions is an in-memory SessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*storage.Session
	messages map[string][]*storage.Message
	archived map[string]bool
	deleted  map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*storage.Session),
		messages: make(map[string][]*storage.Message),
		archived: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, typ storage.SessionType, agentID, modelID *string) (*storage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &storage.Session{ID: uuid.NewString(), Type: typ, AgentID: agentID, ModelID: modelID, Status: storage.SessionStatusActive}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessions) AppendMessage(_ context.Context, sessionID string, role storage.MessageRole, content string, agentID, modelID *string) (*storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, coreerrors.ErrNotFound
	}
	m := &storage.Message{ID: uuid.NewString(), SessionID: sessionID, Seq: len(f.messages[sessionID]) + 1, Role: role, Content: content, AgentID: agentID, ModelID: modelID}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	f.sessions[sessionID].MessageCount++
	return m, nil
}

func (f *fakeSessions) ListMessages(_ context.Context, sessionID string) ([]*storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*storage.Message(nil), f.messages[sessionID]...), nil
}

func (f *fakeSessions) ArchiveSession(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	f.archived[id] = true
	return true, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	f.deleted[id] = true
	return nil
}

// fakeGateway is a Generator whose behavior each test configures.
type fakeGateway struct {
	delay   time.Duration
	content string
	err     error
	modelID string
}

func (f *fakeGateway) Complete(ctx context.Context, req *llmgateway.CompletionRequest) (*llmgateway.CompletionResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	modelID := f.modelID
	if modelID == "" {
		modelID = "test-model"
	}
	return &llmgateway.CompletionResult{
		ModelID:    modelID,
		Completion: &llmgateway.Completion{Content: f.content, TotalTokens: 7},
	}, nil
}

func testModels(t *testing.T, ids ...string) *config.ModelRegistry {
	t.Helper()
	m := make(map[string]*config.ModelConfig, len(ids))
	for _, id := range ids {
		m[id] = &config.ModelConfig{Provider: "openai", Tier: config.ModelTierLocal, DisplayName: id}
	}
	return config.NewModelRegistry(m)
}

func TestSpawnAgent(t *testing.T) {
	sessions := newFakeSessions()
	pool := NewPool(sessions, &fakeGateway{}, testModels(t, "test-model"))
	ctx := context.Background()

	t.Run("unknown pinned model is rejected", func(t *testing.T) {
		_, err := pool.SpawnAgent(ctx, "scout", "researcher", "", "nope")
		assert.ErrorIs(t, err, coreerrors.ErrUnknownModel)
		assert.Empty(t, pool.List())
	})

	t.Run("spawn creates agent and bound session together", func(t *testing.T) {
		a, err := pool.SpawnAgent(ctx, "scout", "researcher", "dig deep", "test-model")
		require.NoError(t, err)
		assert.Equal(t, StateIdle, a.State)
		assert.NotEmpty(t, a.SessionID)

		sessions.mu.Lock()
		bound := sessions.sessions[a.SessionID]
		sessions.mu.Unlock()
		require.NotNil(t, bound)
		assert.Equal(t, storage.SessionTypeChat, bound.Type)
		require.NotNil(t, bound.AgentID)
		assert.Equal(t, a.ID, *bound.AgentID)
	})
}

func TestDelegateTask_Completes(t *testing.T) {
	sessions := newFakeSessions()
	gw := &fakeGateway{content: "42", modelID: "test-model"}
	pool := NewPool(sessions, gw, testModels(t, "test-model"))

	res, err := pool.DelegateTask(context.Background(), "compute the answer", "solver", "test-model", "be brief", 5*time.Second, true)
	require.NoError(t, err)

	assert.Equal(t, DelegateCompleted, res.Status)
	assert.Equal(t, "42", res.Result)
	assert.GreaterOrEqual(t, res.DurationMS, int64(0))

	// cleanup=true terminated the agent and deleted its session.
	_, alive := pool.Get(res.AgentID)
	assert.False(t, alive)
}

func TestDelegateTask_CombinesContextAndTask(t *testing.T) {
	sessions := newFakeSessions()
	pool := NewPool(sessions, &fakeGateway{content: "ok"}, testModels(t))

	res, err := pool.DelegateTask(context.Background(), "the task", "worker", "", "the context", 5*time.Second, false)
	require.NoError(t, err)
	require.Equal(t, DelegateCompleted, res.Status)

	a, ok := pool.Get(res.AgentID)
	require.True(t, ok)
	msgs, err := sessions.ListMessages(context.Background(), a.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "the context\n\nthe task", msgs[0].Content)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
}

func TestDelegateTask_Timeout(t *testing.T) {
	sessions := newFakeSessions()
	gw := &fakeGateway{delay: 2 * time.Second, content: "too late"}
	pool := NewPool(sessions, gw, testModels(t))

	start := time.Now()
	res, err := pool.DelegateTask(context.Background(), "count to 100", "counter", "", "", 200*time.Millisecond, true)
	require.NoError(t, err)

	assert.Equal(t, DelegateTimeout, res.Status)
	assert.Empty(t, res.Result, "no assistant message yet means empty partial")
	assert.Less(t, time.Since(start), 1*time.Second, "timeout must not wait for the generation")

	_, alive := pool.Get(res.AgentID)
	assert.False(t, alive, "cleanup terminates the agent after timeout")
}

func TestDelegateTask_GenerationError(t *testing.T) {
	sessions := newFakeSessions()
	gw := &fakeGateway{err: fmt.Errorf("provider down")}
	pool := NewPool(sessions, gw, testModels(t))

	res, err := pool.DelegateTask(context.Background(), "anything", "worker", "", "", 5*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, DelegateError, res.Status)
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown agent", func(t *testing.T) {
		pool := NewPool(newFakeSessions(), &fakeGateway{}, testModels(t))
		assert.ErrorIs(t, pool.Terminate(ctx, "ghost", false), coreerrors.ErrNotFound)
	})

	t.Run("delete disposal", func(t *testing.T) {
		sessions := newFakeSessions()
		pool := NewPool(sessions, &fakeGateway{}, testModels(t))
		a, err := pool.SpawnAgent(ctx, "w", "worker", "", "")
		require.NoError(t, err)

		require.NoError(t, pool.Terminate(ctx, a.ID, false))
		assert.True(t, sessions.deleted[a.SessionID])
		assert.False(t, sessions.archived[a.SessionID])
	})

	t.Run("archive disposal", func(t *testing.T) {
		sessions := newFakeSessions()
		pool := NewPool(sessions, &fakeGateway{}, testModels(t))
		a, err := pool.SpawnAgent(ctx, "w", "worker", "", "")
		require.NoError(t, err)
		_, err = sessions.AppendMessage(ctx, a.SessionID, storage.RoleUser, "hi", nil, nil)
		require.NoError(t, err)

		require.NoError(t, pool.Terminate(ctx, a.ID, true))
		assert.True(t, sessions.archived[a.SessionID])
	})
}
