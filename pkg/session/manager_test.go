package session_test

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/internal/testutil"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/session"
	"github.com/ariacore/aria/pkg/storage"
)

func newTestClient(t *testing.T) *storage.Client {
	t.Helper()
	ctx := context.Background()

	u, err := url.Parse(testutil.GetBaseConnectionString(t))
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	client, err := storage.NewClient(ctx, storage.Config{
		Host:         u.Hostname(),
		Port:         port,
		User:         u.User.Username(),
		Password:     password,
		Database:     strings.TrimPrefix(u.Path, "/"),
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// fakeSummarizer is a scriptable slow-title Summarizer.
type fakeSummarizer struct {
	mu     sync.Mutex
	title  string
	err    error
	called int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	return f.title, f.err
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

func newTestManager(t *testing.T, summarizer session.Summarizer) (*session.Manager, *storage.Client) {
	t.Helper()
	client := newTestClient(t)
	return session.NewManager(client.Sessions, client.Messages, client.Archive, nil, summarizer), client
}

func titleOf(t *testing.T, client *storage.Client, id string) string {
	t.Helper()
	s, err := client.Sessions.Get(context.Background(), id)
	require.NoError(t, err)
	if s.Title == nil {
		return ""
	}
	return *s.Title
}

func TestQuickTitleThenSlowTitle(t *testing.T) {
	summarizer := &fakeSummarizer{title: "Philosophy of counting"}
	m, client := newTestManager(t, summarizer)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "please count from one to nine hundred and ninety nine slowly", nil, nil)
	require.NoError(t, err)

	// Quick title is synchronous: first 8 words plus ellipsis.
	assert.Equal(t, "please count from one to nine hundred and…", titleOf(t, client, sess.ID))

	// Slow title overwrites it.
	require.Eventually(t, func() bool {
		return titleOf(t, client, sess.ID) == "Philosophy of counting"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSlowTitleFailureLeavesQuickTitle(t *testing.T) {
	summarizer := &fakeSummarizer{err: errors.New("model unavailable")}
	m, client := newTestManager(t, summarizer)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "hello", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return summarizer.callCount() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "hello", titleOf(t, client, sess.ID))
}

func TestSlashCommandFirstMessageSkipsSlowTitle(t *testing.T) {
	summarizer := &fakeSummarizer{title: "should never appear"}
	m, client := newTestManager(t, summarizer)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "/rt @alice @bob what now", nil, nil)
	require.NoError(t, err)

	// Quick title applies; the summarizer is never consulted.
	assert.Equal(t, "/rt @alice @bob what now", titleOf(t, client, sess.ID))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, summarizer.callCount())
}

func TestSecondMessageDoesNotRetitle(t *testing.T) {
	summarizer := &fakeSummarizer{title: "titled"}
	m, _ := newTestManager(t, summarizer)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "first", nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return summarizer.callCount() == 1 }, 3*time.Second, 20*time.Millisecond)

	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "second", nil, nil)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, summarizer.callCount(), "only the first user message triggers titling")
}

func TestAppendMessage_SequenceInvariantUnderConcurrency(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AppendMessage(ctx, sess.ID, storage.RoleUser, "msg", nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := m.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, writers)

	// Sequence numbers are a prefix of the naturals with no duplicates.
	seen := make(map[int]bool, writers)
	for _, msg := range msgs {
		assert.False(t, seen[msg.Seq], "duplicate sequence %d", msg.Seq)
		seen[msg.Seq] = true
	}
	for i := 1; i <= writers; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.MessageCount)
}

func TestAppendToArchivedSessionFails(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)

	ok, err := m.ArchiveSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "too late", nil, nil)
	assert.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestArchiveRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "keep this", nil, nil)
	require.NoError(t, err)

	ok, err := m.ArchiveSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Gone from the active list.
	_, err = m.GetSession(ctx, sess.ID)
	assert.Error(t, err)

	// Present in the archive with its messages and archived_at set.
	archived, err := m.GetArchivedSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, archived.ArchivedAt.IsZero())

	msgs, err := m.ListArchivedMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep this", msgs[0].Content)

	// Idempotence: a second archive is a no-op returning false.
	ok, err = m.ArchiveSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteGhostSessionsIsIdempotent(t *testing.T) {
	m, client := newTestManager(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	past := time.Now().Add(-20 * time.Minute)
	for _, id := range ids {
		_, err := client.DB().ExecContext(ctx, `UPDATE sessions SET created_at = $1 WHERE id = $2`, past, id)
		require.NoError(t, err)
	}

	n, err := m.DeleteGhostSessions(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 5)

	n, err = m.DeleteGhostSessions(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "a second prune run finds nothing")
}

func TestGhostPrunePreservesSessionsWithMessages(t *testing.T) {
	m, client := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "not a ghost", nil, nil)
	require.NoError(t, err)

	past := time.Now().Add(-1 * time.Hour)
	_, err = client.DB().ExecContext(ctx, `UPDATE sessions SET created_at = $1 WHERE id = $2`, past, sess.ID)
	require.NoError(t, err)

	_, err = m.DeleteGhostSessions(ctx, 15*time.Minute)
	require.NoError(t, err)

	_, err = m.GetSession(ctx, sess.ID)
	assert.NoError(t, err, "sessions with messages survive ghost pruning")
}

func TestPruneOldSessions(t *testing.T) {
	m, client := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, storage.SessionTypeChat, nil, nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, sess.ID, storage.RoleUser, "ancient history", nil, nil)
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	_, err = client.DB().ExecContext(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, past, sess.ID)
	require.NoError(t, err)

	t.Run("dry run counts without archiving", func(t *testing.T) {
		n, err := m.PruneOldSessions(ctx, 1, true)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		_, err = m.GetSession(ctx, sess.ID)
		assert.NoError(t, err)
	})

	t.Run("real run archives", func(t *testing.T) {
		n, err := m.PruneOldSessions(ctx, 1, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		_, err = m.GetSession(ctx, sess.ID)
		assert.Error(t, err)
		archived, err := m.GetArchivedSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, archived.ID)
	})
}
