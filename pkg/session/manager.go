package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/storage"
)

// SlowTitleTimeout bounds the asynchronous slow-title LLM call (spec
// §4.1): if it hasn't completed within this window, the quick title
// stands.
const SlowTitleTimeout = 5 * time.Second

// Manager owns the session and message collections exclusively (spec §3
// Ownership paragraph) and implements every operation from spec §4.1.
// Per-session mutexes serialize message appends so the strictly-
// increasing sequence invariant holds under concurrent writers (spec §5).
type Manager struct {
	sessions   *storage.SessionRepo
	messages   *storage.MessageRepo
	archive    *storage.ArchiveRepo
	retention  *config.RetentionConfig
	summarizer Summarizer // nil disables the slow-title path (tests)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager wires a Manager over the persistence gateway's session
// partition. summarizer may be nil, in which case only the quick title
// is ever set.
func NewManager(sessions *storage.SessionRepo, messages *storage.MessageRepo, archive *storage.ArchiveRepo, retention *config.RetentionConfig, summarizer Summarizer) *Manager {
	if retention == nil {
		retention = config.DefaultRetentionConfig()
	}
	return &Manager{
		sessions:   sessions,
		messages:   messages,
		archive:    archive,
		retention:  retention,
		summarizer: summarizer,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// CreateSession creates a session with message_count=0. Per spec §4.1,
// callers invoke this lazily on the first user message, never eagerly
// on page load — that discipline belongs to the chat engine calling in,
// not to this method.
func (m *Manager) CreateSession(ctx context.Context, typ storage.SessionType, agentID, modelID *string) (*Session, error) {
	s := &Session{Type: typ, AgentID: agentID, ModelID: modelID}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AppendMessage assigns the next strictly increasing sequence number and
// inserts the message atomically with the session's message_count bump.
// Fails with ErrNotFound if the session is archived or deleted.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, role storage.MessageRole, content string, agentID, modelID *string) (*Message, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := m.sessions.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := m.messages.NextSeq(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	msg := &Message{SessionID: sessionID, Seq: seq, Role: role, Content: content, AgentID: agentID, ModelID: modelID}
	if err := m.messages.Insert(ctx, tx, msg); err != nil {
		return nil, err
	}

	if err := m.sessions.IncrementMessageCount(ctx, tx, sessionID); err != nil {
		if err == storage.ErrSessionNotFound {
			return nil, coreerrors.ErrNotFound
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if role == storage.RoleUser && seq == 1 {
		m.onFirstUserMessage(sessionID, content)
	}

	return msg, nil
}

// onFirstUserMessage implements spec §4.1's title lifecycle: synchronous
// quick title, then a fire-and-forget slow-title task that overwrites it
// on success within SlowTitleTimeout. Slash-command openers skip the
// slow path entirely (DESIGN.md Open Question #2) since there is no
// conversational topic to summarize.
func (m *Manager) onFirstUserMessage(sessionID, content string) {
	title := quickTitle(content)
	if title == "" {
		return
	}
	bg := context.Background()
	if err := m.sessions.UpdateTitle(bg, sessionID, title); err != nil {
		slog.Warn("quick title update failed", "session_id", sessionID, "error", err)
		return
	}

	if m.summarizer == nil || isSlashCommand(content) {
		return
	}

	go m.runSlowTitle(sessionID, content)
}

func (m *Manager) runSlowTitle(sessionID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), SlowTitleTimeout)
	defer cancel()

	title, err := m.summarizer.Summarize(ctx, sessionID, content)
	if err != nil {
		slog.Warn("slow title generation failed, quick title stands", "session_id", sessionID, "error", err)
		return
	}
	if title == "" {
		return
	}
	if err := m.sessions.UpdateTitle(context.Background(), sessionID, title); err != nil {
		slog.Warn("slow title persist failed", "session_id", sessionID, "error", err)
	}
}

// UpdateTitle is idempotent: a later call overwrites an earlier one.
// Exposed for callers (admin tooling) that need to set a title directly.
func (m *Manager) UpdateTitle(ctx context.Context, sessionID, title string) error {
	return m.sessions.UpdateTitle(ctx, sessionID, title)
}

// ListSessions supports the filter set named by spec §4.1. A nil Status
// filter on f defaults to excluding archived sessions (handled by the
// repository). Ghost is computed client-side as a derived annotation,
// not a stored status.
func (m *Manager) ListSessions(ctx context.Context, f Filter) ([]*Session, error) {
	return m.sessions.List(ctx, f)
}

// ListSessionsAfter is the keyset variant of ListSessions used by
// cursor pagination: active sessions with id > afterID, id ascending.
func (m *Manager) ListSessionsAfter(ctx context.Context, afterID string, limit int) ([]*Session, error) {
	return m.sessions.ListAfterID(ctx, afterID, limit)
}

// ListMessages returns a session's messages in sequence order.
func (m *Manager) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	return m.messages.ListBySession(ctx, sessionID)
}

// GetSession fetches one active session by id.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	return m.sessions.Get(ctx, id)
}

// ArchiveSession performs the all-or-nothing copy-then-delete from spec
// §4.1. Returns false (not an error) if the session did not exist,
// matching the idempotence law from spec §8: archiving twice is a no-op.
func (m *Manager) ArchiveSession(ctx context.Context, id string) (bool, error) {
	return m.archive.Archive(ctx, m.sessions, m.messages, id)
}

// DeleteSession permanently removes a session (and, via ON DELETE
// CASCADE, its messages) without copying it to the archive partition —
// used by Terminate when the caller does not ask for an archived
// disposal of an agent's bound session.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	tx, err := m.sessions.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.sessions.Delete(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetArchivedSession and ListArchivedMessages expose the archive
// partition's read path for GET /sessions/archive.
func (m *Manager) GetArchivedSession(ctx context.Context, id string) (*storage.ArchivedSession, error) {
	return m.archive.Get(ctx, id)
}

func (m *Manager) ListArchivedMessages(ctx context.Context, sessionID string) ([]*storage.ArchivedMessage, error) {
	return m.archive.ListMessages(ctx, sessionID)
}

// ListArchivedSessions returns a page of the archive partition, most
// recently archived first, for GET /sessions/archive.
func (m *Manager) ListArchivedSessions(ctx context.Context, limit, offset int) ([]*storage.ArchivedSession, error) {
	return m.archive.ListSessions(ctx, limit, offset)
}

// DeleteGhostSessions deletes sessions with message_count=0 created
// before now-olderThan. Tolerates the append race named in spec §5: a
// session that receives its first message between cutoff computation
// and the DELETE executing is preserved, because IncrementMessageCount
// only succeeds against an existing row and AppendMessage would then
// simply be racing a delete that already missed it.
func (m *Manager) DeleteGhostSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.sessions.DeleteGhosts(ctx, time.Now(), olderThan)
}

// PruneOldSessions archives every session whose updated_at is older than
// days, independent of ghost pruning. When dryRun is true, sessions are
// enumerated and logged but not archived, so an operator can preview the
// blast radius before committing to it.
func (m *Manager) PruneOldSessions(ctx context.Context, days int, dryRun bool) (int, error) {
	stale, err := m.sessions.StaleForPrune(ctx, time.Now(), days)
	if err != nil {
		return 0, err
	}
	if dryRun {
		slog.Info("prune_old_sessions dry run", "candidate_count", len(stale), "days", days)
		return len(stale), nil
	}

	archived := 0
	for _, s := range stale {
		ok, err := m.ArchiveSession(ctx, s.ID)
		if err != nil {
			slog.Error("prune_old_sessions: archive failed", "session_id", s.ID, "error", err)
			continue
		}
		if ok {
			archived++
		}
	}
	return archived, nil
}

// Ghosts lists sessions matching the derived ghost predicate using the
// configured GhostTTL, for GET /sessions list filtering and admin tooling.
func (m *Manager) Ghosts(ctx context.Context) ([]*Session, error) {
	return m.sessions.Ghosts(ctx, time.Now(), m.retention.GhostTTL)
}
