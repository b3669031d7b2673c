package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/storage"
)

// OrphanTimeout is how long a agent-bound chat session may sit with an
// unanswered last user message before it's considered orphaned by a
// crashed or killed pod.
const OrphanTimeout = 10 * time.Minute

// OrphanScanInterval is how often RunBackground's orphan sweep runs.
const OrphanScanInterval = 5 * time.Minute

// SessionStore is the narrow slice of the Session Manager the
// background task set needs. A subset of agent.SessionStore plus the
// retention operations pkg/session.Manager exposes directly.
type SessionStore interface {
	DeleteGhostSessions(ctx context.Context, olderThan time.Duration) (int, error)
	PruneOldSessions(ctx context.Context, days int, dryRun bool) (int, error)
	ListSessions(ctx context.Context, f storage.SessionFilter) ([]*storage.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]*storage.Message, error)
	ArchiveSession(ctx context.Context, id string) (bool, error)
}

// RunBackground launches the fixed-interval background task set (spec
// §4.5 SUPPLEMENTED FEATURES, grounded on the teacher's queue.WorkerPool
// lifecycle and orphan detection): ghost prune, old-session archive
// scan, orphan recovery, and a health heartbeat. Each task runs on its
// own ticker so a slow run of one never delays another. Stopped by
// cancelling ctx.
func (s *Scheduler) RunBackground(ctx context.Context, sessions SessionStore, retention *config.RetentionConfig) {
	if retention == nil {
		retention = config.DefaultRetentionConfig()
	}

	s.wg.Add(4)
	go s.runTicker(ctx, retention.GhostPruneInterval, func(ctx context.Context) {
		n, err := sessions.DeleteGhostSessions(ctx, retention.GhostTTL)
		if err != nil {
			slog.Error("ghost prune failed", "pod_id", s.PodID, "error", err)
			return
		}
		if n > 0 {
			slog.Info("ghost prune complete", "pod_id", s.PodID, "deleted", n)
		}
	})
	go s.runTicker(ctx, retention.ArchiveScanInterval, func(ctx context.Context) {
		n, err := sessions.PruneOldSessions(ctx, retention.SessionRetentionDays, false)
		if err != nil {
			slog.Error("archive scan failed", "pod_id", s.PodID, "error", err)
			return
		}
		if n > 0 {
			slog.Info("archive scan complete", "pod_id", s.PodID, "archived", n)
		}
	})
	go s.runTicker(ctx, s.OrphanScanInterval, func(ctx context.Context) {
		n, err := s.recoverOrphans(ctx, sessions)
		if err != nil {
			slog.Error("orphan recovery failed", "pod_id", s.PodID, "error", err)
			return
		}
		if n > 0 {
			slog.Info("orphan recovery complete", "pod_id", s.PodID, "recovered", n)
		}
	})
	go s.runTicker(ctx, retention.HealthHeartbeatInterval, func(ctx context.Context) {
		s.mu.Lock()
		jobCount := len(s.states)
		s.mu.Unlock()
		slog.Info("health heartbeat", "pod_id", s.PodID, "scheduled_jobs", jobCount)
	})
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, task func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			taskCtx, cancel := context.WithTimeout(context.Background(), interval)
			task(taskCtx)
			cancel()
		}
	}
}

// recoverOrphans finds chat sessions bound to an agent whose last
// message is an unanswered user turn older than OrphanTimeout — the
// signature of a pod that crashed mid-generation before delegate_task's
// own client-side timeout could record a result. Grounded on the
// teacher's detectAndRecoverOrphans, which resets stuck AlertSession
// rows so they can be re-claimed; Aria has no re-claim queue for
// in-memory agents, so recovery here means archiving the abandoned
// session rather than leaving it active and silently dead.
func (s *Scheduler) recoverOrphans(ctx context.Context, sessions SessionStore) (int, error) {
	chatType := storage.SessionTypeChat
	activeStatus := storage.SessionStatusActive
	candidates, err := sessions.ListSessions(ctx, storage.SessionFilter{
		Type:   &chatType,
		Status: &activeStatus,
		Limit:  500,
	})
	if err != nil {
		return 0, err
	}

	orphanAfter := s.OrphanTimeout
	if orphanAfter <= 0 {
		orphanAfter = OrphanTimeout
	}
	cutoff := time.Now().Add(-orphanAfter)
	recovered := 0
	for _, sess := range candidates {
		if sess.AgentID == nil || sess.MessageCount == 0 || sess.UpdatedAt.After(cutoff) {
			continue
		}
		msgs, err := sessions.ListMessages(ctx, sess.ID)
		if err != nil || len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		if last.Role != storage.RoleUser {
			continue
		}
		ok, err := sessions.ArchiveSession(ctx, sess.ID)
		if err != nil {
			slog.Warn("orphan recovery: archive failed", "session_id", sess.ID, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}
