// Package session implements the Session Manager (spec §4.1): the sole
// owner of the session and message collections, providing create/append/
// list/archive/prune operations with the invariants from spec §3 and §8.
package session

import (
	"context"
	"strings"

	"github.com/ariacore/aria/pkg/storage"
)

// Session and Message are the storage-layer entities re-exported here so
// callers of this package never need to import pkg/storage directly for
// the types they already get back from a manager call.
type Session = storage.Session
type Message = storage.Message
type Filter = storage.SessionFilter

// Summarizer is the narrow interface the Session Manager depends on for
// the slow-title path (spec §4.1): "ask an LLM for a concise summary".
// The LLM Gateway sits at a higher layer than the Session Manager (it
// depends on the skill framework's circuit breaker store), so the
// manager never imports it directly — main wiring supplies an adapter.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string, firstMessage string) (title string, err error)
}

// quickTitle implements spec §4.1's synchronous quick-title rule: the
// first 8 whitespace-separated words, with an ellipsis if truncated.
func quickTitle(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return ""
	}
	if len(words) <= 8 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:8], " ") + "…"
}

// isSlashCommand reports whether content opens a chat-engine slash
// command (spec §9 Open Question #2: slow-title is skipped for these —
// there is no topic here for a model to summarize).
func isSlashCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "/")
}
