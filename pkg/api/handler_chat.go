package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/events"
	"github.com/ariacore/aria/pkg/llmgateway"
	"github.com/ariacore/aria/pkg/orchestrator"
	"github.com/ariacore/aria/pkg/storage"
)

// parseSlashCommand recognizes the inline `/rt @a @b …topic` dispatch
// (spec §4.4): every whitespace-separated token opening with '@' is a
// participant alias, the remaining tokens join back into the topic.
func parseSlashCommand(content string) (cmd string, aliases []string, topic string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, "", false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	var topicWords []string
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "@") {
			aliases = append(aliases, strings.TrimPrefix(f, "@"))
		} else {
			topicWords = append(topicWords, f)
		}
	}
	return cmd, aliases, strings.Join(topicWords, " "), true
}

// conversationFor converts a session's persisted messages into the
// gateway's conversation shape, the same mapping the agent pool's
// runGeneration uses for a delegated task.
func conversationFor(msgs []*storage.Message) []llmgateway.ConversationMessage {
	conv := make([]llmgateway.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		conv = append(conv, llmgateway.ConversationMessage{Role: string(m.Role), Content: m.Content})
	}
	return conv
}

// resolveChatSession creates a session lazily if sessionID is empty
// (spec §4.1: "never on UI load"), otherwise fetches the existing one.
func (s *Server) resolveChatSession(ctx context.Context, sessionID, model string) (*storage.Session, error) {
	if sessionID != "" {
		return s.sessions.GetSession(ctx, sessionID)
	}
	var modelPtr *string
	if model != "" {
		modelPtr = &model
	}
	return s.sessions.CreateSession(ctx, storage.SessionTypeChat, nil, modelPtr)
}

// notifyMessage mirrors a persisted message onto the session's live
// channel. Best-effort: WebSocket delivery failing must never fail the
// HTTP request that owns the message.
func (s *Server) notifyMessage(ctx context.Context, m *storage.Message) {
	if s.publisher == nil || m == nil {
		return
	}
	payload := events.MessageCreatedPayload{
		Type:      events.EventTypeMessageCreated,
		MessageID: m.ID,
		SessionID: m.SessionID,
		Role:      string(m.Role),
		Status:    "completed",
		Content:   m.Content,
		Sequence:  m.Seq,
		Timestamp: m.CreatedAt.Format(time.RFC3339Nano),
	}
	if m.AgentID != nil {
		payload.AgentID = *m.AgentID
	}
	if m.ModelID != nil {
		payload.ModelID = *m.ModelID
	}
	_ = s.publisher.PublishMessageCreated(ctx, payload)
}

// chatHandler implements POST /chat (spec §6): posts a message to a
// session (created lazily if omitted), dispatching `/rt` mini-roundtable
// commands inline and otherwise calling the LLM Gateway for a single
// completion.
func (s *Server) chatHandler(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}
	if req.Message == "" {
		return writeError(c, coreerrors.NewValidationError("message", "required"))
	}

	ctx := c.Request().Context()
	sess, err := s.resolveChatSession(ctx, req.SessionID, req.Model)
	if err != nil {
		return writeError(c, err)
	}

	userMsg, err := s.sessions.AppendMessage(ctx, sess.ID, storage.RoleUser, req.Message, nil, nil)
	if err != nil {
		return writeError(c, err)
	}
	s.notifyMessage(ctx, userMsg)

	// The command message is persisted first so a slash opener still
	// quick-titles its session (the slow-title path skips it).
	if cmd, aliases, topic, isSlash := parseSlashCommand(req.Message); isSlash && cmd == "rt" {
		return s.handleMiniRoundtable(c, sess.ID, aliases, topic)
	}

	msgs, err := s.sessions.ListMessages(ctx, sess.ID)
	if err != nil {
		return writeError(c, err)
	}

	result, err := s.gateway.Complete(ctx, &llmgateway.CompletionRequest{
		SessionID:   sess.ID,
		Messages:    conversationFor(msgs),
		PinnedModel: req.Model,
	})
	if err != nil {
		return writeError(c, err)
	}

	modelID := result.ModelID
	assistantMsg, err := s.sessions.AppendMessage(ctx, sess.ID, storage.RoleAssistant, result.Content, nil, &modelID)
	if err != nil {
		return writeError(c, err)
	}
	s.notifyMessage(ctx, assistantMsg)

	return c.JSON(http.StatusOK, ChatResponse{
		SessionID: sess.ID,
		ModelID:   modelID,
		Content:   result.Content,
		Tokens:    result.TotalTokens,
	})
}

// handleMiniRoundtable dispatches `/rt` without creating a roundtable
// session when a participant alias is unknown (spec §4.4: "unknown
// aliases are reported back as an error message in the stream without
// creating a roundtable session"), posting the synthesis (or the error)
// back into the originating chat session.
func (s *Server) handleMiniRoundtable(c echo.Context, chatSessionID string, aliases []string, topic string) error {
	ctx := c.Request().Context()
	result, err := s.orchestrator.RunMiniRoundtable(ctx, aliases, topic)
	if err != nil {
		var unk *orchestrator.UnknownParticipantError
		msg := err.Error()
		if errors.As(err, &unk) {
			msg = fmt.Sprintf("unknown participant alias: @%s", unk.Alias)
		}
		if _, appendErr := s.sessions.AppendMessage(ctx, chatSessionID, storage.RoleSystem, msg, nil, nil); appendErr != nil {
			return writeError(c, appendErr)
		}
		return c.JSON(http.StatusOK, ChatResponse{SessionID: chatSessionID, Content: msg})
	}

	if _, err := s.sessions.AppendMessage(ctx, chatSessionID, storage.RoleAssistant, result.Synthesis, nil, nil); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ChatResponse{SessionID: chatSessionID, Content: result.Synthesis})
}

// chatStreamHandler implements POST /chat/stream (spec §6): server-sent
// events carrying `data:` frames per chunk, terminated by `event: done`
// or `event: error`.
func (s *Server) chatStreamHandler(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}
	if req.Message == "" {
		return writeError(c, coreerrors.NewValidationError("message", "required"))
	}

	ctx := c.Request().Context()
	sess, err := s.resolveChatSession(ctx, req.SessionID, req.Model)
	if err != nil {
		return writeError(c, err)
	}
	userMsg, err := s.sessions.AppendMessage(ctx, sess.ID, storage.RoleUser, req.Message, nil, nil)
	if err != nil {
		return writeError(c, err)
	}
	s.notifyMessage(ctx, userMsg)

	msgs, err := s.sessions.ListMessages(ctx, sess.ID)
	if err != nil {
		return writeError(c, err)
	}

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.Writer.(http.Flusher)
	w := bufio.NewWriter(resp)

	chunks, err := s.gateway.Stream(ctx, &llmgateway.CompletionRequest{
		SessionID:   sess.ID,
		Messages:    conversationFor(msgs),
		PinnedModel: req.Model,
	})
	if err != nil {
		writeSSEError(w, flusher, err.Error())
		return nil
	}

	var content strings.Builder
	var modelID string
	var totalTokens int
	for res := range chunks {
		modelID = res.ModelID
		switch ch := res.Chunk.(type) {
		case *llmgateway.TextChunk:
			content.WriteString(ch.Content)
			writeSSEData(w, flusher, map[string]string{"content": ch.Content})
			if s.publisher != nil {
				_ = s.publisher.PublishStreamChunk(ctx, events.StreamChunkPayload{
					Type:      events.EventTypeStreamChunk,
					SessionID: sess.ID,
					Delta:     ch.Content,
					Timestamp: time.Now().Format(time.RFC3339Nano),
				})
			}
		case *llmgateway.UsageChunk:
			totalTokens = ch.TotalTokens
		case *llmgateway.ErrorChunk:
			writeSSEError(w, flusher, ch.Message)
			return nil
		}
	}

	if content.Len() > 0 {
		assistantMsg, err := s.sessions.AppendMessage(ctx, sess.ID, storage.RoleAssistant, content.String(), nil, &modelID)
		if err != nil {
			writeSSEError(w, flusher, err.Error())
			return nil
		}
		if s.publisher != nil {
			_ = s.publisher.PublishMessageCompleted(ctx, events.MessageCompletedPayload{
				Type:       events.EventTypeMessageCompleted,
				MessageID:  assistantMsg.ID,
				SessionID:  sess.ID,
				Content:    content.String(),
				ModelID:    modelID,
				TokensUsed: totalTokens,
				Timestamp:  time.Now().Format(time.RFC3339Nano),
			})
		}
	}

	writeSSEEvent(w, flusher, "done", map[string]any{
		"session_id":  sess.ID,
		"model_id":    modelID,
		"tokens_used": totalTokens,
	})
	return nil
}

func writeSSEData(w *bufio.Writer, f http.Flusher, v any) {
	writeSSEEvent(w, f, "", v)
}

func writeSSEError(w *bufio.Writer, f http.Flusher, message string) {
	writeSSEEvent(w, f, "error", map[string]string{"message": message})
}

func writeSSEEvent(w *bufio.Writer, f http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
	if f != nil {
		f.Flush()
	}
}
