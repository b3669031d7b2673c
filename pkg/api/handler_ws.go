package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/orchestrator"
)

// wsCloseUnauthorized and friends are the application-level WebSocket
// close codes layered on top of the RFC 6455 range (spec §4.7): 4001 for
// a missing/invalid auth token, 4003 for a resource the caller is
// authenticated for but that doesn't exist or isn't theirs.
const (
	wsCloseUnauthorized = websocket.StatusCode(4001)
	wsCloseForbidden    = websocket.StatusCode(4003)
)

// wsChatHandler implements GET /ws/chat/{session_id} (spec §6): upgrades
// to a WebSocket and delegates to the shared ConnectionManager, which
// drives the generic subscribe/catchup protocol over Postgres
// LISTEN/NOTIFY. The caller is expected to subscribe to this session's
// channel once connected; a session_id that doesn't resolve closes the
// connection immediately with 4003 rather than silently accepting
// subscriptions to a channel nothing will ever publish on.
func (s *Server) wsChatHandler(c echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(503, "websocket not available")
	}

	sessionID := c.PathParam("session_id")
	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		conn, acceptErr := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{InsecureSkipVerify: true})
		if acceptErr != nil {
			return acceptErr
		}
		_ = conn.Close(wsCloseForbidden, "session not found")
		return nil
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(ctx, conn)
	return nil
}

// wsRoundtableHandler implements GET /ws/roundtable (spec §6): the
// client's first text frame is a RoundtableRequest naming the mode
// ("roundtable", "mini", or "swarm"); the handler runs it to completion
// and writes back one JSON result frame before closing normally. Unlike
// /ws/chat, a roundtable run has no ongoing Postgres channel to
// subscribe to — it's a single request/response exchange over a
// WebSocket so the caller can hold a live connection across a
// potentially long-running deliberation.
func (s *Server) wsRoundtableHandler(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request().Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil
	}

	var req RoundtableRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Topic == "" {
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid roundtable request")
		return nil
	}

	switch req.Mode {
	case "mini":
		result, err := s.orchestrator.RunMiniRoundtable(ctx, req.Agents, req.Topic)
		if err != nil {
			return s.wsWriteRoundtableError(ctx, conn, err)
		}
		return wsWriteJSON(ctx, conn, result)

	case "swarm":
		recap, err := s.orchestrator.RunSwarm(ctx, req.Preset, req.Topic)
		if err != nil {
			return s.wsWriteRoundtableError(ctx, conn, err)
		}
		return wsWriteJSON(ctx, conn, recap)

	default:
		result, err := s.orchestrator.RunRoundtable(ctx, req.Preset, req.Topic)
		if err != nil {
			return s.wsWriteRoundtableError(ctx, conn, err)
		}
		return wsWriteJSON(ctx, conn, result)
	}
}

func (s *Server) wsWriteRoundtableError(ctx context.Context, conn *websocket.Conn, err error) error {
	var unk *orchestrator.UnknownParticipantError
	msg := err.Error()
	if errors.As(err, &unk) {
		msg = "unknown participant alias: @" + unk.Alias
	}
	return wsWriteJSON(ctx, conn, map[string]string{"error": msg})
}

func wsWriteJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
