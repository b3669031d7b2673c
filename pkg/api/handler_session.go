package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/events"
	"github.com/ariacore/aria/pkg/storage"
)

func parseIntParam(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func toSessionResponse(s *storage.Session) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		Type:         string(s.Type),
		AgentID:      s.AgentID,
		ModelID:      s.ModelID,
		Title:        s.Title,
		MessageCount: s.MessageCount,
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// listSessionsHandler implements GET /sessions?type=&status=&limit=&offset=&order=
// (spec §6).
func (s *Server) listSessionsHandler(c echo.Context) error {
	f := storage.SessionFilter{
		Limit:     parseIntParam(c, "limit", 50),
		Offset:    parseIntParam(c, "offset", 0),
		OrderDesc: c.QueryParam("order") != "asc",
	}
	if t := c.QueryParam("type"); t != "" {
		typ := storage.SessionType(t)
		f.Type = &typ
	}
	if st := c.QueryParam("status"); st != "" {
		status := storage.SessionStatus(st)
		f.Status = &status
	}

	sessions, err := s.sessions.ListSessions(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	return c.JSON(http.StatusOK, out)
}

// listArchivedSessionsHandler implements GET /sessions/archive?limit=&offset=.
func (s *Server) listArchivedSessionsHandler(c echo.Context) error {
	limit := parseIntParam(c, "limit", 50)
	offset := parseIntParam(c, "offset", 0)

	archived, err := s.sessions.ListArchivedSessions(c.Request().Context(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]SessionResponse, 0, len(archived))
	for _, a := range archived {
		resp := toSessionResponse(&a.Session)
		archivedAt := a.ArchivedAt
		resp.ArchivedAt = &archivedAt
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

// archiveSessionHandler implements POST /sessions/{id}/archive.
func (s *Server) archiveSessionHandler(c echo.Context) error {
	id := c.PathParam("id")
	ctx := c.Request().Context()
	existed, err := s.sessions.ArchiveSession(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if existed && s.publisher != nil {
		_ = s.publisher.PublishSessionStatus(ctx, events.SessionStatusPayload{
			Type:      events.EventTypeSessionStatus,
			SessionID: id,
			Status:    events.SessionStatusArchived,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		})
	}
	return c.JSON(http.StatusOK, ArchiveSessionResponse{Status: "archived", SessionID: id})
}

// deleteGhostsHandler implements DELETE /sessions/ghosts?older_than_minutes=.
func (s *Server) deleteGhostsHandler(c echo.Context) error {
	minutes := parseIntParam(c, "older_than_minutes", 15)
	n, err := s.sessions.DeleteGhostSessions(c.Request().Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteGhostsResponse{Deleted: n})
}
