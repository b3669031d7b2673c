package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/coreerrors"
)

func toAgentResponse(a agent.Agent) AgentResponse {
	return AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Role:        a.Role,
		PinnedModel: a.PinnedModel,
		SessionID:   a.SessionID,
		State:       string(a.State),
	}
}

// listAgentsHandler implements GET /agents (spec §4.3, §6): the live
// in-memory roster of spawned agents.
func (s *Server) listAgentsHandler(c echo.Context) error {
	agents := s.agents.List()
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	return c.JSON(http.StatusOK, out)
}

// spawnAgentHandler implements POST /agents/spawn (spec §4.3): creates a
// focused agent bound to a fresh session.
func (s *Server) spawnAgentHandler(c echo.Context) error {
	var req SpawnAgentRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}
	if req.Name == "" || req.Role == "" {
		return writeError(c, coreerrors.NewValidationError("name/role", "required"))
	}

	a, err := s.agents.SpawnAgent(c.Request().Context(), req.Name, req.Role, req.Instructions, req.Model)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toAgentResponse(*a))
}

// delegateAgentHandler implements POST /agents/delegate (spec §4.3):
// spawns a fresh agent, posts the task, and blocks until the
// agent completes, times out, or fails.
func (s *Server) delegateAgentHandler(c echo.Context) error {
	var req DelegateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}
	if req.Task == "" {
		return writeError(c, coreerrors.NewValidationError("task", "required"))
	}

	timeout := agent.DefaultDelegateTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}

	result, err := s.agents.DelegateTask(c.Request().Context(), req.Task, req.Role, req.Model, req.Context, timeout, req.Cleanup)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, DelegateResponse{
		AgentID:    result.AgentID,
		Model:      result.Model,
		Status:     string(result.Status),
		Result:     result.Result,
		TokensUsed: result.TokensUsed,
		DurationMS: result.DurationMS,
	})
}

// terminateAgentHandler implements DELETE /agents/{id} (spec §4.3): tears
// down an agent and, when requested, archives its bound session.
func (s *Server) terminateAgentHandler(c echo.Context) error {
	id := c.PathParam("id")
	archive := c.QueryParam("archive") == "true"
	if err := s.agents.Terminate(c.Request().Context(), id, archive); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
