package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/storage"
)

// healthHandler implements GET /health (spec §6): unauthenticated,
// reports database liveness and process uptime, 503 when the database
// ping fails.
func (s *Server) healthHandler(c echo.Context) error {
	status, err := storage.Health(c.Request().Context(), s.db.DB())

	resp := HealthResponse{
		Status:   "ok",
		Database: "healthy",
		UptimeS:  int64(time.Since(s.startedAt).Seconds()),
	}
	if err != nil || status.Status != "healthy" {
		resp.Status = "unavailable"
		resp.Database = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	stats := s.cfg.Stats()
	components := &HealthComponents{
		DBOpenConns:      status.OpenConnections,
		DBInUse:          status.InUse,
		LiveAgents:       len(s.agents.List()),
		ConfiguredModels: stats.Models,
		CronJobs:         stats.CronJobs,
	}
	if s.connManager != nil {
		components.WSConnections = s.connManager.ActiveConnections()
	}
	resp.Components = components
	return c.JSON(http.StatusOK, resp)
}
