package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"
)

// listModelsHandler implements GET /models (spec §6): the configured
// model catalog, sorted by id for a stable response ordering.
func (s *Server) listModelsHandler(c echo.Context) error {
	models := s.cfg.ModelRegistry.GetAll()

	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ModelResponse, 0, len(ids))
	for _, id := range ids {
		m := models[id]
		out = append(out, ModelResponse{
			ID:              id,
			DisplayName:     m.DisplayName,
			Tier:            string(m.Tier),
			MaxRPM:          m.MaxRPM,
			MaxTPD:          m.MaxTPD,
			CooldownSeconds: m.CooldownSeconds,
		})
	}
	return c.JSON(http.StatusOK, out)
}
