package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
)

// putCronJobHandler implements POST /cron and PATCH /cron/{id} (spec
// §4.5, §6): registers or replaces a cron job definition at runtime,
// rescheduling it against the live cron engine.
func (s *Server) putCronJobHandler(c echo.Context) error {
	var req CronJobRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}

	name := c.PathParam("id")
	if name == "" {
		name = req.Name
	}
	if name == "" || req.Schedule == "" || req.Skill == "" || req.Action == "" {
		return writeError(c, coreerrors.NewValidationError("name/schedule/skill/action", "required"))
	}

	def := &config.CronJobConfig{
		Schedule: req.Schedule,
		Skill:    req.Skill,
		Action:   req.Action,
		Model:    req.Model,
		Args:     req.Args,
	}
	if err := s.scheduler.PutJob(name, def); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, CronJobResponse{
		Name:     name,
		Schedule: def.Schedule,
		Skill:    def.Skill,
		Action:   def.Action,
		Model:    def.Model,
		Args:     def.Args,
	})
}

// listCronJobsHandler implements GET /cron (spec §6).
func (s *Server) listCronJobsHandler(c echo.Context) error {
	jobs := s.cfg.CronRegistry.GetAll()

	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]CronJobResponse, 0, len(names))
	for _, name := range names {
		def := jobs[name]
		out = append(out, CronJobResponse{
			Name:     name,
			Schedule: def.Schedule,
			Skill:    def.Skill,
			Action:   def.Action,
			Model:    def.Model,
			Args:     def.Args,
		})
	}
	return c.JSON(http.StatusOK, out)
}
