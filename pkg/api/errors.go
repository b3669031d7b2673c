package api

import (
	"log/slog"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/ariacore/aria/pkg/coreerrors"
)

// writeError converts any error into the uniform transport envelope
// (spec §7) with a fresh correlation id, logging it with context before
// it crosses the boundary — silent swallowing is prohibited.
func writeError(c echo.Context, err error) error {
	correlationID := uuid.NewString()
	env, status := coreerrors.Envelop(err, correlationID)
	slog.Error("request failed", "error", err, "correlation_id", correlationID, "status", status, "path", c.Request().URL.Path)
	return c.JSON(status, env)
}
