package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/ingest/backend/internal/app"
	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ErrorStatus maps engine errors to HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, ingest.ErrSelfLoop),
		errors.Is(err, ingest.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrInvalidTransition),
		errors.Is(err, ingest.ErrConcurrentSessionExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, err error) error {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("[API] Request failed", "path", c.Path(), "err", err)
		return c.JSON(status, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed %s", ingest.ErrInvalidInput, name)
	}
	return id, nil
}

// visibleFile loads a file the caller may see. Files of other owners are
// reported as not found.
func visibleFile(c echo.Context, id uuid.UUID) (ingest.File, error) {
	cc := c.(*middleware.AppContext)
	f, err := cc.App.Engine.Registry.Get(c.Request().Context(), id)
	if err != nil {
		return ingest.File{}, err
	}
	if !middleware.CanViewFile(cc.User, f) {
		return ingest.File{}, fmt.Errorf("%w: file %s", ingest.ErrNotFound, id)
	}
	return f, nil
}

func fileFromParam(c echo.Context) (ingest.File, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return ingest.File{}, err
	}
	return visibleFile(c, id)
}

func appEngine(c echo.Context) *app.Engine {
	return c.(*middleware.AppContext).App.Engine
}
