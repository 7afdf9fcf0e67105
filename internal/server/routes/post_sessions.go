package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// CancelSessionHandler cancels a queued or processing session. A running
// pipeline notices the cancellation before its next step.
func CancelSessionHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()
	sessions := cc.App.Engine.Sessions

	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	sess, err := sessions.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := visibleFile(c, sess.FileID); err != nil {
		return respondError(c, err)
	}

	sess, err = sessions.Cancel(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}
