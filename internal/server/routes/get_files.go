package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/labstack/echo/v4"
)

const downloadLinkTTL = 15 * time.Minute

// GetFileHandler returns a file with its most recent processing session.
func GetFileHandler(c echo.Context) error {
	type getFileResponse struct {
		File          ingest.File               `json:"file"`
		LatestSession *ingest.ProcessingSession `json:"latest_session,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}

	sessions, err := cc.App.Engine.Sessions.ListForFile(c.Request().Context(), file.ID)
	if err != nil {
		return respondError(c, err)
	}

	resp := getFileResponse{File: file}
	if len(sessions) > 0 {
		resp.LatestSession = &sessions[0]
	}
	return c.JSON(http.StatusOK, resp)
}

// GetFileContentHandler returns the newest extraction of a file, or all of
// them with ?history=true.
func GetFileContentHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}

	history := false
	if raw := c.QueryParam("history"); raw != "" {
		history, _ = strconv.ParseBool(raw)
	}

	if history {
		all, err := cc.App.Engine.Extractions.History(ctx, file.ID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"extractions": all})
	}

	latest, err := cc.App.Engine.Extractions.LatestFor(ctx, file.ID)
	if err != nil {
		return respondError(c, err)
	}
	if latest == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No content extracted yet"})
	}
	return c.JSON(http.StatusOK, latest)
}

// GetFileSessionsHandler lists the processing sessions of a file, newest
// first.
func GetFileSessionsHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}

	sessions, err := cc.App.Engine.Sessions.ListForFile(c.Request().Context(), file.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// GetFileDownloadHandler returns a temporary link to the stored bytes.
func GetFileDownloadHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if cc.App.Links == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "Downloads are not available"})
	}

	url, err := cc.App.Links.DownloadLink(c.Request().Context(), file.StorageLocator, downloadLinkTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(downloadLinkTTL.Seconds()),
	})
}
