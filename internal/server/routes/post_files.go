package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/registry"

	"github.com/labstack/echo/v4"
)

// UploadFileHandler registers an uploaded file, or returns the existing file
// with the same content.
func UploadFileHandler(c echo.Context) error {
	type uploadFileResponse struct {
		Message       string       `json:"message"`
		File          *ingest.File `json:"file,omitempty"`
		IsDuplicate   bool         `json:"is_duplicate"`
		CorrelationID string       `json:"correlation_id,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	engine := cc.App.Engine
	ctx := c.Request().Context()

	header, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadFileResponse{
			Message: "Missing file",
		})
	}
	if limit := engine.Config.MaxFileSize; limit > 0 && header.Size > limit {
		return respondError(c, fmt.Errorf("%w: %d bytes exceeds %d", ingest.ErrInvalidSize, header.Size, limit))
	}

	src, err := header.Open()
	if err != nil {
		return respondError(c, err)
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return respondError(c, err)
	}

	name := c.FormValue("original_filename")
	if name == "" {
		name = header.Filename
	}

	var metadata map[string]any
	if raw := c.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return c.JSON(http.StatusBadRequest, uploadFileResponse{
				Message: "Invalid metadata",
			})
		}
	}

	process := false
	if raw := c.FormValue("process"); raw != "" {
		process, err = strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, uploadFileResponse{
				Message: "Invalid process flag",
			})
		}
	}

	res, err := engine.Registry.Submit(ctx, registry.SubmitParams{
		Content:      content,
		OriginalName: name,
		DeclaredType: ingest.FileType(c.FormValue("file_type")),
		MimeType:     header.Header.Get(echo.HeaderContentType),
		Owner:        middleware.Owner(cc.User),
		Metadata:     metadata,
		Store:        engine.Blobs.Put,
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := uploadFileResponse{
		Message:     "File uploaded",
		File:        &res.File,
		IsDuplicate: !res.IsNew,
	}
	if !res.IsNew {
		resp.Message = "File already exists"
		// The existing record belongs to whoever uploaded it first.
		if !middleware.CanViewFile(cc.User, res.File) {
			resp.File = nil
		}
	}

	if process && res.IsNew && cc.App.Queue != nil {
		id, err := cc.App.Queue.EnqueueProcessing(ctx, res.File.ID, "upload")
		if err != nil {
			// The file is registered; processing can be requested again.
			logger.Error("[API] Failed to enqueue processing", "file", res.File.ID, "err", err)
		} else {
			resp.CorrelationID = id
		}
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	return c.JSON(status, resp)
}

// ProcessFileHandler schedules processing of a file.
func ProcessFileHandler(c echo.Context) error {
	type processFileResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}

	active, err := cc.App.Engine.Sessions.Active(ctx, file.ID)
	if err != nil {
		return respondError(c, err)
	}
	if active != nil {
		return respondError(c, ingest.ErrConcurrentSessionExists)
	}

	if cc.App.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, processFileResponse{
			Message: "Processing is not available",
		})
	}
	id, err := cc.App.Queue.EnqueueProcessing(ctx, file.ID, "request")
	if errors.Is(err, middleware.ErrQueueFull) {
		return c.JSON(http.StatusServiceUnavailable, processFileResponse{
			Message: "Processing queue is full, try again later",
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, processFileResponse{
		Message:       "Processing scheduled",
		CorrelationID: id,
	})
}
