package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/labstack/echo/v4"
)

// GetFileTagsHandler lists the tags of a file.
func GetFileTagsHandler(c echo.Context) error {
	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}
	tags, err := appEngine(c).Tags.TagsFor(c.Request().Context(), file.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tags": tags})
}

// AddFileTagHandler adds a tag to a file or updates the confidence of an
// existing one.
func AddFileTagHandler(c echo.Context) error {
	type addTagBody struct {
		Name       string   `json:"tag_name" validate:"required"`
		Category   string   `json:"tag_category"`
		Confidence *float64 `json:"confidence"`
	}

	data := new(addTagBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}
	tag, err := appEngine(c).Tags.Upsert(c.Request().Context(), file.ID, data.Name, data.Category, data.Confidence)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tag)
}

// GetFilesByTagHandler lists the visible files carrying a tag, optionally
// restricted to ?category=.
func GetFilesByTagHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()
	engine := cc.App.Engine

	ids, err := engine.Tags.FilesWithTag(ctx, c.Param("name"), c.QueryParam("category"))
	if err != nil {
		return respondError(c, err)
	}

	files := make([]ingest.File, 0, len(ids))
	for _, id := range ids {
		f, err := engine.Registry.Get(ctx, id)
		if errors.Is(err, ingest.ErrNotFound) {
			continue
		}
		if err != nil {
			return respondError(c, err)
		}
		if middleware.CanViewFile(cc.User, f) {
			files = append(files, f)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"files": files})
}
