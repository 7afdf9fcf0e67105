package routes

import (
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/pkg/graph"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/labstack/echo/v4"
)

// GetFileRelationshipsHandler lists the edges of a file. ?direction= selects
// outgoing, incoming or both; repeated ?type= filters by relationship type.
func GetFileRelationshipsHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)

	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}
	dir, ok := ingest.ParseDirection(c.QueryParam("direction"))
	if !ok {
		return respondError(c, fmt.Errorf("%w: unknown direction %q", ingest.ErrInvalidInput, c.QueryParam("direction")))
	}

	types := c.QueryParams()["type"]
	rels, err := graph.Collect(cc.App.Engine.Graph.RelationshipsFor(c.Request().Context(), ingest.FileRef(file.ID), dir, types...))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"relationships": rels})
}

// GetFileNeighborhoodHandler returns the one-hop neighborhood of a file.
func GetFileNeighborhoodHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)

	file, err := fileFromParam(c)
	if err != nil {
		return respondError(c, err)
	}
	n, err := cc.App.Engine.Graph.Neighborhood(c.Request().Context(), ingest.FileRef(file.ID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, n)
}
