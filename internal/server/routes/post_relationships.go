package routes

import (
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/ingest/backend/pkg/graph"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// CreateRelationshipHandler stores a curator-defined edge.
func CreateRelationshipHandler(c echo.Context) error {
	type entityBody struct {
		Kind string `json:"kind" validate:"required"`
		ID   string `json:"id" validate:"required"`
	}

	type createRelationshipBody struct {
		Source      entityBody `json:"source"`
		Target      entityBody `json:"target"`
		Type        string     `json:"relationship_type" validate:"required"`
		Strength    *float64   `json:"strength"`
		Confidence  *float64   `json:"confidence"`
		ContextText *string    `json:"context_text"`
	}

	data := new(createRelationshipBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	source := ingest.EntityRef{Kind: data.Source.Kind, ID: data.Source.ID}
	target := ingest.EntityRef{Kind: data.Target.Kind, ID: data.Target.ID}
	for _, ref := range []ingest.EntityRef{source, target} {
		if err := checkFileEndpoint(c, ref); err != nil {
			return respondError(c, err)
		}
	}

	rel, err := appEngine(c).Graph.AddRelationship(c.Request().Context(), graph.AddParams{
		Source:      source,
		Target:      target,
		Type:        data.Type,
		Strength:    data.Strength,
		ContextText: data.ContextText,
		Confidence:  data.Confidence,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, rel)
}

// checkFileEndpoint makes sure file endpoints exist and are visible to the
// caller.
func checkFileEndpoint(c echo.Context, ref ingest.EntityRef) error {
	if ref.Kind != ingest.EntityKindFile {
		return nil
	}
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return fmt.Errorf("%w: malformed file id %q", ingest.ErrInvalidInput, ref.ID)
	}
	_, err = visibleFile(c, id)
	return err
}
