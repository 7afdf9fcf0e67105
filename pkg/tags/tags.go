// Package tags attaches classification labels to files. A label is unique per
// (file, name, category); tagging again only replaces the confidence.
package tags

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
)

const maxNameLength = 100

type Index struct {
	tags store.TagStore
}

func New(tags store.TagStore) *Index {
	return &Index{tags: tags}
}

// Normalize lowercases and trims a tag name or category.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Upsert creates the tag or updates its confidence. An empty category means
// "user" and a nil confidence means 1.0.
func (i *Index) Upsert(ctx context.Context, fileID uuid.UUID, name string, category string, confidence *float64) (ingest.Tag, error) {
	name = Normalize(name)
	if name == "" {
		return ingest.Tag{}, fmt.Errorf("%w: tag name is empty", ingest.ErrInvalidInput)
	}
	if len([]rune(name)) > maxNameLength {
		return ingest.Tag{}, fmt.Errorf("%w: tag name longer than %d characters", ingest.ErrInvalidInput, maxNameLength)
	}
	category = Normalize(category)
	if category == "" {
		category = ingest.DefaultTagCategory
	}
	c := ingest.DefaultTagConfidence
	if confidence != nil {
		c = *confidence
	}
	if !ingest.InUnitRange(c) {
		return ingest.Tag{}, fmt.Errorf("%w: confidence %v outside [0,1]", ingest.ErrInvalidInput, c)
	}

	tag, err := i.tags.UpsertTag(ctx, ingest.Tag{
		ID:         store.NewID(),
		FileID:     fileID,
		Name:       name,
		Category:   category,
		Confidence: c,
	})
	if err != nil {
		return ingest.Tag{}, fmt.Errorf("failed to tag file %s: %w", fileID, err)
	}
	return tag, nil
}

// TagsFor returns the tags of a file ordered by category and name.
func (i *Index) TagsFor(ctx context.Context, fileID uuid.UUID) ([]ingest.Tag, error) {
	return i.tags.ListTags(ctx, fileID)
}

// FilesWithTag returns the ids of files carrying name, in any category when
// category is empty.
func (i *Index) FilesWithTag(ctx context.Context, name string, category string) ([]uuid.UUID, error) {
	name = Normalize(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is empty", ingest.ErrInvalidInput)
	}
	return i.tags.ListFilesByTag(ctx, name, Normalize(category))
}
