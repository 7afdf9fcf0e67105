package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"gopkg.in/yaml.v3"
)

const corpusChunk = 100

type corpusFile struct {
	Entities []struct {
		Kind        string `yaml:"kind"`
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"entities"`
}

// parseCorpus decodes a corpus document and checks every entity against the
// configured entity kinds.
func parseCorpus(data []byte, cfg ingest.Config) ([]ingest.CorpusEntity, error) {
	var doc corpusFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}

	seen := make(map[ingest.EntityRef]struct{}, len(doc.Entities))
	out := make([]ingest.CorpusEntity, 0, len(doc.Entities))
	for i, e := range doc.Entities {
		ref := ingest.EntityRef{
			Kind: strings.ToLower(strings.TrimSpace(e.Kind)),
			ID:   strings.TrimSpace(e.ID),
		}
		switch {
		case ref.ID == "":
			return nil, fmt.Errorf("%w: entity %d has no id", ingest.ErrInvalidInput, i)
		case ref.Kind == ingest.EntityKindFile || !cfg.AllowsEntityKind(ref.Kind):
			return nil, fmt.Errorf("%w: entity %s has unknown kind", ingest.ErrInvalidInput, ref)
		case strings.TrimSpace(e.Name) == "":
			return nil, fmt.Errorf("%w: entity %s has no name", ingest.ErrInvalidInput, ref)
		}
		if _, dup := seen[ref]; dup {
			return nil, fmt.Errorf("%w: entity %s listed twice", ingest.ErrInvalidInput, ref)
		}
		seen[ref] = struct{}{}
		out = append(out, ingest.CorpusEntity{
			Ref:         ref,
			Name:        strings.TrimSpace(e.Name),
			Description: strings.TrimSpace(e.Description),
		})
	}
	return out, nil
}

func loadCorpus(ctx context.Context, corpus store.CorpusStore, path string, cfg ingest.Config) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	entities, err := parseCorpus(data, cfg)
	if err != nil {
		return 0, err
	}
	done := 0
	for batch := range slices.Chunk(entities, corpusChunk) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		for _, e := range batch {
			if _, err := corpus.UpsertCorpusEntity(ctx, e); err != nil {
				return done, fmt.Errorf("failed to store %s: %w", e.Ref, err)
			}
			done++
		}
		logger.Debug("Stored corpus entities", "done", done, "total", len(entities))
	}
	return done, nil
}
