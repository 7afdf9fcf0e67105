package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
)

const relationshipColumns = `id, source_kind, source_id, target_kind, target_id, relationship_type,
       relationship_strength, context_text, confidence_score, created_at`

const fileExistsSQL = `SELECT EXISTS (SELECT 1 FROM uploaded_files WHERE id = $1);`

const insertRelationshipSQL = `
INSERT INTO file_relationships (id, source_kind, source_id, target_kind, target_id,
                                relationship_type, relationship_strength, context_text,
                                confidence_score)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + relationshipColumns + `;
`

// $1, $2 identify the entity; the direction predicate is spliced in.
const listRelationshipsSQL = `
SELECT ` + relationshipColumns + `
FROM file_relationships
WHERE %s
  AND ($3::text[] IS NULL OR relationship_type = ANY($3))
  AND ($4::timestamptz IS NULL OR (created_at, id) > ($4, $5::uuid))
ORDER BY created_at, id
LIMIT $6;
`

const (
	outgoingPredicate = `(source_kind = $1 AND source_id = $2)`
	incomingPredicate = `(target_kind = $1 AND target_id = $2)`
)

func scanRelationship(row pgxv5.Row) (ingest.Relationship, error) {
	var r ingest.Relationship
	err := row.Scan(
		&r.ID, &r.Source.Kind, &r.Source.ID, &r.Target.Kind, &r.Target.ID, &r.Type,
		&r.Strength, &r.ContextText, &r.Confidence, &r.CreatedAt,
	)
	return r, err
}

func (s *Store) InsertRelationship(ctx context.Context, rel ingest.Relationship) (ingest.Relationship, error) {
	for _, ref := range []ingest.EntityRef{rel.Source, rel.Target} {
		if ref.Kind != ingest.EntityKindFile {
			continue
		}
		id, err := uuid.Parse(ref.ID)
		if err != nil {
			return ingest.Relationship{}, fmt.Errorf("%w: file %s", ingest.ErrNotFound, ref.ID)
		}
		var exists bool
		if err := s.conn.QueryRow(ctx, fileExistsSQL, id).Scan(&exists); err != nil {
			return ingest.Relationship{}, mapError(err)
		}
		if !exists {
			return ingest.Relationship{}, fmt.Errorf("%w: file %s", ingest.ErrNotFound, ref.ID)
		}
	}

	if rel.ID == uuid.Nil {
		rel.ID = store.NewID()
	}
	out, err := scanRelationship(s.conn.QueryRow(ctx, insertRelationshipSQL,
		rel.ID, rel.Source.Kind, rel.Source.ID, rel.Target.Kind, rel.Target.ID,
		rel.Type, rel.Strength, rel.ContextText, rel.Confidence,
	))
	return out, mapError(err)
}

func (s *Store) ListRelationships(ctx context.Context, query store.RelationshipQuery) ([]ingest.Relationship, error) {
	var predicate string
	switch query.Direction {
	case ingest.DirectionOutgoing:
		predicate = outgoingPredicate
	case ingest.DirectionIncoming:
		predicate = incomingPredicate
	default:
		predicate = "(" + outgoingPredicate + " OR " + incomingPredicate + ")"
	}

	var (
		types   []string
		afterAt *time.Time
		afterID *uuid.UUID
		limit   any
	)
	if len(query.Types) > 0 {
		types = query.Types
	}
	if query.After != nil {
		afterAt = &query.After.CreatedAt
		afterID = &query.After.ID
	}
	if query.Limit > 0 {
		limit = query.Limit
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf(listRelationshipsSQL, predicate),
		query.Entity.Kind, query.Entity.ID, types, afterAt, afterID, limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]ingest.Relationship, 0)
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
