package pgx

import (
	"context"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	pgxv5 "github.com/jackc/pgx/v5"
)

const upsertCorpusEntitySQL = `
INSERT INTO corpus_entities (kind, entity_id, name, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (kind, entity_id) DO UPDATE
SET name        = EXCLUDED.name,
    description = EXCLUDED.description
RETURNING kind, entity_id, name, description, created_at;
`

const getCorpusEntitySQL = `
SELECT kind, entity_id, name, description, created_at
FROM corpus_entities
WHERE kind = $1 AND entity_id = $2;
`

const listCorpusEntitiesSQL = `
SELECT kind, entity_id, name, description, created_at
FROM corpus_entities
ORDER BY kind, entity_id
OFFSET $1
LIMIT $2;
`

func scanCorpusEntity(row pgxv5.Row) (ingest.CorpusEntity, error) {
	var e ingest.CorpusEntity
	err := row.Scan(&e.Ref.Kind, &e.Ref.ID, &e.Name, &e.Description, &e.CreatedAt)
	return e, err
}

func (s *Store) UpsertCorpusEntity(ctx context.Context, entity ingest.CorpusEntity) (ingest.CorpusEntity, error) {
	out, err := scanCorpusEntity(s.conn.QueryRow(ctx, upsertCorpusEntitySQL,
		entity.Ref.Kind, entity.Ref.ID, entity.Name, entity.Description,
	))
	return out, mapError(err)
}

func (s *Store) GetCorpusEntity(ctx context.Context, ref ingest.EntityRef) (ingest.CorpusEntity, error) {
	e, err := scanCorpusEntity(s.conn.QueryRow(ctx, getCorpusEntitySQL, ref.Kind, ref.ID))
	return e, mapError(err)
}

func (s *Store) ListCorpusEntities(ctx context.Context, offset int, limit int) ([]ingest.CorpusEntity, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.conn.Query(ctx, listCorpusEntitiesSQL, offset, lim)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]ingest.CorpusEntity, 0)
	for rows.Next() {
		e, err := scanCorpusEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
