package pgx

import (
	"context"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
)

const tagColumns = `id, file_id, tag_name, tag_category, confidence_score, created_at, updated_at`

const upsertTagSQL = `
INSERT INTO file_tags (id, file_id, tag_name, tag_category, confidence_score)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (file_id, tag_name, tag_category) DO UPDATE
SET confidence_score = EXCLUDED.confidence_score,
    updated_at       = now()
RETURNING ` + tagColumns + `;
`

const listTagsSQL = `
SELECT ` + tagColumns + `
FROM file_tags
WHERE file_id = $1
ORDER BY tag_category, tag_name;
`

const listFilesByTagSQL = `
SELECT DISTINCT file_id
FROM file_tags
WHERE tag_name = $1
  AND ($2::text = '' OR tag_category = $2::text)
ORDER BY file_id;
`

func scanTag(row pgxv5.Row) (ingest.Tag, error) {
	var t ingest.Tag
	err := row.Scan(&t.ID, &t.FileID, &t.Name, &t.Category, &t.Confidence, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) UpsertTag(ctx context.Context, tag ingest.Tag) (ingest.Tag, error) {
	if tag.ID == uuid.Nil {
		tag.ID = store.NewID()
	}
	out, err := scanTag(s.conn.QueryRow(ctx, upsertTagSQL,
		tag.ID, tag.FileID, tag.Name, tag.Category, tag.Confidence,
	))
	return out, mapError(err)
}

func (s *Store) ListTags(ctx context.Context, fileID uuid.UUID) ([]ingest.Tag, error) {
	rows, err := s.conn.Query(ctx, listTagsSQL, fileID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]ingest.Tag, 0)
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListFilesByTag(ctx context.Context, name string, category string) ([]uuid.UUID, error) {
	rows, err := s.conn.Query(ctx, listFilesByTagSQL, name, category)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
