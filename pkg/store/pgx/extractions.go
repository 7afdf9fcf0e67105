package pgx

import (
	"context"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
)

const extractionColumns = `id, file_id, extracted_text, content_length, language_code, encoding,
       extraction_method, extraction_confidence, created_at`

const insertExtractionSQL = `
INSERT INTO file_content (id, file_id, extracted_text, content_length, language_code,
                          encoding, extraction_method, extraction_confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + extractionColumns + `;
`

const latestExtractionSQL = `
SELECT ` + extractionColumns + `
FROM file_content
WHERE file_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1;
`

const listExtractionsSQL = `
SELECT ` + extractionColumns + `
FROM file_content
WHERE file_id = $1
ORDER BY created_at DESC, id DESC;
`

func scanExtraction(row pgxv5.Row) (ingest.ContentExtraction, error) {
	var e ingest.ContentExtraction
	err := row.Scan(
		&e.ID, &e.FileID, &e.Text, &e.Length, &e.LanguageCode, &e.Encoding,
		&e.Method, &e.Confidence, &e.CreatedAt,
	)
	return e, err
}

func (s *Store) InsertExtraction(ctx context.Context, extraction ingest.ContentExtraction) (ingest.ContentExtraction, error) {
	if extraction.ID == uuid.Nil {
		extraction.ID = store.NewID()
	}
	out, err := scanExtraction(s.conn.QueryRow(ctx, insertExtractionSQL,
		extraction.ID, extraction.FileID, extraction.Text, extraction.Length,
		extraction.LanguageCode, extraction.Encoding, extraction.Method, extraction.Confidence,
	))
	return out, mapError(err)
}

func (s *Store) LatestExtraction(ctx context.Context, fileID uuid.UUID) (ingest.ContentExtraction, error) {
	e, err := scanExtraction(s.conn.QueryRow(ctx, latestExtractionSQL, fileID))
	return e, mapError(err)
}

func (s *Store) ListExtractions(ctx context.Context, fileID uuid.UUID) ([]ingest.ContentExtraction, error) {
	rows, err := s.conn.Query(ctx, listExtractionsSQL, fileID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]ingest.ContentExtraction, 0)
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
