package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
)

const fileColumns = `id, fingerprint, original_filename, file_type, file_size, storage_path,
       upload_status, user_id, metadata, created_at, processed_at`

const insertFileSQL = `
INSERT INTO uploaded_files (id, fingerprint, original_filename, file_type, file_size,
                            storage_path, upload_status, user_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING ` + fileColumns + `;
`

const getFileSQL = `
SELECT ` + fileColumns + `
FROM uploaded_files
WHERE id = $1;
`

const getFileForUpdateSQL = `
SELECT ` + fileColumns + `
FROM uploaded_files
WHERE id = $1
FOR UPDATE;
`

const getFileByFingerprintSQL = `
SELECT ` + fileColumns + `
FROM uploaded_files
WHERE fingerprint = $1;
`

const updateFileSQL = `
UPDATE uploaded_files
SET upload_status = $2,
    processed_at  = $3,
    metadata      = $4
WHERE id = $1;
`

func scanFile(row pgxv5.Row) (ingest.File, error) {
	var (
		f            ingest.File
		fileType     string
		status       string
		metadataJSON map[string]any
	)
	err := row.Scan(
		&f.ID, &f.Fingerprint, &f.OriginalName, &fileType, &f.ByteSize, &f.StorageLocator,
		&status, &f.Owner, &metadataJSON, &f.CreatedAt, &f.ProcessedAt,
	)
	if err != nil {
		return ingest.File{}, err
	}
	f.DeclaredType = ingest.FileType(fileType)
	f.Status = ingest.FileStatus(status)
	f.Metadata = metadataJSON
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return f, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (s *Store) InsertFileIfAbsent(ctx context.Context, file ingest.File) (ingest.File, bool, error) {
	if file.ID == uuid.Nil {
		file.ID = store.NewID()
	}
	if file.Status == "" {
		file.Status = ingest.FileStatusPending
	}

	stored, err := scanFile(s.conn.QueryRow(ctx, insertFileSQL,
		file.ID, file.Fingerprint, file.OriginalName, string(file.DeclaredType), file.ByteSize,
		file.StorageLocator, string(file.Status), file.Owner, metadataOrEmpty(file.Metadata),
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgxv5.ErrNoRows) {
		return ingest.File{}, false, mapError(err)
	}

	// The fingerprint already exists; the winning row is committed by now.
	existing, err := s.GetFileByFingerprint(ctx, file.Fingerprint)
	if err != nil {
		return ingest.File{}, false, err
	}
	return existing, false, nil
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (ingest.File, error) {
	f, err := scanFile(s.conn.QueryRow(ctx, getFileSQL, id))
	return f, mapError(err)
}

func (s *Store) GetFileByFingerprint(ctx context.Context, fingerprint string) (ingest.File, error) {
	f, err := scanFile(s.conn.QueryRow(ctx, getFileByFingerprintSQL, fingerprint))
	return f, mapError(err)
}

func (s *Store) UpdateFile(ctx context.Context, id uuid.UUID, fn func(*ingest.File) error) (ingest.File, error) {
	var out ingest.File
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		f, err := scanFile(tx.QueryRow(ctx, getFileForUpdateSQL, id))
		if err != nil {
			return mapError(err)
		}
		if err := fn(&f); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateFileSQL, f.ID, string(f.Status), f.ProcessedAt, metadataOrEmpty(f.Metadata)); err != nil {
			return mapError(err)
		}
		out = f
		return nil
	})
	if err != nil {
		return ingest.File{}, err
	}
	return out, nil
}
