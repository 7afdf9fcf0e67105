package pgx

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
)

const sessionColumns = `id, file_id, processing_status, processing_steps, started_at,
       completed_at, error_message, processing_time_ms`

// The partial unique index rejects a second queued or processing row.
const insertSessionSQL = `
INSERT INTO file_processing_sessions (id, file_id, processing_status, processing_steps, started_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + sessionColumns + `;
`

const getSessionSQL = `
SELECT ` + sessionColumns + `
FROM file_processing_sessions
WHERE id = $1;
`

const getSessionForUpdateSQL = `
SELECT ` + sessionColumns + `
FROM file_processing_sessions
WHERE id = $1
FOR UPDATE;
`

const updateSessionSQL = `
UPDATE file_processing_sessions
SET processing_status  = $2,
    processing_steps   = $3,
    completed_at       = $4,
    error_message      = $5,
    processing_time_ms = $6
WHERE id = $1;
`

const listSessionsSQL = `
SELECT ` + sessionColumns + `
FROM file_processing_sessions
WHERE file_id = $1
ORDER BY started_at DESC, id DESC;
`

const activeSessionSQL = `
SELECT ` + sessionColumns + `
FROM file_processing_sessions
WHERE file_id = $1
  AND processing_status IN ('queued', 'processing')
LIMIT 1;
`

const listStaleSessionsSQL = `
SELECT ` + sessionColumns + `
FROM file_processing_sessions
WHERE processing_status IN ('queued', 'processing')
  AND started_at < $1
ORDER BY started_at;
`

func scanSession(row pgxv5.Row) (ingest.ProcessingSession, error) {
	var (
		sess   ingest.ProcessingSession
		status string
		steps  []ingest.Step
	)
	err := row.Scan(
		&sess.ID, &sess.FileID, &status, &steps, &sess.StartedAt,
		&sess.CompletedAt, &sess.ErrorMessage, &sess.DurationMs,
	)
	if err != nil {
		return ingest.ProcessingSession{}, err
	}
	sess.Status = ingest.SessionStatus(status)
	sess.Steps = steps
	if sess.Steps == nil {
		sess.Steps = []ingest.Step{}
	}
	return sess, nil
}

func stepsOrEmpty(steps []ingest.Step) []ingest.Step {
	if steps == nil {
		return []ingest.Step{}
	}
	return steps
}

func (s *Store) InsertSessionIfNoneActive(ctx context.Context, session ingest.ProcessingSession) (ingest.ProcessingSession, error) {
	if session.ID == uuid.Nil {
		session.ID = store.NewID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	out, err := scanSession(s.conn.QueryRow(ctx, insertSessionSQL,
		session.ID, session.FileID, string(session.Status), stepsOrEmpty(session.Steps), session.StartedAt,
	))
	return out, mapError(err)
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, getSessionSQL, id))
	return sess, mapError(err)
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession) error) (ingest.ProcessingSession, error) {
	var out ingest.ProcessingSession
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		sess, err := scanSession(tx.QueryRow(ctx, getSessionForUpdateSQL, id))
		if err != nil {
			return mapError(err)
		}
		if err := fn(&sess); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, updateSessionSQL,
			sess.ID, string(sess.Status), stepsOrEmpty(sess.Steps),
			sess.CompletedAt, sess.ErrorMessage, sess.DurationMs,
		)
		if err != nil {
			return mapError(err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return ingest.ProcessingSession{}, err
	}
	return out, nil
}

// FinishSession locks the session row before the file row. UpdateFile only
// locks the file, so the two never wait on each other in opposite order.
func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession, *ingest.File) error) (ingest.ProcessingSession, ingest.File, error) {
	var (
		outSess ingest.ProcessingSession
		outFile ingest.File
	)
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		sess, err := scanSession(tx.QueryRow(ctx, getSessionForUpdateSQL, id))
		if err != nil {
			return mapError(err)
		}
		f, err := scanFile(tx.QueryRow(ctx, getFileForUpdateSQL, sess.FileID))
		if err != nil {
			return mapError(err)
		}
		if err := fn(&sess, &f); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, updateSessionSQL,
			sess.ID, string(sess.Status), stepsOrEmpty(sess.Steps),
			sess.CompletedAt, sess.ErrorMessage, sess.DurationMs,
		)
		if err != nil {
			return mapError(err)
		}
		if _, err := tx.Exec(ctx, updateFileSQL, f.ID, string(f.Status), f.ProcessedAt, metadataOrEmpty(f.Metadata)); err != nil {
			return mapError(err)
		}
		outSess, outFile = sess, f
		return nil
	})
	if err != nil {
		return ingest.ProcessingSession{}, ingest.File{}, err
	}
	return outSess, outFile, nil
}

func (s *Store) ListSessions(ctx context.Context, fileID uuid.UUID) ([]ingest.ProcessingSession, error) {
	return s.querySessions(ctx, listSessionsSQL, fileID)
}

func (s *Store) ActiveSession(ctx context.Context, fileID uuid.UUID) (ingest.ProcessingSession, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, activeSessionSQL, fileID))
	return sess, mapError(err)
}

func (s *Store) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]ingest.ProcessingSession, error) {
	return s.querySessions(ctx, listStaleSessionsSQL, startedBefore)
}

func (s *Store) querySessions(ctx context.Context, sql string, args ...any) ([]ingest.ProcessingSession, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]ingest.ProcessingSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
