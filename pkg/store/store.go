package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/google/uuid"
)

// FileStore persists File records. InsertFileIfAbsent must be atomic with
// respect to fingerprint uniqueness: of several concurrent inserts with the
// same fingerprint exactly one reports created=true.
type FileStore interface {
	InsertFileIfAbsent(ctx context.Context, file ingest.File) (stored ingest.File, created bool, err error)
	GetFile(ctx context.Context, id uuid.UUID) (ingest.File, error)
	GetFileByFingerprint(ctx context.Context, fingerprint string) (ingest.File, error)
	// UpdateFile loads the file, applies fn and persists the result in one
	// atomic step. An error from fn aborts the update and is returned as is.
	UpdateFile(ctx context.Context, id uuid.UUID, fn func(*ingest.File) error) (ingest.File, error)
}

// ExtractionStore persists immutable ContentExtraction records.
type ExtractionStore interface {
	InsertExtraction(ctx context.Context, extraction ingest.ContentExtraction) (ingest.ContentExtraction, error)
	LatestExtraction(ctx context.Context, fileID uuid.UUID) (ingest.ContentExtraction, error)
	// ListExtractions returns all records of a file, newest first.
	ListExtractions(ctx context.Context, fileID uuid.UUID) ([]ingest.ContentExtraction, error)
}

// SessionStore persists ProcessingSession records. InsertSessionIfNoneActive
// must refuse, atomically, a second queued or processing session for the same
// file with ingest.ErrConcurrentSessionExists.
type SessionStore interface {
	InsertSessionIfNoneActive(ctx context.Context, session ingest.ProcessingSession) (ingest.ProcessingSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error)
	UpdateSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession) error) (ingest.ProcessingSession, error)
	// FinishSession applies fn to a session and its file and persists both in
	// one atomic step. An error from fn aborts both updates.
	FinishSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession, *ingest.File) error) (ingest.ProcessingSession, ingest.File, error)
	// ListSessions returns all sessions of a file, newest first.
	ListSessions(ctx context.Context, fileID uuid.UUID) ([]ingest.ProcessingSession, error)
	ActiveSession(ctx context.Context, fileID uuid.UUID) (ingest.ProcessingSession, error)
	ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]ingest.ProcessingSession, error)
}

// Cursor marks a position in the (created_at, id) ordering of relationships.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// RelationshipQuery selects the edges touching Entity. Types filters by
// relationship type when non-empty. After is exclusive.
type RelationshipQuery struct {
	Entity    ingest.EntityRef
	Direction ingest.Direction
	Types     []string
	After     *Cursor
	Limit     int
}

// RelationshipStore persists append-only graph edges.
type RelationshipStore interface {
	InsertRelationship(ctx context.Context, rel ingest.Relationship) (ingest.Relationship, error)
	// ListRelationships returns one page ordered by created_at, id ascending.
	ListRelationships(ctx context.Context, query RelationshipQuery) ([]ingest.Relationship, error)
}

// TagStore persists tags with (file_id, tag_name, tag_category) uniqueness.
type TagStore interface {
	UpsertTag(ctx context.Context, tag ingest.Tag) (ingest.Tag, error)
	ListTags(ctx context.Context, fileID uuid.UUID) ([]ingest.Tag, error)
	ListFilesByTag(ctx context.Context, name string, category string) ([]uuid.UUID, error)
}

// CorpusStore gives access to the pre-existing entity corpus.
type CorpusStore interface {
	UpsertCorpusEntity(ctx context.Context, entity ingest.CorpusEntity) (ingest.CorpusEntity, error)
	GetCorpusEntity(ctx context.Context, ref ingest.EntityRef) (ingest.CorpusEntity, error)
	// ListCorpusEntities pages through the corpus ordered by kind, id.
	ListCorpusEntities(ctx context.Context, offset int, limit int) ([]ingest.CorpusEntity, error)
}

// Store bundles every record kind of the engine.
type Store interface {
	FileStore
	ExtractionStore
	SessionStore
	RelationshipStore
	TagStore
	CorpusStore
}

// NewID returns a time-ordered record id.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
