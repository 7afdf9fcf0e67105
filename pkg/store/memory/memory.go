// Package memory provides a thread-safe in-memory implementation of
// store.Store. It backs the engine tests and local development runs
// (STORE=memory); uniqueness rules are enforced under a single lock so the
// check and the insert can never interleave with another writer.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
)

type tagKey struct {
	fileID   uuid.UUID
	name     string
	category string
}

// Store is an in-memory store.Store. The zero value is not usable, call New.
type Store struct {
	mu sync.RWMutex

	files         map[uuid.UUID]ingest.File
	byFingerprint map[string]uuid.UUID
	extractions   map[uuid.UUID][]ingest.ContentExtraction
	sessions      map[uuid.UUID]ingest.ProcessingSession
	sessionOrder  map[uuid.UUID][]uuid.UUID
	relationships []ingest.Relationship
	tags          map[tagKey]ingest.Tag
	corpus        map[ingest.EntityRef]ingest.CorpusEntity

	lastTime time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		files:         make(map[uuid.UUID]ingest.File),
		byFingerprint: make(map[string]uuid.UUID),
		extractions:   make(map[uuid.UUID][]ingest.ContentExtraction),
		sessions:      make(map[uuid.UUID]ingest.ProcessingSession),
		sessionOrder:  make(map[uuid.UUID][]uuid.UUID),
		tags:          make(map[tagKey]ingest.Tag),
		corpus:        make(map[ingest.EntityRef]ingest.CorpusEntity),
	}
}

// now returns strictly increasing timestamps so creation order is total.
// Callers must hold mu.
func (s *Store) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Nanosecond)
	}
	s.lastTime = t
	return t
}

func (s *Store) InsertFileIfAbsent(ctx context.Context, file ingest.File) (ingest.File, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFingerprint[file.Fingerprint]; ok {
		return copyFile(s.files[id]), false, nil
	}

	if file.ID == uuid.Nil {
		file.ID = store.NewID()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = s.now()
	}
	file = copyFile(file)
	s.files[file.ID] = file
	s.byFingerprint[file.Fingerprint] = file.ID
	return copyFile(file), true, nil
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (ingest.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return ingest.File{}, ingest.ErrNotFound
	}
	return copyFile(f), nil
}

func (s *Store) GetFileByFingerprint(ctx context.Context, fingerprint string) (ingest.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byFingerprint[fingerprint]
	if !ok {
		return ingest.File{}, ingest.ErrNotFound
	}
	return copyFile(s.files[id]), nil
}

func (s *Store) UpdateFile(ctx context.Context, id uuid.UUID, fn func(*ingest.File) error) (ingest.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return ingest.File{}, ingest.ErrNotFound
	}
	f = copyFile(f)
	if err := fn(&f); err != nil {
		return ingest.File{}, err
	}
	s.files[id] = copyFile(f)
	return f, nil
}

func (s *Store) InsertExtraction(ctx context.Context, extraction ingest.ContentExtraction) (ingest.ContentExtraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[extraction.FileID]; !ok {
		return ingest.ContentExtraction{}, ingest.ErrNotFound
	}
	if extraction.ID == uuid.Nil {
		extraction.ID = store.NewID()
	}
	extraction.CreatedAt = s.now()
	s.extractions[extraction.FileID] = append(s.extractions[extraction.FileID], extraction)
	return extraction, nil
}

func (s *Store) LatestExtraction(ctx context.Context, fileID uuid.UUID) (ingest.ContentExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.extractions[fileID]
	if len(list) == 0 {
		return ingest.ContentExtraction{}, ingest.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *Store) ListExtractions(ctx context.Context, fileID uuid.UUID) ([]ingest.ContentExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := slices.Clone(s.extractions[fileID])
	slices.Reverse(list)
	return list, nil
}

func (s *Store) InsertSessionIfNoneActive(ctx context.Context, session ingest.ProcessingSession) (ingest.ProcessingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[session.FileID]; !ok {
		return ingest.ProcessingSession{}, ingest.ErrNotFound
	}
	for _, id := range s.sessionOrder[session.FileID] {
		if !s.sessions[id].Status.Terminal() {
			return ingest.ProcessingSession{}, ingest.ErrConcurrentSessionExists
		}
	}

	if session.ID == uuid.Nil {
		session.ID = store.NewID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = s.now()
	}
	session = copySession(session)
	s.sessions[session.ID] = session
	s.sessionOrder[session.FileID] = append(s.sessionOrder[session.FileID], session.ID)
	return copySession(session), nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (ingest.ProcessingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ingest.ProcessingSession{}, ingest.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession) error) (ingest.ProcessingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ingest.ProcessingSession{}, ingest.ErrNotFound
	}
	sess = copySession(sess)
	if err := fn(&sess); err != nil {
		return ingest.ProcessingSession{}, err
	}
	s.sessions[id] = copySession(sess)
	return sess, nil
}

func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, fn func(*ingest.ProcessingSession, *ingest.File) error) (ingest.ProcessingSession, ingest.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ingest.ProcessingSession{}, ingest.File{}, ingest.ErrNotFound
	}
	f, ok := s.files[sess.FileID]
	if !ok {
		return ingest.ProcessingSession{}, ingest.File{}, ingest.ErrNotFound
	}
	sess = copySession(sess)
	f = copyFile(f)
	if err := fn(&sess, &f); err != nil {
		return ingest.ProcessingSession{}, ingest.File{}, err
	}
	s.sessions[id] = copySession(sess)
	s.files[f.ID] = copyFile(f)
	return sess, f, nil
}

func (s *Store) ListSessions(ctx context.Context, fileID uuid.UUID) ([]ingest.ProcessingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sessionOrder[fileID]
	out := make([]ingest.ProcessingSession, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, copySession(s.sessions[ids[i]]))
	}
	return out, nil
}

func (s *Store) ActiveSession(ctx context.Context, fileID uuid.UUID) (ingest.ProcessingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.sessionOrder[fileID] {
		if sess := s.sessions[id]; !sess.Status.Terminal() {
			return copySession(sess), nil
		}
	}
	return ingest.ProcessingSession{}, ingest.ErrNotFound
}

func (s *Store) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]ingest.ProcessingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ingest.ProcessingSession
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() && sess.StartedAt.Before(startedBefore) {
			out = append(out, copySession(sess))
		}
	}
	slices.SortFunc(out, func(a, b ingest.ProcessingSession) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out, nil
}

func (s *Store) InsertRelationship(ctx context.Context, rel ingest.Relationship) (ingest.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range []ingest.EntityRef{rel.Source, rel.Target} {
		if ref.Kind != ingest.EntityKindFile {
			continue
		}
		id, err := uuid.Parse(ref.ID)
		if err != nil {
			return ingest.Relationship{}, ingest.ErrNotFound
		}
		if _, ok := s.files[id]; !ok {
			return ingest.Relationship{}, ingest.ErrNotFound
		}
	}

	if rel.ID == uuid.Nil {
		rel.ID = store.NewID()
	}
	rel.CreatedAt = s.now()
	s.relationships = append(s.relationships, rel)
	return rel, nil
}

func (s *Store) ListRelationships(ctx context.Context, query store.RelationshipQuery) ([]ingest.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ingest.Relationship, 0)
	for _, rel := range s.relationships {
		if !matchesDirection(rel, query.Entity, query.Direction) {
			continue
		}
		if len(query.Types) > 0 && !slices.Contains(query.Types, rel.Type) {
			continue
		}
		if query.After != nil && !after(rel, *query.After) {
			continue
		}
		out = append(out, rel)
		if query.Limit > 0 && len(out) == query.Limit {
			break
		}
	}
	return out, nil
}

func matchesDirection(rel ingest.Relationship, ref ingest.EntityRef, dir ingest.Direction) bool {
	switch dir {
	case ingest.DirectionOutgoing:
		return rel.Source == ref
	case ingest.DirectionIncoming:
		return rel.Target == ref
	default:
		return rel.Source == ref || rel.Target == ref
	}
}

func after(rel ingest.Relationship, c store.Cursor) bool {
	if cmp := rel.CreatedAt.Compare(c.CreatedAt); cmp != 0 {
		return cmp > 0
	}
	return strings.Compare(rel.ID.String(), c.ID.String()) > 0
}

func (s *Store) UpsertTag(ctx context.Context, tag ingest.Tag) (ingest.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[tag.FileID]; !ok {
		return ingest.Tag{}, ingest.ErrNotFound
	}

	key := tagKey{fileID: tag.FileID, name: tag.Name, category: tag.Category}
	now := s.now()
	if existing, ok := s.tags[key]; ok {
		existing.Confidence = tag.Confidence
		existing.UpdatedAt = now
		s.tags[key] = existing
		return existing, nil
	}

	if tag.ID == uuid.Nil {
		tag.ID = store.NewID()
	}
	tag.CreatedAt = now
	tag.UpdatedAt = now
	s.tags[key] = tag
	return tag, nil
}

func (s *Store) ListTags(ctx context.Context, fileID uuid.UUID) ([]ingest.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ingest.Tag, 0)
	for key, tag := range s.tags {
		if key.fileID == fileID {
			out = append(out, tag)
		}
	}
	slices.SortFunc(out, func(a, b ingest.Tag) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) ListFilesByTag(ctx context.Context, name string, category string) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uuid.UUID, 0)
	for key := range s.tags {
		if key.name == name && (category == "" || key.category == category) {
			if !slices.Contains(out, key.fileID) {
				out = append(out, key.fileID)
			}
		}
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out, nil
}

func (s *Store) UpsertCorpusEntity(ctx context.Context, entity ingest.CorpusEntity) (ingest.CorpusEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.corpus[entity.Ref]; ok {
		existing.Name = entity.Name
		existing.Description = entity.Description
		s.corpus[entity.Ref] = existing
		return existing, nil
	}
	entity.CreatedAt = s.now()
	s.corpus[entity.Ref] = entity
	return entity, nil
}

func (s *Store) GetCorpusEntity(ctx context.Context, ref ingest.EntityRef) (ingest.CorpusEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.corpus[ref]
	if !ok {
		return ingest.CorpusEntity{}, ingest.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListCorpusEntities(ctx context.Context, offset int, limit int) ([]ingest.CorpusEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := slices.Collect(maps.Values(s.corpus))
	slices.SortFunc(all, func(a, b ingest.CorpusEntity) int {
		if c := strings.Compare(a.Ref.Kind, b.Ref.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.Ref.ID, b.Ref.ID)
	})
	if offset >= len(all) {
		return []ingest.CorpusEntity{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func copyFile(f ingest.File) ingest.File {
	f.Metadata = maps.Clone(f.Metadata)
	if f.Owner != nil {
		owner := *f.Owner
		f.Owner = &owner
	}
	if f.ProcessedAt != nil {
		t := *f.ProcessedAt
		f.ProcessedAt = &t
	}
	return f
}

func copySession(s ingest.ProcessingSession) ingest.ProcessingSession {
	s.Steps = slices.Clone(s.Steps)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	if s.ErrorMessage != nil {
		m := *s.ErrorMessage
		s.ErrorMessage = &m
	}
	if s.DurationMs != nil {
		d := *s.DurationMs
		s.DurationMs = &d
	}
	return s
}
