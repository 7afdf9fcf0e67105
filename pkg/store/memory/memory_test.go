package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/stretchr/testify/require"
)

func newFile(fp string) ingest.File {
	return ingest.File{
		Fingerprint:    fp,
		OriginalName:   "a.txt",
		DeclaredType:   ingest.FileTypeTXT,
		ByteSize:       5,
		StorageLocator: "anonymous/" + fp,
		Status:         ingest.FileStatusPending,
		Metadata:       map[string]any{},
	}
}

func TestInsertFileIfAbsentConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	created := make(chan bool, workers)
	ids := make(chan string, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, ok, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			created <- ok
			ids <- f.ID.String()
		}()
	}
	wg.Wait()
	close(created)
	close(ids)

	n := 0
	for ok := range created {
		if ok {
			n++
		}
	}
	require.Equal(t, 1, n)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1)
}

func TestUpdateFileAbortsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)

	_, err = s.UpdateFile(ctx, f.ID, func(f *ingest.File) error {
		f.Status = ingest.FileStatusFailed
		return ingest.ErrInvalidTransition
	})
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)

	got, err := s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusPending, got.Status)
}

func TestFinishSessionUpdatesBothOrNeither(t *testing.T) {
	s := New()
	ctx := context.Background()

	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)
	sess, err := s.InsertSessionIfNoneActive(ctx, ingest.ProcessingSession{FileID: f.ID, Status: ingest.SessionProcessing})
	require.NoError(t, err)

	_, _, err = s.FinishSession(ctx, sess.ID, func(ps *ingest.ProcessingSession, pf *ingest.File) error {
		ps.Status = ingest.SessionCompleted
		pf.Status = ingest.FileStatusProcessed
		return ingest.ErrInvalidTransition
	})
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	gotSess, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.SessionProcessing, gotSess.Status)
	gotFile, err := s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusPending, gotFile.Status)

	outSess, outFile, err := s.FinishSession(ctx, sess.ID, func(ps *ingest.ProcessingSession, pf *ingest.File) error {
		ps.Status = ingest.SessionCompleted
		pf.Status = ingest.FileStatusProcessed
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ingest.SessionCompleted, outSess.Status)
	require.Equal(t, ingest.FileStatusProcessed, outFile.Status)
	gotFile, err = s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusProcessed, gotFile.Status)

	_, _, err = s.FinishSession(ctx, store.NewID(), func(*ingest.ProcessingSession, *ingest.File) error { return nil })
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestReturnedFilesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)
	f.Metadata["title"] = "changed"

	got, err := s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.NotContains(t, got.Metadata, "title")
}

func TestInsertSessionIfNoneActiveConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertSessionIfNoneActive(ctx, ingest.ProcessingSession{
				FileID: f.ID,
				Status: ingest.SessionQueued,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case err == ingest.ErrConcurrentSessionExists:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, conflicts)
}

func TestInsertSessionUnknownFile(t *testing.T) {
	s := New()
	_, err := s.InsertSessionIfNoneActive(context.Background(), ingest.ProcessingSession{
		FileID: store.NewID(),
		Status: ingest.SessionQueued,
	})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestListRelationshipsPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)

	src := ingest.FileRef(f.ID)
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := s.InsertRelationship(ctx, ingest.Relationship{
			Source: src,
			Target: ingest.EntityRef{Kind: "rpe", ID: id},
			Type:   "references",
		})
		require.NoError(t, err)
	}
	_, err = s.InsertRelationship(ctx, ingest.Relationship{
		Source: ingest.EntityRef{Kind: "rpe", ID: "r9"},
		Target: src,
		Type:   "inspired",
	})
	require.NoError(t, err)

	page, err := s.ListRelationships(ctx, store.RelationshipQuery{
		Entity:    src,
		Direction: ingest.DirectionOutgoing,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "r1", page[0].Target.ID)

	last := page[len(page)-1]
	next, err := s.ListRelationships(ctx, store.RelationshipQuery{
		Entity:    src,
		Direction: ingest.DirectionOutgoing,
		After:     &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID},
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, "r3", next[0].Target.ID)

	in, err := s.ListRelationships(ctx, store.RelationshipQuery{Entity: src, Direction: ingest.DirectionIncoming})
	require.NoError(t, err)
	require.Len(t, in, 1)

	typed, err := s.ListRelationships(ctx, store.RelationshipQuery{
		Entity:    src,
		Direction: ingest.DirectionBoth,
		Types:     []string{"inspired"},
	})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	require.Equal(t, "r9", typed[0].Source.ID)
}

func TestInsertRelationshipUnknownFileEndpoint(t *testing.T) {
	s := New()
	_, err := s.InsertRelationship(context.Background(), ingest.Relationship{
		Source: ingest.FileRef(store.NewID()),
		Target: ingest.EntityRef{Kind: "rpe", ID: "r1"},
		Type:   "references",
	})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestUpsertTagKeepsIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	f, _, err := s.InsertFileIfAbsent(ctx, newFile("abc"))
	require.NoError(t, err)

	first, err := s.UpsertTag(ctx, ingest.Tag{FileID: f.ID, Name: "ml", Category: "user", Confidence: 0.4})
	require.NoError(t, err)
	second, err := s.UpsertTag(ctx, ingest.Tag{FileID: f.ID, Name: "ml", Category: "user", Confidence: 0.9})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 0.9, second.Confidence)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	tags, err := s.ListTags(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	files, err := s.ListFilesByTag(ctx, "ml", "")
	require.NoError(t, err)
	require.Equal(t, f.ID, files[0])
}

func TestListCorpusEntitiesPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		_, err := s.UpsertCorpusEntity(ctx, ingest.CorpusEntity{
			Ref:  ingest.EntityRef{Kind: "rpe", ID: id},
			Name: "entity " + id,
		})
		require.NoError(t, err)
	}

	page, err := s.ListCorpusEntities(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "b", page[0].Ref.ID)

	empty, err := s.ListCorpusEntities(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}
