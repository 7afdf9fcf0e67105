package tags

import (
	"context"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func setup(t *testing.T, contents ...string) (*Index, []uuid.UUID) {
	t.Helper()
	s := memory.New()
	ids := make([]uuid.UUID, 0, len(contents))
	for _, c := range contents {
		f, _, err := s.InsertFileIfAbsent(context.Background(), ingest.File{
			Fingerprint:    fingerprint.Sum([]byte(c)).String(),
			OriginalName:   c + ".md",
			DeclaredType:   ingest.FileTypeMD,
			ByteSize:       int64(len(c)),
			StorageLocator: "anonymous/" + c,
			Status:         ingest.FileStatusPending,
		})
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	return New(s), ids
}

func TestUpsertIsIdempotent(t *testing.T) {
	idx, ids := setup(t, "a")
	ctx := context.Background()

	first, err := idx.Upsert(ctx, ids[0], "ML", "", ptr(0.4))
	require.NoError(t, err)
	require.Equal(t, "ml", first.Name)
	require.Equal(t, "user", first.Category)

	second, err := idx.Upsert(ctx, ids[0], " ml ", "user", ptr(0.9))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	tags, err := idx.TagsFor(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, 0.9, tags[0].Confidence)
}

func TestSameNameDifferentCategory(t *testing.T) {
	idx, ids := setup(t, "a")
	ctx := context.Background()

	_, err := idx.Upsert(ctx, ids[0], "physics", "topic", nil)
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, ids[0], "physics", "user", nil)
	require.NoError(t, err)

	tags, err := idx.TagsFor(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, tags, 2)
	require.Equal(t, "topic", tags[0].Category)
	require.Equal(t, "user", tags[1].Category)
	require.Equal(t, 1.0, tags[0].Confidence)
}

func TestUpsertValidation(t *testing.T) {
	idx, ids := setup(t, "a")
	ctx := context.Background()

	tests := []struct {
		name       string
		fileID     uuid.UUID
		tag        string
		confidence *float64
		want       error
	}{
		{name: "empty", fileID: ids[0], tag: "  ", want: ingest.ErrInvalidInput},
		{name: "too long", fileID: ids[0], tag: strings.Repeat("x", 101), want: ingest.ErrInvalidInput},
		{name: "confidence", fileID: ids[0], tag: "ok", confidence: ptr(2.0), want: ingest.ErrInvalidInput},
		{name: "unknown file", fileID: store.NewID(), tag: "ok", want: ingest.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Upsert(ctx, tt.fileID, tt.tag, "", tt.confidence)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFilesWithTag(t *testing.T) {
	idx, ids := setup(t, "a", "b", "c")
	ctx := context.Background()

	_, err := idx.Upsert(ctx, ids[0], "ml", "user", nil)
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, ids[1], "ml", "keyword", nil)
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, ids[2], "other", "user", nil)
	require.NoError(t, err)

	anyCategory, err := idx.FilesWithTag(ctx, "ML", "")
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{ids[0], ids[1]}, anyCategory)

	keyword, err := idx.FilesWithTag(ctx, "ml", "Keyword")
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ids[1]}, keyword)

	_, err = idx.FilesWithTag(ctx, "", "")
	require.ErrorIs(t, err, ingest.ErrInvalidInput)
}
