package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/events"
	"github.com/OFFIS-RIT/ingest/backend/pkg/extraction"
	"github.com/OFFIS-RIT/ingest/backend/pkg/graph"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader"
	"github.com/OFFIS-RIT/ingest/backend/pkg/registry"
	"github.com/OFFIS-RIT/ingest/backend/pkg/session"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/ingest/backend/pkg/tags"

	"github.com/stretchr/testify/require"
)

type blobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	onFetch func(ctx context.Context) error
}

func (b *blobs) Put(_ context.Context, locator string, content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[locator] = content
	return nil
}

func (b *blobs) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if b.onFetch != nil {
		if err := b.onFetch(ctx); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.data[locator]
	if !ok {
		return nil, ingest.ErrNotFound
	}
	return content, nil
}

type fixture struct {
	proc     *Processor
	store    *memory.Store
	registry *registry.Registry
	sessions *session.Engine
	graph    *graph.Graph
	tags     *tags.Index
	blobs    *blobs
	events   *events.Recorder
}

func setup(t *testing.T, cfg ingest.Config, opts ...Option) *fixture {
	t.Helper()
	s := memory.New()
	reg := registry.New(s, cfg)
	rec := &events.Recorder{}
	sessions := session.New(s, session.WithPublisher(rec))
	g := graph.New(s, cfg)
	ti := tags.New(s)
	b := &blobs{data: map[string][]byte{}}

	proc := New(Components{
		Files:       reg,
		Sessions:    sessions,
		Blobs:       b,
		Extractor:   loader.NewExtractor(),
		Extractions: extraction.New(s),
		Tags:        ti,
		Graph:       g,
		Corpus:      s,
		Config:      cfg,
	}, opts...)

	return &fixture{
		proc:     proc,
		store:    s,
		registry: reg,
		sessions: sessions,
		graph:    g,
		tags:     ti,
		blobs:    b,
		events:   rec,
	}
}

func (f *fixture) submit(t *testing.T, name string, content string) ingest.File {
	t.Helper()
	res, err := f.registry.Submit(context.Background(), registry.SubmitParams{
		Content:      []byte(content),
		OriginalName: name,
		Store:        f.blobs.Put,
	})
	require.NoError(t, err)
	require.True(t, res.IsNew)
	return res.File
}

func (f *fixture) seedCorpus(t *testing.T, entities ...ingest.CorpusEntity) {
	t.Helper()
	for _, e := range entities {
		_, err := f.store.UpsertCorpusEntity(context.Background(), e)
		require.NoError(t, err)
	}
}

const notes = "# Kant Notes\n\n" +
	"The categorical imperative guides moral action.\n\n" +
	"Duty matters more than the outcome.\n\n" +
	"Short.\n\n" +
	"A fourth sentence that is long enough."

func TestProcessHappyPath(t *testing.T) {
	cfg := ingest.DefaultConfig()
	cfg.KeywordTags = []string{"Duty", "ethics"}
	f := setup(t, cfg)
	ctx := context.Background()

	f.seedCorpus(t,
		ingest.CorpusEntity{Ref: ingest.EntityRef{Kind: "rpe", ID: "ci"}, Name: "Categorical Imperative"},
		ingest.CorpusEntity{Ref: ingest.EntityRef{Kind: "axiom", ID: "util"}, Name: "Utilitarianism"},
		ingest.CorpusEntity{Ref: ingest.EntityRef{Kind: "rpe", ID: "short"}, Name: "a"},
	)
	file := f.submit(t, "notes.md", notes)

	res, err := f.proc.Process(ctx, file.ID)
	require.NoError(t, err)

	require.Equal(t, ingest.SessionCompleted, res.Session.Status)
	require.NotNil(t, res.Session.DurationMs)
	var trail []string
	for _, st := range res.Session.Steps {
		trail = append(trail, st.Name+":"+st.Outcome)
	}
	require.Equal(t, []string{
		"fetch:started", "fetch:completed",
		"extraction:started", "extraction:completed",
		"tagging:started", "tagging:completed",
		"relationship_discovery:started", "relationship_discovery:completed",
	}, trail)

	stored, err := f.registry.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusProcessed, stored.Status)
	require.NotNil(t, stored.ProcessedAt)

	require.NotNil(t, res.Extraction)
	require.Equal(t, loader.MethodMarkdown, *res.Extraction.Method)
	require.Equal(t, "en", res.Extraction.LanguageCode)

	got, err := f.tags.TagsFor(ctx, file.ID)
	require.NoError(t, err)
	var labels []string
	for _, tag := range got {
		labels = append(labels, tag.Category+"/"+tag.Name)
	}
	require.ElementsMatch(t, []string{"format/md", "language/en", "structure/has-title", "keyword/duty"}, labels)

	rels, err := graph.Collect(f.graph.RelationshipsFor(ctx, ingest.FileRef(file.ID), ingest.DirectionOutgoing))
	require.NoError(t, err)
	require.Len(t, rels, 4)

	ref := rels[0]
	require.Equal(t, "references", ref.Type)
	require.Equal(t, ingest.EntityRef{Kind: "rpe", ID: "ci"}, ref.Target)
	require.Equal(t, 0.6, ref.Strength)
	require.Equal(t, 0.7, ref.Confidence)
	require.Equal(t, "The categorical imperative guides moral action.", *ref.ContextText)

	require.Len(t, res.Concepts, 3)
	for i, rel := range rels[1:] {
		require.Equal(t, "contains", rel.Type)
		require.Equal(t, 0.8, rel.Strength)
		require.Equal(t, 0.8, rel.Confidence)
		require.Equal(t, ingest.EntityRef{Kind: "concept", ID: fmt.Sprintf("%s-%d", file.ID, i+1)}, rel.Target)
	}
	require.Equal(t, "# Kant Notes", res.Concepts[0].Name)
	require.Equal(t, "The categorical imperative guides moral action.", res.Concepts[1].Description)

	var statuses []ingest.SessionStatus
	for _, ev := range f.events.Events() {
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	require.Equal(t, []ingest.SessionStatus{ingest.SessionQueued, ingest.SessionProcessing, ingest.SessionCompleted}, statuses)
}

func TestProcessAgainKeepsConcepts(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	ctx := context.Background()
	file := f.submit(t, "notes.md", notes)

	_, err := f.proc.Process(ctx, file.ID)
	require.NoError(t, err)
	second, err := f.proc.Process(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.SessionCompleted, second.Session.Status)

	corpus, err := f.store.ListCorpusEntities(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, corpus, 3)

	for _, rel := range second.Relationships {
		require.Equal(t, "contains", rel.Type, "own concepts must not be referenced")
	}

	stored, err := f.registry.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusProcessed, stored.Status)

	sessions, err := f.sessions.ListForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestProcessCorpusBatches(t *testing.T) {
	f := setup(t, ingest.DefaultConfig(), WithBatchSize(2), WithConcurrency(2))
	ctx := context.Background()

	for i := range 7 {
		f.seedCorpus(t, ingest.CorpusEntity{
			Ref:  ingest.EntityRef{Kind: "rpe", ID: fmt.Sprintf("e%d", i)},
			Name: fmt.Sprintf("unmatched entity %d", i),
		})
	}
	f.seedCorpus(t,
		ingest.CorpusEntity{Ref: ingest.EntityRef{Kind: "rpe", ID: "e9"}, Name: "sunlight"},
		ingest.CorpusEntity{Ref: ingest.EntityRef{Kind: "axiom", ID: "a1"}, Name: "Photosynthesis"},
	)
	file := f.submit(t, "plants.txt", "Photosynthesis turns sunlight into sugar. Plants need water too.")

	res, err := f.proc.Process(ctx, file.ID)
	require.NoError(t, err)

	var targets []ingest.EntityRef
	for _, rel := range res.Relationships {
		if rel.Type == "references" {
			targets = append(targets, rel.Target)
		}
	}
	require.Equal(t, []ingest.EntityRef{{Kind: "axiom", ID: "a1"}, {Kind: "rpe", ID: "e9"}}, targets)
}

func TestProcessWithoutSentencesUsesWholeText(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	file := f.submit(t, "tiny.txt", "ok then")

	res, err := f.proc.Process(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, res.Concepts, 1)
	require.Equal(t, "ok then", res.Concepts[0].Name)
}

func TestProcessConceptsDisabledByConfig(t *testing.T) {
	cfg := ingest.DefaultConfig()
	cfg.EntityKinds = []string{"rpe"}
	f := setup(t, cfg)
	file := f.submit(t, "notes.md", notes)

	res, err := f.proc.Process(context.Background(), file.ID)
	require.NoError(t, err)
	require.Empty(t, res.Concepts)
	require.Equal(t, ingest.SessionCompleted, res.Session.Status)
}

func TestProcessFetchFailure(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	ctx := context.Background()
	file := f.submit(t, "a.txt", "Some text that is long enough.")
	boom := errors.New("bucket unavailable")
	f.blobs.onFetch = func(context.Context) error { return boom }

	res, err := f.proc.Process(ctx, file.ID)
	require.ErrorIs(t, err, boom)
	require.Equal(t, ingest.SessionFailed, res.Session.Status)
	require.NotNil(t, res.Session.ErrorMessage)
	require.Contains(t, *res.Session.ErrorMessage, "fetch")

	last := res.Session.Steps[len(res.Session.Steps)-1]
	require.Equal(t, StepFetch, last.Name)
	require.Equal(t, session.OutcomeFailed, last.Outcome)

	stored, err := f.registry.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusFailed, stored.Status)
	require.Nil(t, stored.ProcessedAt)
}

func TestProcessEmptyExtractionFails(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	file := f.submit(t, "blank.txt", "   \n\n  ")

	res, err := f.proc.Process(context.Background(), file.ID)
	require.ErrorIs(t, err, loader.ErrEmptyExtraction)
	require.Equal(t, ingest.SessionFailed, res.Session.Status)
	last := res.Session.Steps[len(res.Session.Steps)-1]
	require.Equal(t, StepExtraction, last.Name)
}

func TestProcessConcurrentSession(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	ctx := context.Background()
	file := f.submit(t, "a.txt", "Some text that is long enough.")

	_, err := f.sessions.Open(ctx, file.ID)
	require.NoError(t, err)

	_, err = f.proc.Process(ctx, file.ID)
	require.ErrorIs(t, err, ingest.ErrConcurrentSessionExists)
}

func TestProcessUnknownFile(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	_, err := f.proc.Process(context.Background(), [16]byte{1})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestProcessContextCancelled(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	file := f.submit(t, "a.txt", "Some text that is long enough.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.blobs.onFetch = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	res, err := f.proc.Process(ctx, file.ID)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ingest.SessionCancelled, res.Session.Status)

	stored, err := f.registry.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusPending, stored.Status)

	active, err := f.sessions.Active(context.Background(), file.ID)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestProcessCancelledExternally(t *testing.T) {
	f := setup(t, ingest.DefaultConfig())
	ctx := context.Background()
	file := f.submit(t, "a.txt", "Some text that is long enough.")

	f.blobs.onFetch = func(ctx context.Context) error {
		active, err := f.sessions.Active(ctx, file.ID)
		if err != nil {
			return err
		}
		_, err = f.sessions.Cancel(ctx, active.ID)
		return err
	}

	res, err := f.proc.Process(ctx, file.ID)
	require.ErrorIs(t, err, ErrAborted)
	require.Equal(t, ingest.SessionCancelled, res.Session.Status)

	stored, err := f.registry.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.FileStatusPending, stored.Status)

	// A cancelled file can be processed again.
	f.blobs.onFetch = nil
	again, err := f.proc.Process(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.SessionCompleted, again.Session.Status)
}
