// Package pipeline runs one file through a processing session: fetch the
// stored bytes, extract and record text, tag the file and link it into the
// relationship graph.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/ingest/backend/pkg/extraction"
	"github.com/OFFIS-RIT/ingest/backend/pkg/graph"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/session"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"
	"github.com/OFFIS-RIT/ingest/backend/pkg/tags"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Step names recorded in the session audit trail.
const (
	StepFetch                 = "fetch"
	StepExtraction            = "extraction"
	StepTagging               = "tagging"
	StepRelationshipDiscovery = "relationship_discovery"
)

// Tag categories written by the tagging step.
const (
	CategoryFormat    = "format"
	CategoryLanguage  = "language"
	CategoryStructure = "structure"
	CategoryKeyword   = "keyword"
)

const (
	conceptKind       = "concept"
	referencesType    = "references"
	containsType      = "contains"
	maxConcepts       = 3
	minSentenceLength = 10
	maxContextLength  = 200
	maxConceptName    = 100
	minMatchLength    = 3
	keywordConfidence = 0.8
	titleTag          = "has-title"
)

var (
	referenceStrength   = 0.6
	referenceConfidence = 0.7
	containsStrength    = 0.8
	containsConfidence  = 0.8
)

// ErrAborted is returned when the session left the processing state while
// the pipeline was running, e.g. because it was cancelled through the API.
var ErrAborted = errors.New("processing session ended externally")

// FileGetter loads the file record to process.
type FileGetter interface {
	Get(ctx context.Context, id uuid.UUID) (ingest.File, error)
}

// Components are the engine parts the processor drives.
type Components struct {
	Files       FileGetter
	Sessions    *session.Engine
	Blobs       loader.BlobSource
	Extractor   loader.Extractor
	Extractions *extraction.Store
	Tags        *tags.Index
	Graph       *graph.Graph
	Corpus      store.CorpusStore
	Config      ingest.Config
}

type Processor struct {
	c           Components
	batchSize   int
	concurrency int
}

type Option func(*Processor)

// WithBatchSize sets how many corpus entities one matching task handles.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency limits the number of parallel corpus matching tasks.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func New(c Components, opts ...Option) *Processor {
	p := &Processor{
		c:           c,
		batchSize:   500,
		concurrency: 4,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

// Result summarizes one Process call.
type Result struct {
	Session       ingest.ProcessingSession
	Extraction    *ingest.ContentExtraction
	Tags          []ingest.Tag
	Relationships []ingest.Relationship
	Concepts      []ingest.CorpusEntity
}

type job struct {
	file    ingest.File
	content []byte
	text    string
	meta    map[string]any
	result  Result
}

type step struct {
	name string
	run  func(ctx context.Context, j *job) error
}

// Process opens a session for the file and runs every step. A step error
// fails the session and the file; a cancelled ctx cancels the session and
// leaves the file pending. ingest.ErrConcurrentSessionExists is returned
// unchanged when the file is already being processed.
func (p *Processor) Process(ctx context.Context, fileID uuid.UUID) (Result, error) {
	file, err := p.c.Files.Get(ctx, fileID)
	if err != nil {
		return Result{}, err
	}

	sess, err := p.c.Sessions.Open(ctx, fileID)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.c.Sessions.Begin(ctx, sess.ID); err != nil {
		return p.aborted(ctx, sess.ID, err)
	}

	start := time.Now()
	j := &job{file: file}
	steps := []step{
		{StepFetch, p.fetch},
		{StepExtraction, p.extract},
		{StepTagging, p.tag},
		{StepRelationshipDiscovery, p.discover},
	}

	for _, st := range steps {
		if ctx.Err() != nil {
			return p.cancel(ctx, j, sess.ID, ctx.Err())
		}
		if _, err := p.c.Sessions.RecordStep(ctx, sess.ID, st.name, session.OutcomeStarted); err != nil {
			return p.aborted(ctx, sess.ID, err)
		}

		if err := st.run(ctx, j); err != nil {
			if ctx.Err() != nil {
				return p.cancel(ctx, j, sess.ID, err)
			}
			return p.fail(ctx, j, sess.ID, st.name, err)
		}

		if _, err := p.c.Sessions.RecordStep(ctx, sess.ID, st.name, session.OutcomeCompleted); err != nil {
			return p.aborted(ctx, sess.ID, err)
		}
	}

	done, err := p.c.Sessions.Complete(ctx, sess.ID)
	if err != nil {
		return p.aborted(ctx, sess.ID, err)
	}
	j.result.Session = done

	logger.Info("[Pipeline] Processed file",
		"file", file.ID,
		"session", done.ID,
		"tags", len(j.result.Tags),
		"relationships", len(j.result.Relationships),
		"duration", time.Since(start),
	)
	return j.result, nil
}

// aborted maps a refused session transition to ErrAborted when the session
// is no longer processing.
func (p *Processor) aborted(ctx context.Context, id uuid.UUID, err error) (Result, error) {
	if !errors.Is(err, ingest.ErrInvalidTransition) {
		return Result{}, err
	}
	cur, getErr := p.c.Sessions.Get(context.WithoutCancel(ctx), id)
	if getErr != nil {
		return Result{}, err
	}
	logger.Info("[Pipeline] Session ended externally", "session", id, "status", cur.Status)
	return Result{Session: cur}, fmt.Errorf("%w: session %s is %s", ErrAborted, id, cur.Status)
}

func (p *Processor) fail(ctx context.Context, j *job, id uuid.UUID, stepName string, cause error) (Result, error) {
	logger.Error("[Pipeline] Step failed", "file", j.file.ID, "session", id, "step", stepName, "err", cause)

	if _, err := p.c.Sessions.RecordStep(ctx, id, stepName, session.OutcomeFailed); err != nil {
		return p.aborted(ctx, id, err)
	}
	sess, err := p.c.Sessions.Fail(ctx, id, fmt.Sprintf("%s: %v", stepName, cause))
	if err != nil {
		return p.aborted(ctx, id, err)
	}
	j.result.Session = sess
	return j.result, fmt.Errorf("%s step failed: %w", stepName, cause)
}

func (p *Processor) cancel(ctx context.Context, j *job, id uuid.UUID, cause error) (Result, error) {
	sess, err := p.c.Sessions.Cancel(context.WithoutCancel(ctx), id)
	if err != nil {
		return p.aborted(ctx, id, err)
	}
	logger.Info("[Pipeline] Processing cancelled", "file", j.file.ID, "session", id)
	j.result.Session = sess
	return j.result, cause
}

func (p *Processor) fetch(ctx context.Context, j *job) error {
	content, err := p.c.Blobs.Fetch(ctx, j.file.StorageLocator)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", j.file.StorageLocator, err)
	}
	j.content = content
	return nil
}

func (p *Processor) extract(ctx context.Context, j *job) error {
	res, err := p.c.Extractor.Extract(ctx, j.file.DeclaredType, j.content)
	if err != nil {
		return err
	}
	method := res.Method
	confidence := res.Confidence
	rec, err := p.c.Extractions.Record(ctx, extraction.RecordParams{
		FileID:       j.file.ID,
		Text:         res.Text,
		LanguageCode: res.Language,
		Encoding:     res.Encoding,
		Method:       &method,
		Confidence:   &confidence,
	})
	if err != nil {
		return err
	}
	j.text = rec.Text
	j.meta = res.Metadata
	j.result.Extraction = &rec
	return nil
}

func (p *Processor) tag(ctx context.Context, j *job) error {
	type wanted struct {
		name       string
		category   string
		confidence *float64
	}
	want := []wanted{
		{string(j.file.DeclaredType), CategoryFormat, nil},
		{j.result.Extraction.LanguageCode, CategoryLanguage, nil},
	}
	if _, ok := j.meta["title"]; ok {
		want = append(want, wanted{titleTag, CategoryStructure, nil})
	}

	lower := strings.ToLower(j.text)
	kc := keywordConfidence
	for _, kw := range p.c.Config.KeywordTags {
		kw = tags.Normalize(kw)
		if kw != "" && strings.Contains(lower, kw) {
			want = append(want, wanted{kw, CategoryKeyword, &kc})
		}
	}

	for _, w := range want {
		t, err := p.c.Tags.Upsert(ctx, j.file.ID, w.name, w.category, w.confidence)
		if err != nil {
			return err
		}
		j.result.Tags = append(j.result.Tags, t)
	}
	return nil
}

func (p *Processor) discover(ctx context.Context, j *job) error {
	sentences := meaningfulSentences(j.text)
	fileRef := ingest.FileRef(j.file.ID)

	if p.c.Config.AllowsRelationshipType(referencesType) {
		matches, err := p.matchCorpus(ctx, j.file.ID, j.text, sentences)
		if err != nil {
			return err
		}
		for _, m := range matches {
			rel, err := p.c.Graph.AddRelationship(ctx, graph.AddParams{
				Source:      fileRef,
				Target:      m.ref,
				Type:        referencesType,
				Strength:    &referenceStrength,
				ContextText: &m.context,
				Confidence:  &referenceConfidence,
			})
			if err != nil {
				return err
			}
			j.result.Relationships = append(j.result.Relationships, rel)
		}
	}

	if !p.c.Config.AllowsEntityKind(conceptKind) || !p.c.Config.AllowsRelationshipType(containsType) {
		logger.Debug("[Pipeline] Concept extraction disabled by config", "file", j.file.ID)
		return nil
	}

	concepts := sentences
	if len(concepts) == 0 && strings.TrimSpace(j.text) != "" {
		concepts = []string{strings.TrimSpace(j.text)}
	}
	if len(concepts) > maxConcepts {
		concepts = concepts[:maxConcepts]
	}
	for i, sentence := range concepts {
		entity, err := p.c.Corpus.UpsertCorpusEntity(ctx, ingest.CorpusEntity{
			Ref:         ingest.EntityRef{Kind: conceptKind, ID: conceptID(j.file.ID, i)},
			Name:        truncate(sentence, maxConceptName),
			Description: sentence,
		})
		if err != nil {
			return fmt.Errorf("failed to store concept: %w", err)
		}
		j.result.Concepts = append(j.result.Concepts, entity)

		contextText := truncate(sentence, maxContextLength)
		rel, err := p.c.Graph.AddRelationship(ctx, graph.AddParams{
			Source:      fileRef,
			Target:      entity.Ref,
			Type:        containsType,
			Strength:    &containsStrength,
			ContextText: &contextText,
			Confidence:  &containsConfidence,
		})
		if err != nil {
			return err
		}
		j.result.Relationships = append(j.result.Relationships, rel)
	}
	return nil
}

// conceptID is stable per file and position, so reprocessing a file updates
// its concepts instead of adding new ones.
func conceptID(fileID uuid.UUID, i int) string {
	return fmt.Sprintf("%s-%d", fileID, i+1)
}

type match struct {
	ref     ingest.EntityRef
	context string
}

// matchCorpus finds the corpus entities whose name occurs in text. The corpus
// is paged in batches that are matched concurrently.
func (p *Processor) matchCorpus(ctx context.Context, fileID uuid.UUID, text string, sentences []string) ([]match, error) {
	lowerText := strings.ToLower(text)
	lowerSentences := make([]string, len(sentences))
	for i, s := range sentences {
		lowerSentences[i] = strings.ToLower(s)
	}
	ownPrefix := fileID.String() + "-"

	var (
		mu      sync.Mutex
		matches []match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for offset := 0; ; offset += p.batchSize {
		batch, err := p.c.Corpus.ListCorpusEntities(gctx, offset, p.batchSize)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("failed to list corpus: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		g.Go(func() error {
			var found []match
			for _, e := range batch {
				if e.Ref.Kind == conceptKind && strings.HasPrefix(e.Ref.ID, ownPrefix) {
					continue
				}
				if !p.c.Config.AllowsEntityKind(e.Ref.Kind) {
					continue
				}
				name := strings.ToLower(strings.TrimSpace(e.Name))
				if utf8.RuneCountInString(name) < minMatchLength || !strings.Contains(lowerText, name) {
					continue
				}
				found = append(found, match{ref: e.Ref, context: contextFor(name, e.Name, sentences, lowerSentences)})
			}
			mu.Lock()
			matches = append(matches, found...)
			mu.Unlock()
			return gctx.Err()
		})

		if len(batch) < p.batchSize {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(matches, func(a, b match) int {
		if c := strings.Compare(a.ref.Kind, b.ref.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.ref.ID, b.ref.ID)
	})
	return matches, nil
}

// contextFor returns the first sentence mentioning name, or the name itself
// when the mention spans sentences.
func contextFor(lowerName string, name string, sentences []string, lowerSentences []string) string {
	for i, s := range lowerSentences {
		if strings.Contains(s, lowerName) {
			return truncate(sentences[i], maxContextLength)
		}
	}
	return truncate(strings.TrimSpace(name), maxContextLength)
}
