package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store/memory"
)

func TestParseCorpus(t *testing.T) {
	data := []byte(`
entities:
  - kind: RPE
    id: " rpe-1 "
    name: Sleep hygiene
    description: Regular sleep schedule.
  - kind: axiom
    id: ax-1
    name: Rest matters
`)
	got, err := parseCorpus(data, ingest.DefaultConfig())
	if err != nil {
		t.Fatalf("parseCorpus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2", len(got))
	}
	if got[0].Ref != (ingest.EntityRef{Kind: "rpe", ID: "rpe-1"}) {
		t.Fatalf("ref = %v", got[0].Ref)
	}
	if got[1].Description != "" {
		t.Fatalf("description = %q, want empty", got[1].Description)
	}
}

func TestParseCorpusRejects(t *testing.T) {
	cases := map[string]string{
		"unknown kind": "entities:\n  - {kind: planet, id: p1, name: Mars}\n",
		"file kind":    "entities:\n  - {kind: file, id: f1, name: File}\n",
		"missing id":   "entities:\n  - {kind: rpe, name: Nameless}\n",
		"missing name": "entities:\n  - {kind: rpe, id: r1}\n",
		"duplicate":    "entities:\n  - {kind: rpe, id: r1, name: A}\n  - {kind: rpe, id: r1, name: B}\n",
	}
	for name, doc := range cases {
		_, err := parseCorpus([]byte(doc), ingest.DefaultConfig())
		if !errors.Is(err, ingest.ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", name, err)
		}
	}

	if _, err := parseCorpus([]byte("entities: [unclosed"), ingest.DefaultConfig()); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestLoadCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	doc := "entities:\n  - {kind: concept, id: c1, name: Fatigue}\n  - {kind: rpe, id: r1, name: Nap}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s := memory.New()
	n, err := loadCorpus(context.Background(), s, path, ingest.DefaultConfig())
	if err != nil {
		t.Fatalf("loadCorpus: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d, want 2", n)
	}
	e, err := s.GetCorpusEntity(context.Background(), ingest.EntityRef{Kind: "concept", ID: "c1"})
	if err != nil {
		t.Fatalf("GetCorpusEntity: %v", err)
	}
	if e.Name != "Fatigue" {
		t.Fatalf("name = %q", e.Name)
	}
}

func TestLoadCorpusSpansBatches(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("entities:\n")
	total := corpusChunk*2 + 5
	for i := range total {
		fmt.Fprintf(&doc, "  - {kind: concept, id: c%d, name: Concept %d}\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	if err := os.WriteFile(path, []byte(doc.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	s := memory.New()
	n, err := loadCorpus(context.Background(), s, path, ingest.DefaultConfig())
	if err != nil {
		t.Fatalf("loadCorpus: %v", err)
	}
	if n != total {
		t.Fatalf("loaded %d, want %d", n, total)
	}
	last := ingest.EntityRef{Kind: "concept", ID: fmt.Sprintf("c%d", total-1)}
	if _, err := s.GetCorpusEntity(context.Background(), last); err != nil {
		t.Fatalf("GetCorpusEntity(%s): %v", last, err)
	}
}
