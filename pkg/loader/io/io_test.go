package io

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
)

func TestPutFetch(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	ctx := context.Background()

	if err := d.Put(ctx, "anonymous/abc_a.txt", []byte("hello")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got, err := d.Fetch(ctx, "anonymous/abc_a.txt")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestFetchMissing(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	if _, err := d.Fetch(context.Background(), "nope"); !errors.Is(err, ingest.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocatorCannotEscape(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)

	if err := d.Put(context.Background(), "../../etc/x", []byte("x")); err != nil {
		t.Fatalf("expected escape to be clamped below root, got %v", err)
	}
	if _, err := d.Fetch(context.Background(), "etc/x"); err != nil {
		t.Fatalf("expected clamped file below root, got %v", err)
	}
	if err := d.Put(context.Background(), "", []byte("x")); !errors.Is(err, ingest.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty locator, got %v", err)
	}
}

func TestConcurrentPutSameLocator(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)
	ctx := context.Background()
	content := []byte("identical bytes")

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if err := d.Put(ctx, "anonymous/abc_b.txt", content); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("expected no failed puts, got %d", n)
	}
	got, err := d.Fetch(ctx, "anonymous/abc_b.txt")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("expected %q, got %q", content, got)
	}
	leftovers, _ := filepath.Glob(filepath.Join(root, "anonymous", "*.part"))
	if len(leftovers) != 0 {
		t.Fatalf("expected no temp files, got %v", leftovers)
	}
}
