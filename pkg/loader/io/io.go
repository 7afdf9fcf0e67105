// Package io stores file bytes on the local filesystem. It backs
// development setups that run without object storage.
package io

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"golang.org/x/sync/singleflight"
)

// Dir keeps blobs below a root directory, one file per locator.
type Dir struct {
	root  string
	group singleflight.Group
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// path maps a locator to a file below root and refuses escapes.
func (d *Dir) path(locator string) (string, error) {
	clean := filepath.Clean("/" + locator)
	p := filepath.Join(d.root, clean)
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: bad locator %q", ingest.ErrInvalidInput, locator)
	}
	return p, nil
}

func (d *Dir) Put(ctx context.Context, locator string, content []byte) error {
	p, err := d.path(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	// One temp file per writer; concurrent puts of a locator may overlap.
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*.part")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o640); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Fetch reads a blob. Concurrent reads of one locator share a single read.
func (d *Dir) Fetch(ctx context.Context, locator string) ([]byte, error) {
	p, err := d.path(locator)
	if err != nil {
		return nil, err
	}
	v, err, _ := d.group.Do(p, func() (any, error) {
		return os.ReadFile(p)
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", ingest.ErrNotFound, locator)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
