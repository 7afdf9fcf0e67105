// Package registry owns the File records: deduplicated registration and the
// one-way pending to processed or failed status transition.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
)

// Registry registers files and moves them through their status lifecycle.
type Registry struct {
	files store.FileStore
	cfg   ingest.Config
	now   func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now, used for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(files store.FileStore, cfg ingest.Config, opts ...Option) *Registry {
	r := &Registry{
		files: files,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// RegisterParams describes a file whose bytes are already stored at
// StorageLocator.
type RegisterParams struct {
	StorageLocator string
	Fingerprint    fingerprint.Value
	OriginalName   string
	DeclaredType   ingest.FileType
	ByteSize       int64
	Owner          *string
	Metadata       map[string]any
}

func (r *Registry) validate(p RegisterParams) error {
	if !r.cfg.AllowsFileType(p.DeclaredType) {
		return fmt.Errorf("%w: %q", ingest.ErrInvalidType, p.DeclaredType)
	}
	if p.ByteSize <= 0 {
		return fmt.Errorf("%w: %d bytes", ingest.ErrInvalidSize, p.ByteSize)
	}
	if r.cfg.MaxFileSize > 0 && p.ByteSize > r.cfg.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ingest.ErrInvalidSize, p.ByteSize, r.cfg.MaxFileSize)
	}
	if !p.Fingerprint.Valid() {
		return fmt.Errorf("%w: malformed fingerprint", ingest.ErrInvalidInput)
	}
	if p.StorageLocator == "" {
		return fmt.Errorf("%w: storage locator is empty", ingest.ErrInvalidInput)
	}
	if p.OriginalName == "" {
		return fmt.Errorf("%w: original name is empty", ingest.ErrInvalidInput)
	}
	return nil
}

// RegisterOrGetFile returns the File for p.Fingerprint, creating it in
// pending state when no file has that fingerprint yet. isNew reports whether
// this call created it. A duplicate is not an error; the existing record is
// returned unchanged, whatever its name, owner or status.
func (r *Registry) RegisterOrGetFile(ctx context.Context, p RegisterParams) (ingest.File, bool, error) {
	if err := r.validate(p); err != nil {
		return ingest.File{}, false, err
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	f, created, err := r.files.InsertFileIfAbsent(ctx, ingest.File{
		Fingerprint:    p.Fingerprint.String(),
		OriginalName:   p.OriginalName,
		DeclaredType:   p.DeclaredType,
		ByteSize:       p.ByteSize,
		StorageLocator: p.StorageLocator,
		Status:         ingest.FileStatusPending,
		Owner:          p.Owner,
		Metadata:       metadata,
	})
	if err != nil {
		return ingest.File{}, false, fmt.Errorf("failed to register file: %w", err)
	}

	if created {
		logger.Info("[Registry] Registered file", "id", f.ID, "fingerprint", p.Fingerprint.Short(), "type", f.DeclaredType)
	} else {
		logger.Debug("[Registry] Duplicate upload", "id", f.ID, "fingerprint", p.Fingerprint.Short())
	}
	return f, created, nil
}

// MarkProcessed moves a pending file to processed and stamps ProcessedAt.
func (r *Registry) MarkProcessed(ctx context.Context, id uuid.UUID) (ingest.File, error) {
	return r.transition(ctx, id, ingest.FileStatusProcessed)
}

// MarkFailed moves a pending file to failed.
func (r *Registry) MarkFailed(ctx context.Context, id uuid.UUID) (ingest.File, error) {
	return r.transition(ctx, id, ingest.FileStatusFailed)
}

func (r *Registry) transition(ctx context.Context, id uuid.UUID, to ingest.FileStatus) (ingest.File, error) {
	f, err := r.files.UpdateFile(ctx, id, func(f *ingest.File) error {
		return f.Finish(to, r.now())
	})
	if err != nil {
		return ingest.File{}, err
	}
	logger.Debug("[Registry] File status changed", "id", id, "status", to)
	return f, nil
}

// LookupByFingerprint returns nil without error when no file matches.
func (r *Registry) LookupByFingerprint(ctx context.Context, fp fingerprint.Value) (*ingest.File, error) {
	f, err := r.files.GetFileByFingerprint(ctx, fp.String())
	if errors.Is(err, ingest.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (ingest.File, error) {
	return r.files.GetFile(ctx, id)
}

// Config returns the vocabulary the registry validates against.
func (r *Registry) Config() ingest.Config {
	return r.cfg
}
