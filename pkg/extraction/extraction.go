// Package extraction records the text extracted from files. Records are
// immutable and the newest record of a file is authoritative.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	"github.com/google/uuid"
)

type Store struct {
	extractions store.ExtractionStore
}

func New(extractions store.ExtractionStore) *Store {
	return &Store{extractions: extractions}
}

// RecordParams carries one extractor result. Empty LanguageCode and Encoding
// and a nil Confidence take the package defaults.
type RecordParams struct {
	FileID       uuid.UUID
	Text         string
	LanguageCode string
	Encoding     string
	Method       *string
	Confidence   *float64
}

// Record stores a new extraction. Length is derived from Text.
func (s *Store) Record(ctx context.Context, p RecordParams) (ingest.ContentExtraction, error) {
	if !utf8.ValidString(p.Text) {
		return ingest.ContentExtraction{}, fmt.Errorf("%w: text is not valid utf-8", ingest.ErrInvalidInput)
	}

	confidence := ingest.DefaultExtractionConfidence
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	if !ingest.InUnitRange(confidence) {
		return ingest.ContentExtraction{}, fmt.Errorf("%w: confidence %v outside [0,1]", ingest.ErrInvalidInput, confidence)
	}

	language := strings.TrimSpace(p.LanguageCode)
	if language == "" {
		language = ingest.DefaultLanguageCode
	}
	encoding := strings.TrimSpace(p.Encoding)
	if encoding == "" {
		encoding = ingest.DefaultEncoding
	}

	e, err := s.extractions.InsertExtraction(ctx, ingest.ContentExtraction{
		ID:           store.NewID(),
		FileID:       p.FileID,
		Text:         p.Text,
		Length:       utf8.RuneCountInString(p.Text),
		LanguageCode: language,
		Encoding:     encoding,
		Method:       p.Method,
		Confidence:   confidence,
	})
	if err != nil {
		return ingest.ContentExtraction{}, fmt.Errorf("failed to record extraction for file %s: %w", p.FileID, err)
	}
	logger.Debug("[Extraction] Recorded", "file", p.FileID, "length", e.Length)
	return e, nil
}

// LatestFor returns the newest extraction of a file, or nil when there is
// none.
func (s *Store) LatestFor(ctx context.Context, fileID uuid.UUID) (*ingest.ContentExtraction, error) {
	e, err := s.extractions.LatestExtraction(ctx, fileID)
	if errors.Is(err, ingest.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// History returns every extraction of a file, newest first.
func (s *Store) History(ctx context.Context, fileID uuid.UUID) ([]ingest.ContentExtraction, error) {
	return s.extractions.ListExtractions(ctx, fileID)
}
