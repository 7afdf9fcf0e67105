// Package loader turns stored file bytes into plain text. Each supported file
// type has a parser; Extractor dispatches on the declared type.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader/doc"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader/pdf"
	"github.com/OFFIS-RIT/ingest/backend/pkg/loader/text"
)

// Extraction methods recorded with each ContentExtraction.
const (
	MethodDirectText = "direct_text_decoding"
	MethodMarkdown   = "markdown_parsing"
	MethodDocx       = "docx_xml_extraction"
	MethodPDF        = "pdftotext"
)

var (
	ErrEmptyExtraction = errors.New("extraction produced no text")
	ErrUnsupportedType = errors.New("no parser for file type")
)

// Result is the output of one extraction.
type Result struct {
	Text       string
	Method     string
	Confidence float64
	Encoding   string
	Language   string
	Metadata   map[string]any
}

// BlobSource hands out the stored bytes of a file.
type BlobSource interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

type Extractor interface {
	Extract(ctx context.Context, fileType ingest.FileType, content []byte) (Result, error)
}

// Parser extracts text from the bytes of one file type.
type Parser func(ctx context.Context, content []byte) (Result, error)

// DefaultExtractor dispatches to a Parser per file type.
type DefaultExtractor struct {
	parsers map[ingest.FileType]Parser
}

type Option func(*DefaultExtractor)

// WithParser registers or replaces the parser of a file type.
func WithParser(t ingest.FileType, p Parser) Option {
	return func(e *DefaultExtractor) {
		e.parsers[t] = p
	}
}

// NewExtractor returns an extractor for txt, md, docx and pdf.
func NewExtractor(opts ...Option) *DefaultExtractor {
	e := &DefaultExtractor{
		parsers: map[ingest.FileType]Parser{
			ingest.FileTypeTXT:  parseText,
			ingest.FileTypeMD:   parseMarkdown,
			ingest.FileTypeDOCX: parseDocx,
			ingest.FileTypePDF:  parsePDF,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e
}

func (e *DefaultExtractor) Extract(ctx context.Context, fileType ingest.FileType, content []byte) (Result, error) {
	p, ok := e.parsers[fileType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	res, err := p(ctx, content)
	if err != nil {
		return Result{}, err
	}
	res.Text = NormalizeText(res.Text)
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, ErrEmptyExtraction
	}
	if res.Encoding == "" {
		res.Encoding = ingest.DefaultEncoding
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res, nil
}

func parseText(_ context.Context, content []byte) (Result, error) {
	d, err := text.Decode(content)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:       d.Text,
		Method:     MethodDirectText,
		Confidence: d.Confidence,
		Encoding:   d.Encoding,
		Language:   d.Language,
	}, nil
}

func parseMarkdown(ctx context.Context, content []byte) (Result, error) {
	res, err := parseText(ctx, content)
	if err != nil {
		return Result{}, err
	}
	res.Method = MethodMarkdown
	res.Metadata = map[string]any{}
	if title, ok := text.MarkdownTitle(res.Text); ok {
		res.Metadata["title"] = title
	}
	if headings := text.MarkdownHeadings(res.Text); len(headings) > 0 {
		res.Metadata["headings"] = headings
	}
	return res, nil
}

func parseDocx(_ context.Context, content []byte) (Result, error) {
	t, err := doc.Parse(content)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: t, Method: MethodDocx, Confidence: 0.95}, nil
}

func parsePDF(ctx context.Context, content []byte) (Result, error) {
	t, err := pdf.Parse(ctx, content)
	if err != nil {
		return Result{}, err
	}
	res := Result{Text: t, Method: MethodPDF, Confidence: 0.9, Metadata: map[string]any{}}
	if pages, err := pdf.CountPages(ctx, content); err == nil {
		res.Metadata["pages"] = pages
	}
	return res, nil
}
