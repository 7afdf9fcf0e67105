package registry

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
)

const anonymousOwner = "anonymous"

var typesByExtension = map[string]ingest.FileType{
	".pdf":      ingest.FileTypePDF,
	".txt":      ingest.FileTypeTXT,
	".text":     ingest.FileTypeTXT,
	".md":       ingest.FileTypeMD,
	".markdown": ingest.FileTypeMD,
	".docx":     ingest.FileTypeDOCX,
}

// Checked in order, text/plain resolves to txt before md.
var typesByMIME = []struct {
	mime string
	typ  ingest.FileType
}{
	{"application/pdf", ingest.FileTypePDF},
	{"text/plain", ingest.FileTypeTXT},
	{"text/markdown", ingest.FileTypeMD},
	{"text/x-markdown", ingest.FileTypeMD},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", ingest.FileTypeDOCX},
}

// DetectType derives a file type from the file name extension and falls back
// to the MIME type.
func DetectType(name string, mimeType string) (ingest.FileType, bool) {
	if t, ok := typesByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return t, true
	}
	if mimeType == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	for _, m := range typesByMIME {
		if m.mime == mediaType {
			return m.typ, true
		}
	}
	return "", false
}

// StorageLocator returns the object key for a file's bytes.
func StorageLocator(owner *string, fp fingerprint.Value, name string) string {
	prefix := anonymousOwner
	if owner != nil && *owner != "" {
		prefix = *owner
	}
	return prefix + "/" + fp.String() + "_" + filepath.Base(name)
}

// SubmitParams carries raw bytes for Submit.
type SubmitParams struct {
	Content      []byte
	OriginalName string
	// DeclaredType overrides detection when set.
	DeclaredType ingest.FileType
	MimeType     string
	Owner        *string
	Metadata     map[string]any
	// Store persists the bytes under the derived locator. It is only called
	// for files that are not known yet. Nil skips storing.
	Store func(ctx context.Context, locator string, content []byte) error
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	File  ingest.File
	IsNew bool
}

// Submit fingerprints raw bytes, detects their type and registers them.
func (r *Registry) Submit(ctx context.Context, p SubmitParams) (SubmitResult, error) {
	if len(p.Content) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: empty content", ingest.ErrInvalidSize)
	}

	fileType := p.DeclaredType
	if fileType == "" {
		t, ok := DetectType(p.OriginalName, p.MimeType)
		if !ok {
			return SubmitResult{}, fmt.Errorf("%w: cannot detect type of %q (%s)", ingest.ErrInvalidType, p.OriginalName, p.MimeType)
		}
		fileType = t
	}

	fp := fingerprint.Sum(p.Content)
	existing, err := r.LookupByFingerprint(ctx, fp)
	if err != nil {
		return SubmitResult{}, err
	}
	if existing != nil {
		return SubmitResult{File: *existing, IsNew: false}, nil
	}

	locator := StorageLocator(p.Owner, fp, p.OriginalName)
	params := RegisterParams{
		StorageLocator: locator,
		Fingerprint:    fp,
		OriginalName:   p.OriginalName,
		DeclaredType:   fileType,
		ByteSize:       int64(len(p.Content)),
		Owner:          p.Owner,
		Metadata:       p.Metadata,
	}
	if err := r.validate(params); err != nil {
		return SubmitResult{}, err
	}

	if p.Store != nil {
		if err := p.Store(ctx, locator, p.Content); err != nil {
			return SubmitResult{}, fmt.Errorf("failed to store content: %w", err)
		}
	}

	f, isNew, err := r.RegisterOrGetFile(ctx, params)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{File: f, IsNew: isNew}, nil
}
