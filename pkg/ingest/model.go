package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileType is the declared format of an uploaded file. The accepted set is
// deployment configuration, see Config.FileTypes.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeTXT  FileType = "txt"
	FileTypeMD   FileType = "md"
	FileTypeDOCX FileType = "docx"
)

// FileStatus is the lifecycle state of a File. It only moves forward:
// pending to processed or pending to failed.
type FileStatus string

const (
	FileStatusPending   FileStatus = "pending"
	FileStatusProcessed FileStatus = "processed"
	FileStatusFailed    FileStatus = "failed"
)

// File represents one uploaded document. Its Fingerprint is unique across all
// files and acts as the deduplication key: uploading the same bytes under a
// different name resolves to the existing File.
type File struct {
	ID             uuid.UUID      `json:"id"`
	Fingerprint    string         `json:"fingerprint"`
	OriginalName   string         `json:"original_name"`
	DeclaredType   FileType       `json:"declared_type"`
	ByteSize       int64          `json:"byte_size"`
	StorageLocator string         `json:"storage_locator"`
	Status         FileStatus     `json:"status"`
	Owner          *string        `json:"owner,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// Finish moves a pending file to status. Processed files are stamped with at.
func (f *File) Finish(status FileStatus, at time.Time) error {
	if f.Status != FileStatusPending {
		return fmt.Errorf("%w: file %s is %s", ErrInvalidTransition, f.ID, f.Status)
	}
	f.Status = status
	if status == FileStatusProcessed {
		f.ProcessedAt = &at
	}
	return nil
}

// ContentExtraction is the text extracted from a File by one extractor run.
// Records are immutable; a file may carry several and the newest one is
// authoritative. Length always equals the rune count of Text.
type ContentExtraction struct {
	ID           uuid.UUID `json:"id"`
	FileID       uuid.UUID `json:"file_id"`
	Text         string    `json:"text"`
	Length       int       `json:"length"`
	LanguageCode string    `json:"language_code"`
	Encoding     string    `json:"encoding"`
	Method       *string   `json:"method,omitempty"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStatus is the state of a ProcessingSession.
type SessionStatus string

const (
	SessionQueued     SessionStatus = "queued"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// ActiveSessionStatuses are the states that count against the
// one-active-session-per-file rule.
var ActiveSessionStatuses = []SessionStatus{SessionQueued, SessionProcessing}

// Step is one entry of a session's audit trail. It carries no control-flow
// meaning.
type Step struct {
	Name      string    `json:"step"`
	Outcome   string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// ProcessingSession is one attempt to take a File from queued to a terminal
// state. At most one session per file may be queued or processing.
type ProcessingSession struct {
	ID           uuid.UUID     `json:"id"`
	FileID       uuid.UUID     `json:"file_id"`
	Status       SessionStatus `json:"status"`
	Steps        []Step        `json:"steps"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	DurationMs   *int64        `json:"duration_ms,omitempty"`
}

// EntityKindFile is the kind used when a File is an edge endpoint.
const EntityKindFile = "file"

// EntityRef is a polymorphic reference to a node of the relationship graph:
// either a File or a pre-existing corpus entity.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// FileRef returns the graph reference of a file.
func FileRef(id uuid.UUID) EntityRef {
	return EntityRef{Kind: EntityKindFile, ID: id.String()}
}

func (r EntityRef) String() string {
	return r.Kind + ":" + r.ID
}

// Relationship is a directed, typed, weighted edge. Parallel edges with the
// same endpoints and type are allowed and never merged.
type Relationship struct {
	ID          uuid.UUID `json:"id"`
	Source      EntityRef `json:"source"`
	Target      EntityRef `json:"target"`
	Type        string    `json:"relationship_type"`
	Strength    float64   `json:"strength"`
	ContextText *string   `json:"context_text,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tag is a classification label on a File. (FileID, Name, Category) is unique.
type Tag struct {
	ID         uuid.UUID `json:"id"`
	FileID     uuid.UUID `json:"file_id"`
	Name       string    `json:"tag_name"`
	Category   string    `json:"tag_category"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CorpusEntity is a node of the pre-existing domain corpus that files get
// linked against.
type CorpusEntity struct {
	Ref         EntityRef `json:"ref"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Defaults applied when a caller leaves optional values unset.
const (
	DefaultLanguageCode           = "en"
	DefaultEncoding               = "utf-8"
	DefaultExtractionConfidence   = 1.0
	DefaultRelationshipStrength   = 0.5
	DefaultRelationshipConfidence = 0.5
	DefaultTagCategory            = "user"
	DefaultTagConfidence          = 1.0
)

// InUnitRange reports whether v lies in [0,1].
func InUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// Direction selects which edges of an entity to return.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection maps an external value to a Direction, defaulting to both.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return Direction(s), true
	case "":
		return DirectionBoth, true
	}
	return "", false
}
