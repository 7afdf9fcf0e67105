package pgx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "no rows", in: pgxv5.ErrNoRows, want: ingest.ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("scan: %w", pgxv5.ErrNoRows), want: ingest.ErrNotFound},
		{
			name: "active session index",
			in:   &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: activeSessionIndex},
			want: ingest.ErrConcurrentSessionExists,
		},
		{
			name: "foreign key",
			in:   &pgconn.PgError{Code: codeForeignKeyViolation, ConstraintName: "file_content_file_id_fkey"},
			want: ingest.ErrNotFound,
		},
		{
			name: "check",
			in:   &pgconn.PgError{Code: codeCheckViolation, ConstraintName: "file_tags_confidence_score_check"},
			want: ingest.ErrInvalidInput,
		},
		{name: "other", in: other, want: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMapErrorKeepsOtherUniqueViolations(t *testing.T) {
	in := &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "uploaded_files_pkey"}
	got := mapError(in)
	if errors.Is(got, ingest.ErrConcurrentSessionExists) {
		t.Fatalf("expected raw error, got %v", got)
	}
}
