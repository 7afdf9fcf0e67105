package db

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "postgres://u:p@localhost:5432/ingest", want: "pgx5://u:p@localhost:5432/ingest"},
		{in: "postgresql://localhost/ingest?sslmode=disable", want: "pgx5://localhost/ingest?sslmode=disable"},
		{in: "pgx5://localhost/ingest", want: "pgx5://localhost/ingest"},
	}
	for _, tt := range tests {
		if got := MigrateURL(tt.in); got != tt.want {
			t.Fatalf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(entries) == 0 || len(entries)%2 != 0 {
		t.Fatalf("expected up/down pairs, got %d files", len(entries))
	}
}
