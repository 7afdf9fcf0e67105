package middleware

import (
	"testing"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"

	"github.com/golang-jwt/jwt/v5"
)

func TestCanViewFile(t *testing.T) {
	owner := "u1"
	owned := ingest.File{Owner: &owner}
	anonymous := ingest.File{}

	cases := []struct {
		name string
		user *AppUser
		file ingest.File
		want bool
	}{
		{"nil user", nil, anonymous, false},
		{"owner", &AppUser{UserID: "u1"}, owned, true},
		{"other user", &AppUser{UserID: "u2"}, owned, false},
		{"admin", &AppUser{UserID: "u2", Role: "admin"}, owned, true},
		{"view all", &AppUser{UserID: "u2", Permissions: []string{"file.view:all"}}, owned, true},
		{"anonymous caller", &AppUser{Anonymous: true}, owned, false},
		{"anonymous file", &AppUser{Anonymous: true}, anonymous, true},
	}
	for _, tc := range cases {
		if got := CanViewFile(tc.user, tc.file); got != tc.want {
			t.Fatalf("%s: CanViewFile = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOwner(t *testing.T) {
	if Owner(&AppUser{Anonymous: true}) != nil {
		t.Fatalf("anonymous user must not own files")
	}
	if Owner(nil) != nil {
		t.Fatalf("nil user must not own files")
	}
	got := Owner(&AppUser{UserID: "u1"})
	if got == nil || *got != "u1" {
		t.Fatalf("Owner = %v, want u1", got)
	}
}

func TestUserIDFromClaims(t *testing.T) {
	cases := []struct {
		claims jwt.MapClaims
		want   string
		ok     bool
	}{
		{jwt.MapClaims{"id": "abc"}, "abc", true},
		{jwt.MapClaims{"id": float64(42)}, "42", true},
		{jwt.MapClaims{"sub": "user-7"}, "user-7", true},
		{jwt.MapClaims{"id": ""}, "", false},
		{jwt.MapClaims{}, "", false},
	}
	for _, tc := range cases {
		got, ok := userIDFromClaims(tc.claims)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("userIDFromClaims(%v) = %q, %v; want %q, %v", tc.claims, got, ok, tc.want, tc.ok)
		}
	}
}
