package fingerprint

import (
	"bytes"
	"testing"
)

func TestSum_Deterministic(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if string(a) != want {
		t.Fatalf("expected %s, got %s", want, a)
	}
}

func TestSum_DifferentBytes(t *testing.T) {
	if Sum([]byte("hello")) == Sum([]byte("hello ")) {
		t.Fatal("expected different fingerprints for different bytes")
	}
}

func TestFromReader_MatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 10000)
	v, n, err := FromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes, got %d", len(data), n)
	}
	if v != Sum(data) {
		t.Fatalf("expected %s, got %s", Sum(data), v)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{name: "sum output", v: Sum(nil), want: true},
		{name: "empty", v: "", want: false},
		{name: "uppercase", v: Value("2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824"), want: false},
		{name: "too short", v: Value("abc"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShort(t *testing.T) {
	if got := Sum([]byte("hello")).Short(); got != "2cf24dba5fb0a30e" {
		t.Fatalf("expected 2cf24dba5fb0a30e, got %s", got)
	}
}
