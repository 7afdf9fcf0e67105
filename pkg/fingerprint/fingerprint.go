// Package fingerprint computes the content identity used for deduplication.
// A fingerprint depends on the exact byte sequence only, never on the file
// name, metadata or declared type.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Value is a lowercase hex SHA-256 digest.
type Value string

// Sum returns the fingerprint of b.
func Sum(b []byte) Value {
	sum := sha256.Sum256(b)
	return Value(hex.EncodeToString(sum[:]))
}

// FromReader fingerprints everything read from r and returns the number of
// bytes consumed.
func FromReader(r io.Reader) (Value, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return Value(hex.EncodeToString(h.Sum(nil))), n, nil
}

// Valid reports whether v looks like a fingerprint produced by this package.
func (v Value) Valid() bool {
	if len(v) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short returns a prefix suitable for log lines.
func (v Value) Short() string {
	if len(v) <= 16 {
		return string(v)
	}
	return string(v[:16])
}

func (v Value) String() string {
	return string(v)
}
