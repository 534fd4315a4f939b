// Package hashing computes the content digests recorded on the ledger.
//
// Digests are SHA-256 rendered as 64 lowercase hex characters so that any
// independent implementation produces bit-for-bit comparable values.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Algorithm names the hash function used for every Digest.
const Algorithm = "sha256"

// Size is the hex length of a Digest.
const Size = sha256.Size * 2

// ErrInvalidDigest is returned when a string is not a 64-char hex digest.
var ErrInvalidDigest = errors.New("invalid content digest")

// Digest is the lowercase hex SHA-256 of a payload.
type Digest string

// String returns the digest as hex.
func (d Digest) String() string {
	return string(d)
}

// Sum returns the digest of data. Empty input is valid.
func Sum(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// SumReader streams r through the hash and returns the digest and byte count.
func SumReader(r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), n, nil
}

// SumFile hashes the file at path.
func SumFile(path string) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return SumReader(f)
}

// Parse validates s as a hex digest of any case and returns it normalized to lowercase.
func Parse(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	if len(s) != Size {
		return "", fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidDigest, Size, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return Digest(strings.ToLower(s)), nil
}

// Equal reports whether two hex digests are the same, ignoring case.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// VerifyFile checks that the file at path hashes to expected.
func VerifyFile(path string, expected string) error {
	actual, _, err := SumFile(path)
	if err != nil {
		return err
	}
	if !Equal(actual.String(), expected) {
		return fmt.Errorf("integrity check failed: expected %s, got %s", expected, actual)
	}
	return nil
}
