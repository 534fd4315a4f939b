package types

import (
	"regexp"
	"time"
)

// MaxProductIDLength bounds product identifiers accepted at the boundary.
const MaxProductIDLength = 128

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidProductID reports whether id is a non-empty [A-Za-z0-9_-]+ string within the length bound.
func ValidProductID(id string) bool {
	return len(id) > 0 && len(id) <= MaxProductIDLength && productIDPattern.MatchString(id)
}

// ProductRecord is the ledger entry for one product: the digest recorded
// for it, who recorded it and when.
type ProductRecord struct {
	ProductID string    `json:"productId"`
	FileHash  string    `json:"fileHash"`
	Owner     string    `json:"owner,omitempty"` // empty when the ledger reports the zero address
	Timestamp time.Time `json:"timestamp"`
	Simulated bool      `json:"simulated,omitempty"`
}

// VerificationReason explains a negative (or positive) verdict.
type VerificationReason string

const (
	ReasonNone                 VerificationReason = ""
	ReasonProductNotRegistered VerificationReason = "ProductNotRegistered"
	ReasonDigestMismatch       VerificationReason = "DigestMismatch"
)

// VerificationResult is computed fresh on every Verify call and never persisted.
type VerificationResult struct {
	ProductID     string             `json:"productId"`
	IsAuthentic   bool               `json:"isAuthentic"`
	StoredDigest  string             `json:"storedDigest,omitempty"`
	CurrentDigest string             `json:"currentDigest,omitempty"`
	Reason        VerificationReason `json:"reason,omitempty"`
	CheckedAt     time.Time          `json:"checkedAt"`
	Simulated     bool               `json:"simulated,omitempty"`
}

// Message returns the human-readable verdict used in API responses.
func (r VerificationResult) Message() string {
	switch {
	case r.IsAuthentic:
		return "Product is authentic"
	case r.Reason == ReasonProductNotRegistered:
		return "Product not found on ledger"
	default:
		return "Product has been tampered with"
	}
}

// FileMeta describes an uploaded document.
type FileMeta struct {
	OriginalFilename string `json:"fileName"`
	ContentType      string `json:"mimeType"`
	Size             int64  `json:"fileSize"`
}

// Identity is the authenticated principal performing an operation.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role,omitempty"`
}
