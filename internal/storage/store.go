// Package storage provides the object store gateway: upload bytes under a
// name and get back a locator URL that alone is sufficient to download the
// same bytes later.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	// ErrUnavailable means the backing store could not be reached or timed out. Safe to retry.
	ErrUnavailable = errors.New("object store unavailable")
	// ErrRejected means the store refused this payload. Retrying the same payload will not help.
	ErrRejected = errors.New("object store rejected payload")
	// ErrQuota means a size or quota limit was hit.
	ErrQuota = fmt.Errorf("%w: quota exceeded", ErrRejected)
	// ErrNotFound means the locator does not resolve to an object.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidLocator means the locator is not a URL ending in {bucket}/{object}.
	ErrInvalidLocator = errors.New("invalid locator")
)

// ObjectStore is implemented by every blob backend.
type ObjectStore interface {
	// Upload stores data under name and returns its locator.
	Upload(ctx context.Context, data []byte, name, contentType string) (string, error)
	// Download returns the exact bytes stored at locator.
	Download(ctx context.Context, locator string) ([]byte, error)
	// Delete removes the object at locator.
	Delete(ctx context.Context, locator string) error
	// Name identifies the backend ("s3", "ipfs", "memory").
	Name() string
	// Simulated reports whether the backend fabricates storage (non-production).
	Simulated() bool
}

// ParseLocator returns the last two path segments of a locator URL as
// (bucket or namespace, object name).
func ParseLocator(locator string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidLocator)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: missing host", ErrInvalidLocator)
	}

	segments := make([]string, 0, 4)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return "", "", fmt.Errorf("%w: expected {bucket}/{object} path", ErrInvalidLocator)
	}

	bucket, err := url.PathUnescape(segments[len(segments)-2])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	object, err := url.PathUnescape(segments[len(segments)-1])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if bucket == ".." || object == ".." {
		return "", "", fmt.Errorf("%w: path traversal", ErrInvalidLocator)
	}
	return bucket, object, nil
}

// BuildLocator joins a base URL with bucket and object segments.
func BuildLocator(baseURL, bucket, object string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(object)
}

// ObjectName derives the stored object name for a product document:
// {productId}-{unixMillis}.{ext}, with ext taken from the original filename.
func ObjectName(productID, originalFilename string, now time.Time) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(originalFilename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%d.%s", productID, now.UnixMilli(), ext)
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
