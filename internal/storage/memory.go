package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulatedBaseURL is the host used in locators returned by MemoryStore.
const SimulatedBaseURL = "https://simulated.scanchain.local"

// MemoryStore is an in-process object store used in simulation mode and tests.
// Every locator it returns points at SimulatedBaseURL so simulated documents
// can never be mistaken for real ones.
type MemoryStore struct {
	bucket  string
	objects map[string]memoryObject // bucket/object -> content
	mu      sync.RWMutex

	// Fault injection
	faultMu       sync.RWMutex
	uploadErr     error
	downloadErr   error
	uploadDelay   time.Duration
	downloadDelay time.Duration
	maxSize       int64

	uploads   int
	downloads int
}

type memoryObject struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// NewMemoryStore creates an empty simulated store for bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

// Name implements ObjectStore.
func (m *MemoryStore) Name() string { return "memory" }

// Simulated implements ObjectStore.
func (m *MemoryStore) Simulated() bool { return true }

// SetUploadError makes every Upload fail with err (nil clears).
func (m *MemoryStore) SetUploadError(err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.uploadErr = err
}

// SetDownloadError makes every Download fail with err (nil clears).
func (m *MemoryStore) SetDownloadError(err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.downloadErr = err
}

// SetDelays adds latency to uploads and downloads.
func (m *MemoryStore) SetDelays(upload, download time.Duration) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.uploadDelay = upload
	m.downloadDelay = download
}

// SetMaxObjectSize makes uploads larger than n bytes fail with ErrQuota (0 disables).
func (m *MemoryStore) SetMaxObjectSize(n int64) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.maxSize = n
}

// Upload implements ObjectStore.
func (m *MemoryStore) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	m.faultMu.RLock()
	injected, delay, maxSize := m.uploadErr, m.uploadDelay, m.maxSize
	m.faultMu.RUnlock()

	if injected != nil {
		return "", injected
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrQuota, len(data), maxSize)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty object name", ErrRejected)
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.objects[m.bucket+"/"+name] = memoryObject{data: stored, contentType: contentType, storedAt: time.Now()}
	m.uploads++
	m.mu.Unlock()

	return BuildLocator(SimulatedBaseURL, m.bucket, name), nil
}

// Download implements ObjectStore.
func (m *MemoryStore) Download(ctx context.Context, locator string) ([]byte, error) {
	m.faultMu.RLock()
	injected, delay := m.downloadErr, m.downloadDelay
	m.faultMu.RUnlock()

	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	obj, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, object)
	}

	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Delete implements ObjectStore.
func (m *MemoryStore) Delete(ctx context.Context, locator string) error {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + object
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

// Replace overwrites the bytes behind an existing locator. It simulates
// out-of-band tampering with a stored document.
func (m *MemoryStore) Replace(locator string, data []byte) error {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + object
	obj, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj.data = append([]byte(nil), data...)
	m.objects[key] = obj
	return nil
}

// Stats returns the number of stored objects and calls served.
func (m *MemoryStore) Stats() (objects, uploads, downloads int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects), m.uploads, m.downloads
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
