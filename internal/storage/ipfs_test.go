package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// fakeIPFS mimics the IPFS HTTP API with content-derived CIDs.
type fakeIPFS struct {
	mu      sync.Mutex
	objects map[string][]byte
	pinned  map[string]bool
	addErr  error
	catErr  error
	delay   time.Duration
}

func newFakeIPFS() *fakeIPFS {
	return &fakeIPFS{objects: make(map[string][]byte), pinned: make(map[string]bool)}
}

func (f *fakeIPFS) Add(r io.Reader, options ...shell.AddOpts) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	cid := "bafk" + hex.EncodeToString(sum[:])[:40]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[cid] = data
	f.pinned[cid] = true
	return cid, nil
}

func (f *fakeIPFS) Cat(path string) (io.ReadCloser, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.catErr != nil {
		return nil, f.catErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, &shell.Error{Command: "cat", Message: "block was not found locally (offline): ipld: could not find " + path}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeIPFS) Unpin(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pinned[path] {
		return &shell.Error{Command: "pin/rm", Message: "not pinned or pinned indirectly"}
	}
	delete(f.pinned, path)
	return nil
}

func TestIPFSStore_RoundTrip(t *testing.T) {
	fake := newFakeIPFS()
	store := newIPFSStore(fake, "https://gateway.example")
	ctx := context.Background()

	locator, err := store.Upload(ctx, []byte("hello world"), "BATCH-001-1.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(locator, "https://gateway.example/ipfs/bafk") {
		t.Errorf("unexpected locator: %s", locator)
	}
	if !strings.Contains(locator, "filename=BATCH-001-1.pdf") {
		t.Errorf("locator should carry filename hint: %s", locator)
	}

	got, err := store.Download(ctx, locator)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("round trip mismatch: %q", got)
	}

	if err := store.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound unpinning twice, got %v", err)
	}
}

func TestIPFSStore_Errors(t *testing.T) {
	fake := newFakeIPFS()
	store := newIPFSStore(fake, "")
	ctx := context.Background()

	if _, err := store.Download(ctx, "https://ipfs.io/ipfs/bafkmissing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Download(ctx, "https://ipfs.io/bucket/object"); !errors.Is(err, ErrInvalidLocator) {
		t.Errorf("expected ErrInvalidLocator for non-ipfs locator, got %v", err)
	}

	fake.addErr = errors.New("Post \"http://localhost:5001/api/v0/add\": dial tcp: connection refused")
	if _, err := store.Upload(ctx, []byte("x"), "a.pdf", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestIPFSStore_ContextDeadline(t *testing.T) {
	fake := newFakeIPFS()
	store := newIPFSStore(fake, "https://ipfs.io")

	locator, err := store.Upload(context.Background(), []byte("x"), "a.pdf", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	fake.delay = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := store.Download(ctx, locator); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on deadline, got %v", err)
	}
}
