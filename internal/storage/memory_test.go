package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()
	data := []byte("hello world")

	locator, err := store.Upload(ctx, data, "BATCH-001-1.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(locator, SimulatedBaseURL+"/"+DefaultBucket+"/") {
		t.Errorf("unexpected locator: %s", locator)
	}

	// Mutating the caller's slice must not change the stored object.
	data[0] = 'J'

	got, err := store.Download(ctx, locator)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("round trip mismatch: %q", got)
	}

	if !store.Simulated() || store.Name() != "memory" {
		t.Error("memory store should report itself as simulated")
	}
}

func TestMemoryStore_NotFoundAndDelete(t *testing.T) {
	store := NewMemoryStore("bucket")
	ctx := context.Background()

	if _, err := store.Download(ctx, SimulatedBaseURL+"/bucket/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	locator, err := store.Upload(ctx, []byte("x"), "a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := store.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Download(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestMemoryStore_Faults(t *testing.T) {
	store := NewMemoryStore("bucket")
	ctx := context.Background()

	store.SetUploadError(ErrUnavailable)
	if _, err := store.Upload(ctx, []byte("x"), "a.pdf", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected injected upload error, got %v", err)
	}
	store.SetUploadError(nil)

	store.SetMaxObjectSize(4)
	if _, err := store.Upload(ctx, []byte("too large"), "a.pdf", ""); !errors.Is(err, ErrQuota) {
		t.Errorf("expected ErrQuota, got %v", err)
	}
	store.SetMaxObjectSize(0)

	locator, err := store.Upload(ctx, []byte("x"), "a.pdf", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	store.SetDownloadError(ErrUnavailable)
	if _, err := store.Download(ctx, locator); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected injected download error, got %v", err)
	}
	store.SetDownloadError(nil)

	store.SetDelays(0, time.Second)
	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := store.Download(shortCtx, locator); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on delayed download, got %v", err)
	}
}

func TestMemoryStore_Replace(t *testing.T) {
	store := NewMemoryStore("bucket")
	ctx := context.Background()

	locator, err := store.Upload(ctx, []byte("original"), "a.pdf", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := store.Replace(locator, []byte("tampered")); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.Download(ctx, locator)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(got) != "tampered" {
		t.Errorf("expected tampered bytes, got %q", got)
	}

	objects, uploads, downloads := store.Stats()
	if objects != 1 || uploads != 1 || downloads != 1 {
		t.Errorf("unexpected stats: objects=%d uploads=%d downloads=%d", objects, uploads, downloads)
	}
}
