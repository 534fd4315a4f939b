package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_Download(t *testing.T) {
	mem := NewMemoryStore("bucket")
	locator, err := mem.Upload(context.Background(), []byte("x"), "a.pdf", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	mem.SetDelays(0, 500*time.Millisecond)

	store := WithTimeout(mem, 20*time.Millisecond)

	start := time.Now()
	_, err = store.Download(context.Background(), locator)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("download was not bounded: took %s", elapsed)
	}
}

func TestWithTimeout_PassesThroughOtherErrors(t *testing.T) {
	store := WithTimeout(NewMemoryStore("bucket"), time.Second)

	_, err := store.Download(context.Background(), SimulatedBaseURL+"/bucket/missing.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("a missing object must not be reported as unavailable")
	}
}

func TestWithTimeout_Disabled(t *testing.T) {
	mem := NewMemoryStore("bucket")
	if got := WithTimeout(mem, 0); got != ObjectStore(mem) {
		t.Error("zero timeout should return the store unchanged")
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Options{Backend: "memory"}); !errors.Is(err, ErrSimulationDisabled) {
		t.Errorf("expected ErrSimulationDisabled, got %v", err)
	}

	store, err := New(ctx, Options{Backend: "memory", Simulation: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !store.Simulated() {
		t.Error("memory backend must be flagged simulated")
	}
	if _, ok := store.(*Bounded); !ok {
		t.Errorf("expected bounded store, got %T", store)
	}

	if _, err := New(ctx, Options{Backend: "greenfield"}); err == nil {
		t.Error("unknown backend should fail")
	}

	ipfs, err := New(ctx, Options{Backend: "ipfs", IPFSAPI: "localhost:5001"})
	if err != nil {
		t.Fatalf("New ipfs failed: %v", err)
	}
	if ipfs.Name() != "ipfs" || ipfs.Simulated() {
		t.Errorf("unexpected ipfs store: %s simulated=%v", ipfs.Name(), ipfs.Simulated())
	}
}
