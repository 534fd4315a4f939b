package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bounded wraps an ObjectStore so that every call runs under its own deadline.
// A call that overruns the deadline fails with ErrUnavailable.
type Bounded struct {
	ObjectStore
	timeout time.Duration
}

// WithTimeout returns store bounded by timeout. A non-positive timeout returns store unchanged.
func WithTimeout(store ObjectStore, timeout time.Duration) ObjectStore {
	if timeout <= 0 {
		return store
	}
	return &Bounded{ObjectStore: store, timeout: timeout}
}

// Upload implements ObjectStore.
func (b *Bounded) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	locator, err := b.ObjectStore.Upload(ctx, data, name, contentType)
	return locator, b.deadline(ctx, "upload", err)
}

// Download implements ObjectStore.
func (b *Bounded) Download(ctx context.Context, locator string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	data, err := b.ObjectStore.Download(ctx, locator)
	return data, b.deadline(ctx, "download", err)
}

// Delete implements ObjectStore.
func (b *Bounded) Delete(ctx context.Context, locator string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	return b.deadline(ctx, "delete", b.ObjectStore.Delete(ctx, locator))
}

func (b *Bounded) deadline(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %s timed out after %s: %v", ErrUnavailable, op, b.timeout, err)
	}
	return err
}
