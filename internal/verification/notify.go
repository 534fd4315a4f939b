package verification

import (
	"context"
	"errors"
	"time"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/pkg/types"
)

// Notification describes a completed Store. It is delivered after the
// response has been decided and its failure never affects the result.
type Notification struct {
	ProductID  string            `json:"productId"`
	Digest     hashing.Digest    `json:"digest"`
	Locator    string            `json:"locator"`
	Receipt    ledger.Receipt    `json:"receipt"`
	Uploader   types.Identity    `json:"uploaderIdentity"`
	Meta       types.FileMeta    `json:"fileMeta"`
	Simulated  bool              `json:"simulated,omitempty"`
	StoredAt   time.Time         `json:"storedAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Notifier receives store notifications.
type Notifier interface {
	Handle(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Handle implements Notifier.
func (f NotifierFunc) Handle(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// MultiNotifier fans a notification out to every notifier in order and
// joins their errors.
type MultiNotifier []Notifier

// Handle implements Notifier.
func (m MultiNotifier) Handle(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Handle(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
