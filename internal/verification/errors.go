package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/storage"
)

// Kind classifies a pipeline failure for callers deciding how to respond.
type Kind string

const (
	KindInputInvalid       Kind = "InputInvalid"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindStorageRejected    Kind = "StorageRejected"
	KindNotFound           Kind = "NotFound"
	KindLedgerUncertain    Kind = "LedgerUncertain"
	KindLedgerRejected     Kind = "LedgerRejected"
	KindConflict           Kind = "Conflict"
	KindInternal           Kind = "Internal"
)

var (
	// ErrInvalidInput is wrapped by every validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyRegistered is returned when a product ID already has a ledger record.
	ErrAlreadyRegistered = errors.New("product already registered")
	// ErrBusy is returned when the per-product lock could not be acquired in time.
	ErrBusy = errors.New("product is locked by another operation")
)

// Error is returned by Store and Verify. Stage names the step that failed.
type Error struct {
	Kind      Kind
	Op        string // "store" or "verify"
	Stage     Stage
	ProductID string
	// Locator is set when a blob was uploaded but the ledger write failed.
	Locator string
	// TxHash is set when a ledger transaction was sent but its outcome is unknown or reverted.
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed at %s: %v", e.Op, e.ProductID, e.Stage, e.Err)
	if e.Locator != "" {
		msg += " (orphaned blob " + e.Locator + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal for errors not produced by this package.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return classify(err)
}

// OrphanedLocator returns the uploaded blob left behind by a failed Store, if any.
func OrphanedLocator(err error) string {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Locator
	}
	return ""
}

// classify maps gateway sentinels onto kinds. Ledger uncertainty is checked
// first since an uncertain write must never be reported as a clean failure.
func classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, storage.ErrInvalidLocator):
		return KindInputInvalid
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrBusy):
		return KindConflict
	case errors.Is(err, ledger.ErrUncertain):
		return KindLedgerUncertain
	case errors.Is(err, ledger.ErrRejected):
		return KindLedgerRejected
	case errors.Is(err, storage.ErrRejected):
		return KindStorageRejected
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return KindNotFound
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, ledger.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

func newError(op string, stage Stage, productID string, err error) *Error {
	return &Error{
		Kind:      classify(err),
		Op:        op,
		Stage:     stage,
		ProductID: productID,
		Err:       err,
	}
}

func invalid(op, productID, format string, args ...any) *Error {
	return newError(op, StageValidating, productID, fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}
