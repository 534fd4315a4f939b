package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w: bad", ErrInvalidInput), KindInputInvalid},
		{storage.ErrInvalidLocator, KindInputInvalid},
		{ErrAlreadyRegistered, KindConflict},
		{ErrBusy, KindConflict},
		{storage.ErrUnavailable, KindStorageUnavailable},
		{ledger.ErrUnavailable, KindStorageUnavailable},
		{context.DeadlineExceeded, KindStorageUnavailable},
		{storage.ErrRejected, KindStorageRejected},
		{storage.ErrQuota, KindStorageRejected},
		{storage.ErrNotFound, KindNotFound},
		{ledger.ErrNotFound, KindNotFound},
		{ledger.ErrUncertain, KindLedgerUncertain},
		{errors.Join(ledger.ErrUnavailable, ledger.ErrUncertain), KindLedgerUncertain},
		{ledger.ErrRejected, KindLedgerRejected},
		{fmt.Errorf("%w: no signing key configured", ledger.ErrRejected), KindLedgerRejected},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:      KindLedgerUncertain,
		Op:        opStore,
		Stage:     StageRecording,
		ProductID: "BATCH-001",
		Locator:   "https://host/bucket/obj",
		Err:       ledger.ErrUncertain,
	}

	msg := err.Error()
	for _, want := range []string{"store", "BATCH-001", "recording", "orphaned blob https://host/bucket/obj"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, ledger.ErrUncertain) {
		t.Error("Error must unwrap to the gateway sentinel")
	}

	wrapped := fmt.Errorf("upload handler: %w", err)
	if KindOf(wrapped) != KindLedgerUncertain || OrphanedLocator(wrapped) != err.Locator {
		t.Error("kind and locator must survive wrapping")
	}
}
