// Package verification orchestrates the two authenticity pipelines: Store
// (hash, upload, record on the ledger) and Verify (fetch the recorded digest,
// download the blob, re-hash and compare).
package verification

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/storage"
	"github.com/scanchain/scanchain/internal/util"
	"github.com/scanchain/scanchain/pkg/types"
)

const (
	opStore   = "store"
	opVerify  = "verify"
	opProduct = "product"
)

const tracerName = "github.com/scanchain/scanchain/internal/verification"

// Config bounds the pipelines.
type Config struct {
	MaxFileSize         int64
	AllowedContentTypes []string // empty allows any type

	LockTimeout     time.Duration
	UploadTimeout   time.Duration
	DownloadTimeout time.Duration
	LedgerTimeout   time.Duration // ledger reads and the duplicate check
	RecordTimeout   time.Duration // ledger write including confirmation
	StoreTimeout    time.Duration
	VerifyTimeout   time.Duration
	NotifyTimeout   time.Duration
}

// DefaultConfig returns the default pipeline limits.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:         10 << 20,
		AllowedContentTypes: []string{"application/pdf", "application/json"},
		LockTimeout:         10 * time.Second,
		UploadTimeout:       60 * time.Second,
		DownloadTimeout:     60 * time.Second,
		LedgerTimeout:       30 * time.Second,
		RecordTimeout:       3 * time.Minute,
		StoreTimeout:        5 * time.Minute,
		VerifyTimeout:       2 * time.Minute,
		NotifyTimeout:       30 * time.Second,
	}
}

// StoreRequest is the input to Store.
type StoreRequest struct {
	ProductID  string
	Data       []byte
	Meta       types.FileMeta
	Uploader   types.Identity
	Attributes map[string]string // forwarded to notifiers untouched
}

// StoreResult is returned by a successful Store.
type StoreResult struct {
	ProductID string         `json:"productId"`
	Digest    hashing.Digest `json:"fileHash"`
	Locator   string         `json:"storageLocator"`
	Receipt   ledger.Receipt `json:"ledgerReceipt"`
	Simulated bool           `json:"simulated,omitempty"`
}

// Service runs the Store and Verify pipelines over one ledger and one object store.
type Service struct {
	cfg      *Config
	ledger   ledger.Ledger
	store    storage.ObjectStore
	locker   Locker
	notifier Notifier
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time

	notifyWG sync.WaitGroup
}

// NewService creates a service with an in-process locker and no notifier.
func NewService(cfg *Config, l ledger.Ledger, store storage.ObjectStore) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:      cfg,
		ledger:   l,
		store:    store,
		locker:   NewLocalLocker(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

// SetLocker replaces the per-product locker.
func (s *Service) SetLocker(locker Locker) {
	s.locker = locker
}

// SetNotifier sets the notifier called after each successful Store.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRecorder sets the metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// Ledger returns the ledger gateway.
func (s *Service) Ledger() ledger.Ledger {
	return s.ledger
}

// ObjectStore returns the object store gateway.
func (s *Service) ObjectStore() storage.ObjectStore {
	return s.store
}

// Simulated reports whether either gateway is simulated.
func (s *Service) Simulated() bool {
	return s.ledger.Simulated() || s.store.Simulated()
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.notifyWG.Wait()
}

// Store hashes req.Data, uploads it and records the digest on the ledger.
// Steps run in fixed order and nothing is rolled back: a ledger failure after
// upload leaves the blob in place and reports its locator on the error.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scanchain.verification.store",
		trace.WithAttributes(
			attribute.String("scanchain.product_id", req.ProductID),
			attribute.Int("scanchain.size", len(req.Data)),
			attribute.String("scanchain.storage", s.store.Name()),
		))
	defer span.End()

	result, err := s.runStore(ctx, span, req)
	s.finish(span, opStore, start, err, "stored")
	if err != nil {
		logging.WarnContext(ctx, "store failed",
			logging.ProductID(req.ProductID),
			logging.Stage(stageOf(err).String()),
			"kind", string(KindOf(err)),
			logging.Err(err),
			logging.Component("verification"))
		logging.Audit(logging.AuditEvent{
			Operation: "product_stored",
			Actor:     req.Uploader.UserID,
			Target:    req.ProductID,
			Result:    "failure",
			Details:   string(KindOf(err)),
		})
		return nil, err
	}

	logging.InfoContext(ctx, "product stored",
		logging.ProductID(result.ProductID),
		"digest", result.Digest.String(),
		"locator", result.Locator,
		"tx", result.Receipt.TxHash,
		"simulated", result.Simulated,
		logging.Component("verification"))
	logging.Audit(logging.AuditEvent{
		Operation: "product_stored",
		Actor:     req.Uploader.UserID,
		Target:    req.ProductID,
		Result:    "success",
		Details:   result.Receipt.TxHash,
	})

	s.notify(ctx, req, result)
	return result, nil
}

func (s *Service) runStore(ctx context.Context, span trace.Span, req StoreRequest) (*StoreResult, error) {
	if err := s.validateStore(req); err != nil {
		return nil, err
	}

	var release func()
	err := s.stage(ctx, span, opStore, StageLocking, func() error {
		lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
		var err error
		release, err = s.locker.Lock(lockCtx, req.ProductID)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return err
	})
	if err != nil {
		return nil, newError(opStore, StageLocking, req.ProductID, err)
	}
	defer release()

	err = s.stage(ctx, span, opStore, StageCheckingDuplicate, func() error {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
		defer cancel()
		exists, err := s.ledger.Exists(readCtx, req.ProductID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyRegistered
		}
		return nil
	})
	if err != nil {
		return nil, newError(opStore, StageCheckingDuplicate, req.ProductID, err)
	}

	var digest hashing.Digest
	_ = s.stage(ctx, span, opStore, StageHashing, func() error {
		digest = hashing.Sum(req.Data)
		return nil
	})
	span.SetAttributes(attribute.String("scanchain.digest", digest.String()))

	var locator string
	err = s.stage(ctx, span, opStore, StageUploading, func() error {
		uploadCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()
		name := storage.ObjectName(req.ProductID, req.Meta.OriginalFilename, s.now())
		var err error
		locator, err = s.store.Upload(uploadCtx, req.Data, name, req.Meta.ContentType)
		return err
	})
	if err != nil {
		return nil, newError(opStore, StageUploading, req.ProductID, err)
	}

	var receipt ledger.Receipt
	err = s.stage(ctx, span, opStore, StageRecording, func() error {
		recordCtx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
		defer cancel()
		var err error
		receipt, err = s.ledger.Put(recordCtx, req.ProductID, digest)
		return err
	})
	if err != nil {
		verr := newError(opStore, StageRecording, req.ProductID, err)
		verr.Locator = locator
		verr.TxHash = receipt.TxHash
		logging.WarnContext(ctx, "ledger write failed after upload; blob left in place",
			logging.ProductID(req.ProductID),
			"locator", locator,
			"tx", receipt.TxHash,
			"uncertain", errors.Is(err, ledger.ErrUncertain),
			logging.Component("verification"))
		return nil, verr
	}

	return &StoreResult{
		ProductID: req.ProductID,
		Digest:    digest,
		Locator:   locator,
		Receipt:   receipt,
		Simulated: s.Simulated() || receipt.Simulated,
	}, nil
}

func (s *Service) validateStore(req StoreRequest) error {
	if !types.ValidProductID(req.ProductID) {
		return invalid(opStore, req.ProductID, "product ID must match [A-Za-z0-9_-]+ and be at most %d characters", types.MaxProductIDLength)
	}
	if len(req.Data) == 0 {
		return invalid(opStore, req.ProductID, "file is empty")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(req.Data)) > s.cfg.MaxFileSize {
		return invalid(opStore, req.ProductID, "file exceeds %d bytes", s.cfg.MaxFileSize)
	}
	if len(s.cfg.AllowedContentTypes) > 0 && !s.allowedType(req.Meta.ContentType) {
		return invalid(opStore, req.ProductID, "content type %q is not allowed", req.Meta.ContentType)
	}
	return nil
}

func (s *Service) allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedContentTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

func (s *Service) notify(ctx context.Context, req StoreRequest, result *StoreResult) {
	if s.notifier == nil {
		return
	}

	n := Notification{
		ProductID:  result.ProductID,
		Digest:     result.Digest,
		Locator:    result.Locator,
		Receipt:    result.Receipt,
		Uploader:   req.Uploader,
		Meta:       req.Meta,
		Simulated:  result.Simulated,
		StoredAt:   s.now().UTC(),
		Attributes: req.Attributes,
	}
	if n.Meta.Size == 0 {
		n.Meta.Size = int64(len(req.Data))
	}

	// Detached from the request so the response is not held up and a
	// client disconnect does not cancel bookkeeping.
	notifyCtx := context.WithoutCancel(ctx)
	s.notifyWG.Add(1)
	util.SafeGoWithName("verification-notify", func() {
		defer s.notifyWG.Done()
		hctx, cancel := context.WithTimeout(notifyCtx, s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Handle(hctx, n); err != nil {
			logging.Warn("store notification failed",
				logging.ProductID(n.ProductID),
				logging.Err(err),
				logging.Component("verification"))
		}
	})
}

// Verify re-derives the digest of the blob at locator and compares it with
// the digest recorded for productID. An unregistered product is a negative
// verdict; any gateway failure is an error, never a verdict.
func (s *Service) Verify(ctx context.Context, productID, locator string) (types.VerificationResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scanchain.verification.verify",
		trace.WithAttributes(
			attribute.String("scanchain.product_id", productID),
			attribute.String("scanchain.locator", locator),
		))
	defer span.End()

	result, err := s.runVerify(ctx, span, productID, locator)
	outcome := "authentic"
	switch {
	case err != nil:
	case result.Reason == types.ReasonProductNotRegistered:
		outcome = "not_registered"
	case !result.IsAuthentic:
		outcome = "tampered"
	}
	s.finish(span, opVerify, start, err, outcome)

	if err != nil {
		logging.WarnContext(ctx, "verify failed",
			logging.ProductID(productID),
			logging.Stage(stageOf(err).String()),
			"kind", string(KindOf(err)),
			logging.Err(err),
			logging.Component("verification"))
		return types.VerificationResult{}, err
	}

	span.SetAttributes(attribute.Bool("scanchain.authentic", result.IsAuthentic))
	logging.InfoContext(ctx, "product verified",
		logging.ProductID(productID),
		"authentic", result.IsAuthentic,
		"reason", string(result.Reason),
		logging.Component("verification"))
	logging.Audit(logging.AuditEvent{
		Operation: "product_verified",
		Target:    productID,
		Result:    outcome,
		Details:   locator,
	})
	return result, nil
}

func (s *Service) runVerify(ctx context.Context, span trace.Span, productID, locator string) (types.VerificationResult, error) {
	result := types.VerificationResult{ProductID: productID, Simulated: s.Simulated()}

	if !types.ValidProductID(productID) {
		return result, invalid(opVerify, productID, "product ID must match [A-Za-z0-9_-]+ and be at most %d characters", types.MaxProductIDLength)
	}
	if _, _, err := storage.ParseLocator(locator); err != nil {
		return result, newError(opVerify, StageValidating, productID, err)
	}

	var record types.ProductRecord
	err := s.stage(ctx, span, opVerify, StageFetchingLedger, func() error {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
		defer cancel()
		var err error
		record, err = s.ledger.Get(readCtx, productID)
		return err
	})
	if errors.Is(err, ledger.ErrNotFound) {
		result.Reason = types.ReasonProductNotRegistered
		result.CheckedAt = s.now().UTC()
		return result, nil
	}
	if err != nil {
		return result, newError(opVerify, StageFetchingLedger, productID, err)
	}
	result.StoredDigest = record.FileHash
	result.Simulated = result.Simulated || record.Simulated

	var data []byte
	err = s.stage(ctx, span, opVerify, StageDownloadingBlob, func() error {
		dlCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
		defer cancel()
		var err error
		data, err = s.store.Download(dlCtx, locator)
		return err
	})
	if err != nil {
		return result, newError(opVerify, StageDownloadingBlob, productID, err)
	}

	_ = s.stage(ctx, span, opVerify, StageRehashing, func() error {
		result.CurrentDigest = hashing.Sum(data).String()
		return nil
	})

	_ = s.stage(ctx, span, opVerify, StageComparing, func() error {
		result.IsAuthentic = hashing.Equal(result.StoredDigest, result.CurrentDigest)
		if !result.IsAuthentic {
			result.Reason = types.ReasonDigestMismatch
		}
		return nil
	})
	result.CheckedAt = s.now().UTC()
	return result, nil
}

// ProductInfo returns the ledger record for productID.
func (s *Service) ProductInfo(ctx context.Context, productID string) (types.ProductRecord, error) {
	if !types.ValidProductID(productID) {
		return types.ProductRecord{}, invalid(opProduct, productID, "invalid product ID")
	}
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	record, err := s.ledger.Get(readCtx, productID)
	if err != nil {
		return types.ProductRecord{}, newError(opProduct, StageFetchingLedger, productID, err)
	}
	return record, nil
}

// Registered reports whether productID has a ledger record.
func (s *Service) Registered(ctx context.Context, productID string) (bool, error) {
	if !types.ValidProductID(productID) {
		return false, invalid(opProduct, productID, "invalid product ID")
	}
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	exists, err := s.ledger.Exists(readCtx, productID)
	if err != nil {
		return false, newError(opProduct, StageFetchingLedger, productID, err)
	}
	return exists, nil
}

// stage runs fn as one named pipeline step, recording its duration and a span event.
func (s *Service) stage(ctx context.Context, span trace.Span, op string, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)

	s.recorder.ObserveStage(op, stage.String(), d, err)
	span.AddEvent(stage.String(), trace.WithAttributes(
		attribute.Int64("duration_ms", d.Milliseconds()),
		attribute.Bool("ok", err == nil),
	))
	logging.DebugContext(ctx, "stage finished",
		"op", op,
		logging.Stage(stage.String()),
		"duration", d,
		"ok", err == nil,
		logging.Component("verification"))
	return err
}

func (s *Service) finish(span trace.Span, op string, start time.Time, err error, outcome string) {
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		span.SetAttributes(attribute.String("scanchain.stage", stageOf(err).String()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	s.recorder.ObservePipeline(op, outcome, time.Since(start))
}

func stageOf(err error) Stage {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Stage
	}
	return ""
}
