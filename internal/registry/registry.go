// Package registry keeps the business records around stored documents:
// batches, supply-chain scans and searchable product metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/verification"
	"github.com/scanchain/scanchain/pkg/types"
)

var (
	// ErrNotFound is returned for unknown batches.
	ErrNotFound = errors.New("batch not found")
	// ErrExists is returned when a batch ID is stored twice.
	ErrExists = errors.New("batch already exists")
	// ErrEmptyQuery is returned by SearchProducts for a blank query.
	ErrEmptyQuery = errors.New("search query is required")
)

// Key prefixes of registry records in the KV.
const (
	PrefixBatch   = "batch/"
	PrefixProduct = "product/"
	PrefixScan    = "scan/"
)

const (
	keyScanSeq = "seq/scan"

	recentLimit = 10
)

// Search criteria accepted by SearchProducts.
const (
	CriteriaProductID    = "productId"
	CriteriaBatchName    = "batchName"
	CriteriaManufacturer = "manufacturer"
	CriteriaProductType  = "productType"
	CriteriaAll          = "all"
)

// BatchInput is the data recorded for a new batch. Empty fields take defaults.
type BatchInput struct {
	BatchID          string
	ManufacturerName string
	BatchName        string
	ProductType      string
	Description      string
	FileHash         string
	DocumentURL      string
	TxHash           string
	ContractAddress  string
	UserID           string
	UserEmail        string
	FileName         string
	FileSize         int64
	MimeType         string
	Simulated        bool
}

// ScanInput describes a scan event.
type ScanInput struct {
	SupplierName     string
	SupplierLocation string
	ScanType         string
	IPAddress        string
	UserAgent        string
	UserID           string
}

// Dashboard aggregates a manufacturer's batches and scan activity.
type Dashboard struct {
	ManufacturerID string        `json:"manufacturerId"`
	TotalBatches   int           `json:"totalBatches"`
	TotalScans     int           `json:"totalScans"`
	TotalSuppliers int           `json:"totalSuppliers"`
	Batches        []types.Batch `json:"batches"`
	RecentScans    []RecentScan  `json:"recentScans"`
	SupplierList   []string      `json:"supplierList"`
}

// RecentScan is a scan annotated with the batch name.
type RecentScan struct {
	types.Scan
	ProductName string `json:"productName"`
}

// UserMetadata summarizes one uploader's activity.
type UserMetadata struct {
	UserID         string          `json:"userId"`
	TotalUploads   int             `json:"totalUploads"`
	TotalScans     int             `json:"totalScans"`
	Products       []types.Product `json:"products"`
	RecentActivity []types.Scan    `json:"recentActivity"`
	UploadHistory  []UploadEntry   `json:"uploadHistory"`
}

// UploadEntry is one row of a user's upload history.
type UploadEntry struct {
	ProductID  string    `json:"productId"`
	BatchName  string    `json:"batchName"`
	UploadedAt time.Time `json:"uploadedAt"`
	FileHash   string    `json:"fileHash"`
	TxHash     string    `json:"txHash"`
}

// Registry stores batches, scans and product metadata in a KV.
type Registry struct {
	kv  KV
	now func() time.Time
}

// New creates a registry over kv.
func New(kv KV) *Registry {
	return &Registry{kv: kv, now: time.Now}
}

// Close closes the underlying KV.
func (r *Registry) Close() error {
	return r.kv.Close()
}

// Handle records the batch for a completed store. It implements verification.Notifier.
func (r *Registry) Handle(ctx context.Context, n verification.Notification) error {
	attrs := n.Attributes
	_, err := r.StoreBatch(BatchInput{
		BatchID:          n.ProductID,
		ManufacturerName: attrs["manufacturerName"],
		BatchName:        attrs["batchName"],
		ProductType:      attrs["productType"],
		Description:      attrs["description"],
		FileHash:         n.Digest.String(),
		DocumentURL:      n.Locator,
		TxHash:           n.Receipt.TxHash,
		ContractAddress:  attrs["contractAddress"],
		UserID:           n.Uploader.UserID,
		UserEmail:        n.Uploader.Email,
		FileName:         n.Meta.OriginalFilename,
		FileSize:         n.Meta.Size,
		MimeType:         n.Meta.ContentType,
		Simulated:        n.Simulated,
	})
	if errors.Is(err, ErrExists) {
		return nil
	}
	return err
}

// StoreBatch records a new batch and its product metadata.
func (r *Registry) StoreBatch(in BatchInput) (types.Batch, error) {
	if in.BatchID == "" {
		return types.Batch{}, fmt.Errorf("batch ID is required")
	}

	now := r.now().UTC()
	batch := types.Batch{
		BatchID:          in.BatchID,
		ManufacturerID:   types.ManufacturerIDFromName(in.ManufacturerName),
		ManufacturerName: orDefault(in.ManufacturerName, "Unknown Manufacturer"),
		BatchName:        orDefault(in.BatchName, in.BatchID),
		ProductType:      orDefault(in.ProductType, "Unknown"),
		Description:      in.Description,
		FileHash:         in.FileHash,
		DocumentURL:      in.DocumentURL,
		TxHash:           in.TxHash,
		ContractAddress:  in.ContractAddress,
		UserID:           in.UserID,
		UserEmail:        in.UserEmail,
		Status:           "active",
		Simulated:        in.Simulated,
		CreatedAt:        now,
		LastActivity:     now,
		Metadata: types.BatchMetadata{
			FileName:   orDefault(in.FileName, "unknown"),
			FileSize:   in.FileSize,
			MimeType:   orDefault(in.MimeType, "application/octet-stream"),
			UploadedBy: orDefault(in.UserID, "unknown"),
			UploadedAt: now,
		},
		Scans: []types.Scan{},
	}
	product := types.Product{
		ProductID:        batch.BatchID,
		UserID:           batch.UserID,
		UserEmail:        batch.UserEmail,
		BatchName:        batch.BatchName,
		ManufacturerName: batch.ManufacturerName,
		ProductType:      batch.ProductType,
		Description:      batch.Description,
		FileHash:         batch.FileHash,
		Locator:          batch.DocumentURL,
		TxHash:           batch.TxHash,
		ContractAddress:  batch.ContractAddress,
		CreatedAt:        now,
		Metadata:         batch.Metadata,
	}

	err := r.kv.Update(func(txn Txn) error {
		if _, err := txn.Get(PrefixBatch + in.BatchID); err == nil {
			return ErrExists
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		if err := putJSON(txn, PrefixBatch+batch.BatchID, batch); err != nil {
			return err
		}
		return putJSON(txn, PrefixProduct+product.ProductID, product)
	})
	if err != nil {
		return types.Batch{}, fmt.Errorf("failed to store batch %s: %w", in.BatchID, err)
	}

	logging.Info("batch recorded",
		logging.ProductID(batch.BatchID),
		"manufacturer", batch.ManufacturerID,
		logging.Component("registry"))
	return batch, nil
}

// GetBatch returns the batch with the given ID.
func (r *Registry) GetBatch(batchID string) (types.Batch, error) {
	var batch types.Batch
	data, err := r.kv.Get(PrefixBatch + batchID)
	if errors.Is(err, ErrKeyNotFound) {
		return batch, ErrNotFound
	}
	if err != nil {
		return batch, fmt.Errorf("failed to read batch %s: %w", batchID, err)
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("failed to decode batch %s: %w", batchID, err)
	}
	return batch, nil
}

// RecordScan appends a scan to a batch.
func (r *Registry) RecordScan(batchID string, in ScanInput) (types.Scan, error) {
	var scan types.Scan
	err := r.kv.Update(func(txn Txn) error {
		var batch types.Batch
		if err := getJSON(txn, PrefixBatch+batchID, &batch); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		seq, err := nextSeq(txn, keyScanSeq)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		scan = types.Scan{
			ID:               strconv.FormatUint(seq, 10),
			BatchID:          batchID,
			SupplierName:     in.SupplierName,
			SupplierLocation: orDefault(in.SupplierLocation, "Unknown"),
			ScanType:         orDefault(in.ScanType, "QR_SCAN"),
			IPAddress:        in.IPAddress,
			UserAgent:        in.UserAgent,
			UserID:           in.UserID,
			Timestamp:        now,
		}
		batch.Scans = append(batch.Scans, scan)
		batch.LastActivity = now

		if err := putJSON(txn, PrefixBatch+batchID, batch); err != nil {
			return err
		}
		return putJSON(txn, scanKey(seq), scan)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Scan{}, ErrNotFound
		}
		return types.Scan{}, fmt.Errorf("failed to record scan for %s: %w", batchID, err)
	}

	logging.Info("scan recorded",
		logging.ProductID(batchID),
		"scan_id", scan.ID,
		"supplier", scan.SupplierName,
		logging.Component("registry"))
	return scan, nil
}

// ManufacturerDashboard aggregates batches whose manufacturer ID, manufacturer
// name or uploading user matches manufacturerID.
func (r *Registry) ManufacturerDashboard(manufacturerID string) (Dashboard, error) {
	batches, err := r.batches()
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		ManufacturerID: manufacturerID,
		Batches:        []types.Batch{},
		RecentScans:    []RecentScan{},
		SupplierList:   []string{},
	}
	suppliers := make(map[string]struct{})
	for _, b := range batches {
		if b.ManufacturerID != manufacturerID && b.ManufacturerName != manufacturerID && b.UserID != manufacturerID {
			continue
		}
		d.Batches = append(d.Batches, b)
		for _, s := range b.Scans {
			d.RecentScans = append(d.RecentScans, RecentScan{Scan: s, ProductName: b.BatchName})
			d.TotalScans++
			if s.SupplierName != "" {
				if _, seen := suppliers[s.SupplierName]; !seen {
					suppliers[s.SupplierName] = struct{}{}
					d.SupplierList = append(d.SupplierList, s.SupplierName)
				}
			}
		}
	}

	sort.SliceStable(d.RecentScans, func(i, j int) bool {
		return d.RecentScans[i].Timestamp.After(d.RecentScans[j].Timestamp)
	})
	if len(d.RecentScans) > recentLimit {
		d.RecentScans = d.RecentScans[:recentLimit]
	}
	d.TotalBatches = len(d.Batches)
	d.TotalSuppliers = len(d.SupplierList)
	return d, nil
}

// UserMetadata summarizes the uploads of userID and the scans of those uploads.
func (r *Registry) UserMetadata(userID string) (UserMetadata, error) {
	products, err := r.products(func(p types.Product) bool { return p.UserID == userID })
	if err != nil {
		return UserMetadata{}, err
	}

	owned := make(map[string]bool, len(products))
	history := make([]UploadEntry, 0, len(products))
	for _, p := range products {
		owned[p.ProductID] = true
		history = append(history, UploadEntry{
			ProductID:  p.ProductID,
			BatchName:  p.BatchName,
			UploadedAt: p.CreatedAt,
			FileHash:   p.FileHash,
			TxHash:     p.TxHash,
		})
	}

	var scans []types.Scan
	err = r.kv.Scan(PrefixScan, func(_ string, value []byte) error {
		var s types.Scan
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}
		if owned[s.BatchID] {
			scans = append(scans, s)
		}
		return nil
	})
	if err != nil {
		return UserMetadata{}, fmt.Errorf("failed to read scans: %w", err)
	}

	recent := scans
	if len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	if recent == nil {
		recent = []types.Scan{}
	}

	return UserMetadata{
		UserID:         userID,
		TotalUploads:   len(products),
		TotalScans:     len(scans),
		Products:       products,
		RecentActivity: recent,
		UploadHistory:  history,
	}, nil
}

// SearchProducts returns products whose fields contain query, ignoring case.
// Unknown criteria search every field.
func (r *Registry) SearchProducts(query, criteria string) ([]types.Product, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" {
		return nil, ErrEmptyQuery
	}
	has := func(field string) bool {
		return field != "" && strings.Contains(strings.ToLower(field), term)
	}

	return r.products(func(p types.Product) bool {
		switch criteria {
		case CriteriaProductID:
			return has(p.ProductID)
		case CriteriaBatchName:
			return has(p.BatchName)
		case CriteriaManufacturer:
			return has(p.ManufacturerName)
		case CriteriaProductType:
			return has(p.ProductType)
		default:
			return has(p.ProductID) || has(p.BatchName) || has(p.ManufacturerName) || has(p.ProductType)
		}
	})
}

// BatchStats summarizes scan activity for a batch.
func (r *Registry) BatchStats(batchID string) (types.BatchStats, error) {
	batch, err := r.GetBatch(batchID)
	if err != nil {
		return types.BatchStats{}, err
	}
	return statsFor(batch, r.now()), nil
}

func statsFor(batch types.Batch, now time.Time) types.BatchStats {
	stats := types.BatchStats{TotalScans: len(batch.Scans)}
	if len(batch.Scans) == 0 {
		return stats
	}

	suppliers := make(map[string]struct{})
	for _, s := range batch.Scans {
		if s.SupplierName != "" {
			suppliers[s.SupplierName] = struct{}{}
		}
	}
	stats.UniqueSuppliers = len(suppliers)
	last := batch.Scans[len(batch.Scans)-1].Timestamp
	stats.LastScanAt = &last

	days := math.Max(1, math.Ceil(now.Sub(batch.CreatedAt).Hours()/24))
	stats.AvgScansPerDay = math.Round(float64(len(batch.Scans))/days*100) / 100
	return stats
}

func (r *Registry) batches() ([]types.Batch, error) {
	var out []types.Batch
	err := r.kv.Scan(PrefixBatch, func(_ string, value []byte) error {
		var b types.Batch
		if err := json.Unmarshal(value, &b); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read batches: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Registry) products(match func(types.Product) bool) ([]types.Product, error) {
	out := []types.Product{}
	err := r.kv.Scan(PrefixProduct, func(_ string, value []byte) error {
		var p types.Product
		if err := json.Unmarshal(value, &p); err != nil {
			return err
		}
		if match(p) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func scanKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", PrefixScan, seq)
}

func nextSeq(txn Txn, key string) (uint64, error) {
	var seq uint64
	data, err := txn.Get(key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		seq, err = strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence %s: %w", key, err)
		}
	}
	seq++
	return seq, txn.Set(key, []byte(strconv.FormatUint(seq, 10)))
}

func putJSON(txn Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn Txn, key string, v any) error {
	data, err := txn.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
