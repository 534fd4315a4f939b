package types

import (
	"regexp"
	"strings"
	"time"
)

// Batch is the registry's business record for one stored document.
// BatchID equals the product ID recorded on the ledger.
type Batch struct {
	BatchID          string        `json:"batchId"`
	ManufacturerID   string        `json:"manufacturerId"`
	ManufacturerName string        `json:"manufacturerName"`
	BatchName        string        `json:"batchName"`
	ProductType      string        `json:"productType"`
	Description      string        `json:"description,omitempty"`
	FileHash         string        `json:"fileHash"`
	DocumentURL      string        `json:"documentUrl"`
	TxHash           string        `json:"txHash"`
	ContractAddress  string        `json:"contractAddress,omitempty"`
	UserID           string        `json:"userId,omitempty"`
	UserEmail        string        `json:"userEmail,omitempty"`
	Status           string        `json:"status"`
	Simulated        bool          `json:"simulated,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastActivity     time.Time     `json:"lastActivity"`
	Metadata         BatchMetadata `json:"metadata"`
	Scans            []Scan        `json:"scans"`
}

// BatchMetadata describes the uploaded document behind a batch.
type BatchMetadata struct {
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	MimeType   string    `json:"mimeType"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Scan records one QR scan of a batch along the supply chain.
type Scan struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batchId"`
	SupplierName     string    `json:"supplierName,omitempty"`
	SupplierLocation string    `json:"supplierLocation"`
	ScanType         string    `json:"scanType"`
	IPAddress        string    `json:"ipAddress,omitempty"`
	UserAgent        string    `json:"userAgent,omitempty"`
	UserID           string    `json:"userId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Product is the searchable metadata kept for every stored document.
type Product struct {
	ProductID        string        `json:"productId"`
	UserID           string        `json:"userId,omitempty"`
	UserEmail        string        `json:"userEmail,omitempty"`
	BatchName        string        `json:"batchName"`
	ManufacturerName string        `json:"manufacturerName"`
	ProductType      string        `json:"productType"`
	Description      string        `json:"description,omitempty"`
	FileHash         string        `json:"fileHash"`
	Locator          string        `json:"storageLocator"`
	TxHash           string        `json:"txHash"`
	ContractAddress  string        `json:"contractAddress,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	Metadata         BatchMetadata `json:"metadata"`
}

// BatchStats summarizes scan activity on a batch.
type BatchStats struct {
	TotalScans      int        `json:"totalScans"`
	UniqueSuppliers int        `json:"uniqueSuppliers"`
	LastScanAt      *time.Time `json:"lastScanAt"`
	AvgScansPerDay  float64    `json:"avgScansPerDay"`
}

var whitespace = regexp.MustCompile(`\s+`)

// ManufacturerIDFromName derives the manufacturer key used for dashboard lookups.
func ManufacturerIDFromName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	return whitespace.ReplaceAllString(strings.ToLower(name), "_")
}
