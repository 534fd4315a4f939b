package client

import "time"

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
	Contract  string    `json:"contract"`
	Ledger    string    `json:"ledger"`
	Storage   string    `json:"storage"`
	Simulated bool      `json:"simulated"`
}

// User is an account as returned by the API.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName,omitempty"`
}

// LoginResponse is returned by the login endpoints.
type LoginResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// UploadRequest is a document upload.
type UploadRequest struct {
	ProductID        string
	ManufacturerName string
	BatchName        string
	ProductType      string
	Description      string
	FileName         string
	ContentType      string // detected from Data when empty
	Data             []byte
}

// Receipt is the ledger receipt of an upload.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Simulated   bool   `json:"simulated,omitempty"`
}

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	ProductID        string  `json:"productId"`
	BatchID          string  `json:"batchId"`
	ManufacturerName string  `json:"manufacturerName"`
	BatchName        string  `json:"batchName"`
	FileHash         string  `json:"fileHash"`
	StorageLocator   string  `json:"storageLocator"`
	LedgerReceipt    Receipt `json:"ledgerReceipt"`
	TxHash           string  `json:"txHash"`
	QRCodeData       string  `json:"qrCodeData"`
	ContractAddress  string  `json:"contractAddress"`
	Simulated        bool    `json:"simulated"`
	Message          string  `json:"message"`
}

// VerifyResponse is returned by POST /api/verify
type VerifyResponse struct {
	IsVerified  bool      `json:"isVerified"`
	ProductID   string    `json:"productId"`
	StoredHash  string    `json:"storedHash"`
	CurrentHash string    `json:"currentHash"`
	Reason      string    `json:"reason"`
	Simulated   bool      `json:"simulated"`
	CheckedAt   time.Time `json:"checkedAt"`
	Message     string    `json:"message"`
	Error       string    `json:"error"`
}

// BatchInfo summarizes a scanned batch.
type BatchInfo struct {
	BatchID          string    `json:"batchId"`
	BatchName        string    `json:"batchName"`
	ManufacturerName string    `json:"manufacturerName"`
	ProductType      string    `json:"productType"`
	Description      string    `json:"description"`
	DocumentURL      string    `json:"documentUrl"`
	CreatedAt        time.Time `json:"createdAt"`
	ContractAddress  string    `json:"contractAddress"`
	TxHash           string    `json:"txHash"`
}

// ScanResponse is returned by POST /api/scan
type ScanResponse struct {
	BatchInfo  BatchInfo `json:"batchInfo"`
	ScanRecord struct {
		ScanID       string    `json:"scanId"`
		Timestamp    time.Time `json:"timestamp"`
		SupplierName string    `json:"supplierName"`
	} `json:"scanRecord"`
	Message string `json:"message"`
}

// ProductResponse is returned by GET /api/product/{productId}
type ProductResponse struct {
	ProductID string    `json:"productId"`
	FileHash  string    `json:"fileHash"`
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
	Simulated bool      `json:"simulated"`
}

// Scan is one recorded scan of a batch.
type Scan struct {
	ID               string    `json:"id"`
	SupplierName     string    `json:"supplierName"`
	SupplierLocation string    `json:"supplierLocation"`
	Timestamp        time.Time `json:"timestamp"`
}

// Batch is the registry record of a stored document.
type Batch struct {
	BatchInfo
	ManufacturerID string `json:"manufacturerId"`
	FileHash       string `json:"fileHash"`
	Status         string `json:"status"`
	Scans          []Scan `json:"scans"`
}

// BatchResponse is returned by GET /api/batch/{batchId}
type BatchResponse struct {
	Batch Batch `json:"batch"`
	Stats struct {
		TotalScans      int        `json:"totalScans"`
		UniqueSuppliers int        `json:"uniqueSuppliers"`
		LastScanAt      *time.Time `json:"lastScanAt"`
		AvgScansPerDay  float64    `json:"avgScansPerDay"`
	} `json:"stats"`
}

// ProductSummary is one search result.
type ProductSummary struct {
	ProductID        string    `json:"productId"`
	BatchName        string    `json:"batchName"`
	ManufacturerName string    `json:"manufacturerName"`
	ProductType      string    `json:"productType"`
	FileHash         string    `json:"fileHash"`
	StorageLocator   string    `json:"storageLocator"`
	TxHash           string    `json:"txHash"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SearchResponse is returned by GET /api/products/search
type SearchResponse struct {
	Query    string           `json:"query"`
	Criteria string           `json:"criteria"`
	Results  []ProductSummary `json:"results"`
	Total    int              `json:"total"`
}

// NetworkInfo describes the ledger the server writes to.
type NetworkInfo struct {
	ChainID         int64  `json:"chainId"`
	Name            string `json:"name"`
	BlockNumber     uint64 `json:"blockNumber"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Simulated       bool   `json:"simulated,omitempty"`
}

// QRParseResponse is returned by POST /api/qr/parse
type QRParseResponse struct {
	QRData          map[string]string `json:"qrData"`
	IsValid         bool              `json:"isValid"`
	ProductExists   bool              `json:"productExists"`
	VerificationURL string            `json:"verificationUrl"`
}
