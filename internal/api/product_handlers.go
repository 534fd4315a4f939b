package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/qr"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/verification"
	"github.com/scanchain/scanchain/pkg/types"
)

// multipartOverhead allows for form fields and boundaries on top of the file.
const multipartOverhead = 1 << 20

// UploadResponse is the response for POST /api/upload
type UploadResponse struct {
	Success          bool   `json:"success"`
	ProductID        string `json:"productId"`
	BatchID          string `json:"batchId"`
	ManufacturerName string `json:"manufacturerName"`
	BatchName        string `json:"batchName"`
	FileHash         string `json:"fileHash"`
	StorageLocator   string `json:"storageLocator"`
	LedgerReceipt    any    `json:"ledgerReceipt"`
	TxHash           string `json:"txHash"`
	QRCodeData       string `json:"qrCodeData"`
	ContractAddress  string `json:"contractAddress"`
	Simulated        bool   `json:"simulated"`
	Message          string `json:"message"`
}

// handleUpload handles POST /api/upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(s.config.MaxUploadSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds the %d byte limit", s.config.MaxUploadSize))
			return
		}
		s.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	productID := strings.TrimSpace(r.FormValue("productId"))
	contract := s.contractAddress()
	manufacturer := orDefault(r.FormValue("manufacturerName"), "Unknown Manufacturer")
	batchName := orDefault(r.FormValue("batchName"), productID)
	productType := orDefault(r.FormValue("productType"), "Unknown")

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	result, err := s.verifier.Store(r.Context(), verification.StoreRequest{
		ProductID: productID,
		Data:      data,
		Meta: types.FileMeta{
			OriginalFilename: header.Filename,
			ContentType:      contentType,
			Size:             int64(len(data)),
		},
		Uploader: user.Identity(),
		Attributes: map[string]string{
			"manufacturerName": manufacturer,
			"batchName":        batchName,
			"productType":      productType,
			"description":      r.FormValue("description"),
			"contractAddress":  contract,
		},
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	qrData, err := qr.Generate(result.ProductID, contract, map[string]string{
		"batchName":    batchName,
		"manufacturer": manufacturer,
		"productType":  productType,
	}, time.Now())
	if err != nil {
		// The product is already on the ledger; a QR failure must not hide that.
		logging.Warn("failed to generate QR payload",
			logging.ProductID(result.ProductID),
			logging.Err(err),
			logging.Component("api"))
	}

	s.writeJSON(w, http.StatusOK, UploadResponse{
		Success:          true,
		ProductID:        result.ProductID,
		BatchID:          result.ProductID,
		ManufacturerName: manufacturer,
		BatchName:        batchName,
		FileHash:         result.Digest.String(),
		StorageLocator:   result.Locator,
		LedgerReceipt:    result.Receipt,
		TxHash:           result.Receipt.TxHash,
		QRCodeData:       qrData,
		ContractAddress:  contract,
		Simulated:        result.Simulated,
		Message:          "Batch created successfully! Share the QR code with your supply chain partners.",
	})
}

// VerifyRequest is the body of POST /api/verify. GreenfieldURL is accepted
// as an alias of Locator.
type VerifyRequest struct {
	ProductID     string `json:"productId"`
	Locator       string `json:"locator"`
	GreenfieldURL string `json:"greenfieldUrl"`
}

// VerifyResponse is the response for POST /api/verify
type VerifyResponse struct {
	Success     bool                     `json:"success"`
	IsVerified  bool                     `json:"isVerified"`
	ProductID   string                   `json:"productId"`
	StoredHash  string                   `json:"storedHash,omitempty"`
	CurrentHash string                   `json:"currentHash,omitempty"`
	Reason      types.VerificationReason `json:"reason,omitempty"`
	Simulated   bool                     `json:"simulated,omitempty"`
	CheckedAt   time.Time                `json:"checkedAt"`
	Message     string                   `json:"message"`
	Error       string                   `json:"error,omitempty"`
}

// handleVerify handles POST /api/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductID == "" {
		s.writeError(w, http.StatusBadRequest, "productId is required")
		return
	}

	locator := req.Locator
	if locator == "" {
		locator = req.GreenfieldURL
	}
	if locator == "" {
		// Fall back to the document recorded for the batch.
		if batch, err := s.registry.GetBatch(req.ProductID); err == nil {
			locator = batch.DocumentURL
		}
	}
	if locator == "" {
		s.writeError(w, http.StatusBadRequest, "locator is required")
		return
	}

	result, err := s.verifier.Verify(r.Context(), req.ProductID, locator)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := VerifyResponse{
		Success:     true,
		IsVerified:  result.IsAuthentic,
		ProductID:   result.ProductID,
		StoredHash:  result.StoredDigest,
		CurrentHash: result.CurrentDigest,
		Reason:      result.Reason,
		Simulated:   result.Simulated,
		CheckedAt:   result.CheckedAt,
		Message:     result.Message(),
	}
	if result.Reason == types.ReasonProductNotRegistered {
		resp.Error = "Product not found on blockchain"
	}

	s.hub.BroadcastProduct(EventProductVerified, result.ProductID, map[string]any{
		"productId":  result.ProductID,
		"isVerified": result.IsAuthentic,
		"reason":     result.Reason,
	})
	s.writeJSON(w, http.StatusOK, resp)
}

// ScanRequest is the body of POST /api/scan. QRData may be the payload
// string or the decoded object.
type ScanRequest struct {
	QRData           json.RawMessage `json:"qrData"`
	SupplierName     string          `json:"supplierName"`
	SupplierLocation string          `json:"supplierLocation"`
}

// BatchInfo is the batch summary returned to a scanning supplier.
type BatchInfo struct {
	BatchID          string    `json:"batchId"`
	BatchName        string    `json:"batchName"`
	ManufacturerName string    `json:"manufacturerName"`
	ProductType      string    `json:"productType"`
	Description      string    `json:"description,omitempty"`
	DocumentURL      string    `json:"documentUrl"`
	CreatedAt        time.Time `json:"createdAt"`
	ContractAddress  string    `json:"contractAddress,omitempty"`
	TxHash           string    `json:"txHash"`
}

// ScanRecord identifies the recorded scan.
type ScanRecord struct {
	ScanID       string    `json:"scanId"`
	Timestamp    time.Time `json:"timestamp"`
	SupplierName string    `json:"supplierName"`
}

// handleScan handles POST /api/scan
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.QRData) == 0 || string(req.QRData) == "null" || strings.TrimSpace(req.SupplierName) == "" {
		s.writeError(w, http.StatusBadRequest, "QR data and supplier name are required")
		return
	}

	payload, err := parseQRField(req.QRData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid QR code format")
		return
	}

	user, _ := userFrom(r.Context())
	scan, err := s.registry.RecordScan(payload.ProductID, registry.ScanInput{
		SupplierName:     req.SupplierName,
		SupplierLocation: req.SupplierLocation,
		ScanType:         "supplier_scan",
		IPAddress:        s.extractClientIP(r),
		UserAgent:        r.UserAgent(),
		UserID:           user.ID,
	})
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to record scan", err)
		return
	}

	batch, err := s.registry.GetBatch(payload.ProductID)
	if err != nil {
		s.internalError(w, "failed to load batch", err)
		return
	}

	s.hub.BroadcastProduct(EventProductScanned, batch.BatchID, map[string]any{
		"batchId":          batch.BatchID,
		"scanId":           scan.ID,
		"supplierName":     scan.SupplierName,
		"supplierLocation": scan.SupplierLocation,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"batchInfo": batchInfo(batch),
		"scanRecord": ScanRecord{
			ScanID:       scan.ID,
			Timestamp:    scan.Timestamp,
			SupplierName: scan.SupplierName,
		},
		"message": fmt.Sprintf("Welcome %s! Scan recorded successfully.", scan.SupplierName),
	})
}

// parseQRField accepts the QR payload either as a JSON string or inline object.
func parseQRField(raw json.RawMessage) (qr.Payload, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return qr.Parse(s)
	}
	return qr.Parse(string(raw))
}

func batchInfo(b types.Batch) BatchInfo {
	return BatchInfo{
		BatchID:          b.BatchID,
		BatchName:        b.BatchName,
		ManufacturerName: b.ManufacturerName,
		ProductType:      b.ProductType,
		Description:      b.Description,
		DocumentURL:      b.DocumentURL,
		CreatedAt:        b.CreatedAt,
		ContractAddress:  b.ContractAddress,
		TxHash:           b.TxHash,
	}
}

// handleGetProduct handles GET /api/product/{productId}
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	record, err := s.verifier.ProductInfo(r.Context(), productID)
	if err != nil {
		if verification.KindOf(err) == verification.KindNotFound {
			s.writeError(w, http.StatusNotFound, "Product not found")
			return
		}
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"productId": record.ProductID,
		"fileHash":  record.FileHash,
		"owner":     record.Owner,
		"timestamp": record.Timestamp,
		"simulated": record.Simulated,
	})
}

// handleGetBatch handles GET /api/batch/{batchId}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchId")

	batch, err := s.registry.GetBatch(batchID)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to load batch", err)
		return
	}
	stats, err := s.registry.BatchStats(batchID)
	if err != nil {
		s.internalError(w, "failed to compute batch stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"batch":   batch,
		"stats":   stats,
	})
}

// handleDashboard handles GET /api/dashboard/{manufacturerId}
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.registry.ManufacturerDashboard(r.PathValue("manufacturerId"))
	if err != nil {
		s.internalError(w, "failed to build dashboard", err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		registry.Dashboard
	}{true, dashboard})
}

// handleMyMetadata handles GET /api/user/metadata
func (s *Server) handleMyMetadata(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	s.writeUserMetadata(w, user.ID)
}

// handleUserMetadata handles GET /api/user/{userId}/metadata
func (s *Server) handleUserMetadata(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	userID := r.PathValue("userId")
	if user.ID != userID && user.Role != types.RoleAdmin {
		s.writeError(w, http.StatusForbidden, "Access denied. You can only view your own metadata.")
		return
	}
	s.writeUserMetadata(w, userID)
}

func (s *Server) writeUserMetadata(w http.ResponseWriter, userID string) {
	meta, err := s.registry.UserMetadata(userID)
	if err != nil {
		s.internalError(w, "failed to load user metadata", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"userMetadata": meta,
	})
}

// handleSearch handles GET /api/products/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	criteria := r.URL.Query().Get("criteria")
	if criteria == "" {
		criteria = registry.CriteriaAll
	}

	results, err := s.registry.SearchProducts(query, criteria)
	if errors.Is(err, registry.ErrEmptyQuery) {
		s.writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}
	if err != nil {
		s.internalError(w, "search failed", err)
		return
	}
	if results == nil {
		results = []types.Product{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"query":    query,
		"criteria": criteria,
		"results":  results,
		"total":    len(results),
	})
}

// handleNetwork handles GET /api/network
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	info, err := s.verifier.Ledger().NetworkInfo(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"network": info,
	})
}

// contractAddress is the address embedded in QR payloads: the configured
// contract, or the zero address when running without one.
func (s *Server) contractAddress() string {
	if common.IsHexAddress(s.config.ContractAddress) {
		return common.HexToAddress(s.config.ContractAddress).Hex()
	}
	return common.Address{}.Hex()
}

// internalError logs err and writes a generic 500.
func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	logging.Error(msg,
		logging.Err(err),
		logging.Component("api"))
	s.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
