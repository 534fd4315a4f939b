package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scanchain/scanchain/internal/qr"
	"github.com/scanchain/scanchain/internal/verification"
)

// QRGenerateRequest is the body of POST /api/qr/generate
type QRGenerateRequest struct {
	ProductID       string `json:"productId"`
	ContractAddress string `json:"contractAddress"`
	Metadata        struct {
		Manufacturer string `json:"manufacturer"`
		ProductName  string `json:"productName"`
	} `json:"metadata"`
}

// handleQRGenerate handles POST /api/qr/generate
func (s *Server) handleQRGenerate(w http.ResponseWriter, r *http.Request) {
	var req QRGenerateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductID == "" {
		s.writeError(w, http.StatusBadRequest, "productId is required")
		return
	}

	contract := req.ContractAddress
	if contract == "" && common.IsHexAddress(s.config.ContractAddress) {
		contract = s.contractAddress()
	}
	if contract == "" {
		s.writeError(w, http.StatusBadRequest, "Contract address not provided")
		return
	}

	meta := map[string]string{}
	if req.Metadata.Manufacturer != "" {
		meta["manufacturer"] = req.Metadata.Manufacturer
	}
	if req.Metadata.ProductName != "" {
		meta["productName"] = req.Metadata.ProductName
	}

	data, err := qr.Generate(req.ProductID, contract, meta, time.Now())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := qr.Parse(data)
	if err != nil {
		s.internalError(w, "generated QR payload does not parse", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"productId": req.ProductID,
		"qrData":    payload,
		"metadata":  qr.MetadataFor(payload),
	})
}

// QRDataRequest is the body of POST /api/qr/parse and /api/qr/scan
type QRDataRequest struct {
	QRData json.RawMessage `json:"qrData"`
}

// handleQRParse handles POST /api/qr/parse
func (s *Server) handleQRParse(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readQRPayload(w, r)
	if !ok {
		return
	}

	exists, err := s.verifier.Registered(r.Context(), payload.ProductID)
	if err != nil && verification.KindOf(err) != verification.KindInputInvalid {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"qrData":          payload,
		"isValid":         true,
		"productExists":   exists,
		"verificationUrl": qr.VerificationURL(s.config.PublicBaseURL, payload.ProductID),
	})
}

// handleQRScan handles POST /api/qr/scan: a ledger lookup for the scanned product.
func (s *Server) handleQRScan(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readQRPayload(w, r)
	if !ok {
		return
	}

	record, err := s.verifier.ProductInfo(r.Context(), payload.ProductID)
	switch verification.KindOf(err) {
	case "":
	case verification.KindNotFound, verification.KindInputInvalid:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"productId": payload.ProductID,
			"found":     false,
			"message":   "Product not found on blockchain",
		})
		return
	default:
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"productId":       payload.ProductID,
		"found":           true,
		"productInfo":     record,
		"contractAddress": payload.ContractAddress,
		"scanTimestamp":   time.Now().UTC(),
	})
}

func (s *Server) readQRPayload(w http.ResponseWriter, r *http.Request) (qr.Payload, bool) {
	var req QRDataRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return qr.Payload{}, false
	}
	if len(req.QRData) == 0 || string(req.QRData) == "null" {
		s.writeError(w, http.StatusBadRequest, "QR data is required")
		return qr.Payload{}, false
	}
	payload, err := parseQRField(req.QRData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid QR code data structure")
		return qr.Payload{}, false
	}
	return payload, true
}
