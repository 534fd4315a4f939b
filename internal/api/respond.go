package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/verification"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Uncertain bool   `json:"uncertain,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Locator   string `json:"storageLocator,omitempty"`
}

// readJSON decodes a bounded JSON body into v.
func (s *Server) readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxJSONBody {
		return errBodyTooLarge
	}
	return json.Unmarshal(body, v)
}

// writeJSON writes JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response",
			logging.Err(err),
			logging.Component("api"))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// statusForKind maps a pipeline error kind onto its HTTP status.
func statusForKind(kind verification.Kind) int {
	switch kind {
	case verification.KindInputInvalid:
		return http.StatusBadRequest
	case verification.KindStorageRejected, verification.KindLedgerRejected:
		return http.StatusUnprocessableEntity
	case verification.KindConflict:
		return http.StatusConflict
	case verification.KindNotFound:
		return http.StatusNotFound
	case verification.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case verification.KindLedgerUncertain:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes a pipeline failure. Internal details are logged,
// not returned.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	kind := verification.KindOf(err)
	status := statusForKind(kind)

	resp := ErrorResponse{Error: err.Error()}
	var verr *verification.Error
	if errors.As(err, &verr) {
		resp.Locator = verr.Locator
		resp.TxHash = verr.TxHash
		if kind == verification.KindLedgerUncertain {
			resp.Uncertain = true
			resp.Error = "Ledger write outcome is uncertain; check the transaction before retrying"
		}
	}
	if status == http.StatusInternalServerError {
		logging.Error("request failed",
			logging.Err(err),
			logging.Component("api"))
		resp.Error = "Internal server error"
	}
	s.writeJSON(w, status, resp)
}
