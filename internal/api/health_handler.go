package api

import (
	"net/http"
	"time"
)

// startTime records when the server package was initialized for uptime calculation.
var startTime = time.Now()

// HealthResponse is the JSON response for the /api/health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
	Contract  string    `json:"contract"`
	Ledger    string    `json:"ledger"`
	Storage   string    `json:"storage"`
	Simulated bool      `json:"simulated"`
	Clients   int       `json:"eventClients"`
}

// handleHealth handles GET /api/health. No authentication is required.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ledgerName := "contract"
	if s.verifier.Ledger().Simulated() {
		ledgerName = "simulated"
	}

	uptime := time.Since(startTime).Round(time.Second).String()
	if s.metrics != nil {
		uptime = s.metrics.Collector().GetMetrics().Uptime
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    uptime,
		Version:   Version,
		Contract:  s.contractAddress(),
		Ledger:    ledgerName,
		Storage:   s.verifier.ObjectStore().Name(),
		Simulated: s.verifier.Simulated(),
		Clients:   s.hub.ClientCount(),
	})
}
