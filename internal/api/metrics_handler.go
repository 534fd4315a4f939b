package api

import (
	"net/http"
)

// handleMetricsJSON serves the in-process collector snapshot for dashboards
// that do not scrape Prometheus.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	data, err := s.metrics.GetMetricsJSON()
	if err != nil {
		s.internalError(w, "failed to encode metrics", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
