package main

import (
	"encoding/json"
	"net/http"

	"wadispatch/internal/metrics"
	"wadispatch/internal/tracing"
)

// handleMetrics returns a snapshot of the in-memory metrics registry
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(tracing.LogFields(r.Context())).WithError(err).
				Error("Failed to encode metrics response")
			return
		}

		s.logger.WithFields(tracing.LogFields(r.Context())).Debug("Metrics endpoint served")
	}
}
