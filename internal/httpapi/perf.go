package httpapi

import "net/http"

// handlePerfLatency reports the rolling per-stage latency windows of recent
// turns: generation, synthesis and playback round trips.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{"window_size": 0, "stages": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}
