package api

import (
	"net/http"
	"time"
)

// StatsHandler returns the running waterfall statistics.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, s.Stats.Snapshot())
	s.observe("waterfall_stats", "GET", http.StatusOK, start)
}

// ResetStatsHandler zeroes the running waterfall statistics.
func (s *Server) ResetStatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.Stats.Reset()
	s.Metrics.SetWaterfallStats(statsSample(s.Stats.Snapshot()))
	s.requestLogger(r).Info("waterfall statistics reset")
	writeJSON(w, http.StatusOK, s.Stats.Snapshot())
	s.observe("waterfall_stats_reset", "POST", http.StatusOK, start)
}
