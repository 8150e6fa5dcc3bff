package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/adapters"
	"github.com/rivalapexmediation/auction/internal/auction"
	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/ratelimit"
)

// ListAdapters returns the current adapter configuration.
func (s *Server) ListAdapters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_list"

	list, err := s.Registry.GetAdapterConfig(r.Context())
	if err != nil {
		s.requestLogger(r).Error("list adapters", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		s.observe(endpoint, "GET", http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, list)
	s.observe(endpoint, "GET", http.StatusOK, start)
}

// PutAdapter creates or replaces the adapter named in the path.
func (s *Server) PutAdapter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_put"

	reg, ok := s.Registry.(adapters.WritableRegistry)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, adapters.ErrReadOnlyRegistry.Error())
		s.observe(endpoint, "PUT", http.StatusMethodNotAllowed, start)
		return
	}

	var a models.AdapterDescriptor
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, "PUT", http.StatusBadRequest, start)
		return
	}
	a.ID = mux.Vars(r)["id"]

	if err := reg.Upsert(r.Context(), a); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, adapters.ErrInvalidAdapter) {
			status = http.StatusBadRequest
		} else {
			s.requestLogger(r).Error("upsert adapter", zap.String("adapter", a.ID), zap.Error(err))
		}
		writeError(w, status, err.Error())
		s.observe(endpoint, "PUT", status, start)
		return
	}

	s.requestLogger(r).Info("adapter updated",
		zap.String("adapter", a.ID),
		zap.Bool("enabled", a.Enabled),
		zap.Int("priority", a.Priority))
	writeJSON(w, http.StatusOK, a)
	s.observe(endpoint, "PUT", http.StatusOK, start)
}

// DeleteAdapter removes the adapter named in the path.
func (s *Server) DeleteAdapter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_delete"

	reg, ok := s.Registry.(adapters.WritableRegistry)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, adapters.ErrReadOnlyRegistry.Error())
		s.observe(endpoint, "DELETE", http.StatusMethodNotAllowed, start)
		return
	}

	id := mux.Vars(r)["id"]
	if err := reg.Delete(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, adapters.ErrAdapterNotFound) {
			status = http.StatusNotFound
		} else {
			s.requestLogger(r).Error("delete adapter", zap.String("adapter", id), zap.Error(err))
		}
		writeError(w, status, err.Error())
		s.observe(endpoint, "DELETE", status, start)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.observe(endpoint, "DELETE", http.StatusNoContent, start)
}

// AdapterPerformance returns tracked fill counters for every registered adapter.
func (s *Server) AdapterPerformance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_performance"

	if s.Performance == nil {
		writeError(w, http.StatusServiceUnavailable, "performance tracking disabled")
		s.observe(endpoint, "GET", http.StatusServiceUnavailable, start)
		return
	}
	list, err := s.Registry.GetAdapterConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		s.observe(endpoint, "GET", http.StatusInternalServerError, start)
		return
	}
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	perf, err := s.Performance.Performance(r.Context(), ids)
	if err != nil {
		s.requestLogger(r).Error("load performance", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "performance unavailable")
		s.observe(endpoint, "GET", http.StatusInternalServerError, start)
		return
	}
	writeJSON(w, http.StatusOK, perf)
	s.observe(endpoint, "GET", http.StatusOK, start)
}

// RateLimitStats returns per-adapter throttling counters.
func (s *Server) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats := []ratelimit.Stats{}
	if s.Limiter != nil {
		stats = s.Limiter.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
	s.observe("adapters_ratelimit", "GET", http.StatusOK, start)
}

// CircuitStates lists every adapter whose circuit has recorded a failure.
func (s *Server) CircuitStates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, s.Breaker.Snapshot())
	s.observe("adapters_circuit", "GET", http.StatusOK, start)
}

// ResetCircuit closes the circuit of the adapter named in the path.
func (s *Server) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_circuit_reset"

	if s.Breaker == nil {
		writeError(w, http.StatusServiceUnavailable, "circuit breaker disabled")
		s.observe(endpoint, "POST", http.StatusServiceUnavailable, start)
		return
	}
	id := mux.Vars(r)["id"]
	s.Breaker.Reset(id)
	s.requestLogger(r).Info("adapter circuit reset", zap.String("adapter", id))
	writeJSON(w, http.StatusOK, auction.CircuitStatus{AdapterID: id, State: s.Breaker.State(id)})
	s.observe(endpoint, "POST", http.StatusOK, start)
}

// DebugEvents returns the most recent calls to the adapter named in the path,
// newest first. The n query parameter limits how many are returned.
func (s *Server) DebugEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "adapters_debug"

	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			s.observe(endpoint, "GET", http.StatusBadRequest, start)
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.Debugger.Last(mux.Vars(r)["id"], n))
	s.observe(endpoint, "GET", http.StatusOK, start)
}
