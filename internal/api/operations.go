package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listOperationsResponse wraps the paginated history listing.
type listOperationsResponse struct {
	Operations []*store.Operation `json:"operations"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ops, total, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list operations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if ops == nil {
		ops = []*store.Operation{}
	}

	s.writeJSON(w, http.StatusOK, listOperationsResponse{
		Operations: ops,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, op)
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total     int            `json:"total"`
	ByKind    map[string]int `json:"by_kind"`
	ByState   map[string]int `json:"by_state"`
	AvgWaitMS float64        `json:"avg_wait_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Error("get stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:     stats.Total,
		ByKind:    stats.CountByKind,
		ByState:   stats.CountByState,
		AvgWaitMS: stats.AvgWaitMS,
	})
}
