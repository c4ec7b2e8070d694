package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/poll"
)

const maxBodySize = 1 << 20 // 1 MB

// pollRequest carries per-request overrides for the wait bounds. Durations
// use Go syntax ("2s", "15m"); empty fields keep the server defaults.
type pollRequest struct {
	PollInterval string `json:"poll_interval,omitempty"`
	MaxWait      string `json:"max_wait,omitempty"`
}

// waitOptions merges request overrides onto the server's default poll options.
func (s *Server) waitOptions(req pollRequest) poll.Options {
	opts := s.pollOpts
	if d, err := time.ParseDuration(req.PollInterval); err == nil && d > 0 {
		opts.Interval = d
	}
	if d, err := time.ParseDuration(req.MaxWait); err == nil && d > 0 {
		opts.MaxWait = d
	}
	return opts
}

// liftWriteDeadline disables the server write timeout for a long-polling or
// streaming response.
func (s *Server) liftWriteDeadline(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline", "error", err)
	}
}

// createContextRequest is the JSON body for POST /v1/contexts.
type createContextRequest struct {
	ClusterID string `json:"cluster_id"`
	Language  string `json:"language"`
	pollRequest
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClusterID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}
	if req.Language == "" {
		req.Language = model.LangPython
	}

	s.liftWriteDeadline(w)

	ec, err := s.engine.Contexts.Create(r.Context(), req.ClusterID, req.Language, s.waitOptions(req.pollRequest))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, ec)
}

func (s *Server) handleValidateContext(w http.ResponseWriter, r *http.Request) {
	ec := &model.ExecContext{
		ID:        chi.URLParam(r, "id"),
		ClusterID: r.URL.Query().Get("cluster_id"),
	}
	if ec.ClusterID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	if err := s.engine.Contexts.Validate(r.Context(), ec); err != nil {
		s.writeEngineError(w, err)
		return
	}

	ec.State = model.ContextRunning
	s.writeJSON(w, http.StatusOK, ec)
}

func (s *Server) handleDestroyContext(w http.ResponseWriter, r *http.Request) {
	ec := &model.ExecContext{
		ID:        chi.URLParam(r, "id"),
		ClusterID: r.URL.Query().Get("cluster_id"),
	}
	if ec.ClusterID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	// Destroy is best-effort and idempotent; it never reports failure.
	s.engine.Contexts.Destroy(r.Context(), ec)
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
