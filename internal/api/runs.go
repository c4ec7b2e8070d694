package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/poll"
	"github.com/seantiz/lakerun/internal/store"
)

// submitRunResponse is the JSON response for POST /v1/runs.
type submitRunResponse struct {
	RunID int64 `json:"run_id"`
}

// handleSubmitRun submits a one-time run. The body is the platform run
// config and passes through unmodified, so new platform fields need no
// changes here.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	runConfig, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if !json.Valid(runConfig) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	runID, err := s.client.SubmitRun(r.Context(), runConfig)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	id := strconv.FormatInt(runID, 10)
	s.recordSubmitted(r.Context(), &store.Operation{
		ID:       historyID(model.KindRun, id),
		Kind:     string(model.KindRun),
		Scope:    "jobs",
		RemoteID: id,
	})

	s.writeJSON(w, http.StatusAccepted, submitRunResponse{RunID: runID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDParam(w, r)
	if !ok {
		return
	}

	snap, err := s.client.GetRun(r.Context(), runID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWaitRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDParam(w, r)
	if !ok {
		return
	}

	// The body is optional: poll overrides only.
	var req pollRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.liftWriteDeadline(w)

	outcome, err := s.engine.Runs.WaitForCompletion(r.Context(), runID, s.waitOptions(req))
	state, errMsg := runOutcomeState(outcome, err)
	s.recordOutcome(r.Context(), historyID(model.KindRun, strconv.FormatInt(runID, 10)), state, errMsg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDParam(w, r)
	if !ok {
		return
	}

	if err := s.client.CancelRun(r.Context(), runID); err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRunOutput(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDParam(w, r)
	if !ok {
		return
	}

	out, err := s.client.GetRunOutput(r.Context(), runID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) runIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || runID <= 0 {
		s.writeError(w, http.StatusBadRequest, "run id must be a positive integer")
		return 0, false
	}
	return runID, true
}

// runOutcomeState maps a run wait result to a history state.
func runOutcomeState(outcome *model.RunOutcome, waitErr error) (state, errMsg string) {
	if waitErr != nil {
		switch {
		case errors.Is(waitErr, poll.ErrTimedOut):
			return store.StateTimedOut, waitErr.Error()
		case errors.Is(waitErr, poll.ErrCancelled):
			return store.StateCancelled, waitErr.Error()
		default:
			return store.StateFailed, waitErr.Error()
		}
	}
	if outcome.Succeeded {
		return store.StateSucceeded, ""
	}
	return store.StateFailed, outcome.StateMessage
}
