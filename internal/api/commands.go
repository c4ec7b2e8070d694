package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/poll"
	"github.com/seantiz/lakerun/internal/store"
)

// detailLimit caps how much of the submitted code or SQL is kept in history.
const detailLimit = 500

// submitCommandRequest is the JSON body for POST /v1/commands.
type submitCommandRequest struct {
	ClusterID string `json:"cluster_id"`
	ContextID string `json:"context_id"`
	Language  string `json:"language,omitempty"`
	Code      string `json:"code"`
}

// commandHandleRequest identifies a command for wait and cancel calls.
type commandHandleRequest struct {
	ClusterID string `json:"cluster_id"`
	ContextID string `json:"context_id"`
	pollRequest
}

// runOnceRequest is the JSON body for POST /v1/commands/run.
type runOnceRequest struct {
	ClusterID string `json:"cluster_id"`
	Language  string `json:"language,omitempty"`
	Code      string `json:"code"`
	pollRequest
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClusterID == "" || req.ContextID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id and context_id are required")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.Language == "" {
		req.Language = model.LangPython
	}

	ec := &model.ExecContext{
		ID:        req.ContextID,
		ClusterID: req.ClusterID,
		Language:  req.Language,
		State:     model.ContextRunning,
	}

	cmd, err := s.engine.Commands.Submit(r.Context(), ec, req.Code, req.Language)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.recordSubmitted(r.Context(), &store.Operation{
		ID:       historyID(model.KindCommand, cmd.ID),
		Kind:     string(model.KindCommand),
		Scope:    req.ClusterID,
		RemoteID: cmd.ID,
		Detail:   truncate(req.Code, detailLimit),
	})

	s.writeJSON(w, http.StatusAccepted, cmd)
}

func (s *Server) handleWaitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandHandleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClusterID == "" || req.ContextID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id and context_id are required")
		return
	}

	cmd := &model.CommandExecution{
		ID:        chi.URLParam(r, "id"),
		ContextID: req.ContextID,
		ClusterID: req.ClusterID,
	}

	s.liftWriteDeadline(w)

	res, err := s.engine.Commands.Await(r.Context(), cmd, s.waitOptions(req.pollRequest))
	state, errMsg := outcomeState(commandOutcome(res), err)
	s.recordOutcome(r.Context(), historyID(model.KindCommand, cmd.ID), state, errMsg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	var req commandHandleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClusterID == "" || req.ContextID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id and context_id are required")
		return
	}

	cmd := &model.CommandExecution{
		ID:        chi.URLParam(r, "id"),
		ContextID: req.ContextID,
		ClusterID: req.ClusterID,
	}
	if err := s.engine.Commands.Cancel(r.Context(), cmd); err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRunCommandOnce(w http.ResponseWriter, r *http.Request) {
	var req runOnceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClusterID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.Language == "" {
		req.Language = model.LangPython
	}

	op := &store.Operation{
		ID:     model.NewID(),
		Kind:   string(model.KindCommand),
		Scope:  req.ClusterID,
		Detail: truncate(req.Code, detailLimit),
	}
	s.recordSubmitted(r.Context(), op)

	s.liftWriteDeadline(w)

	res, err := s.engine.Commands.RunOnce(r.Context(), req.ClusterID, req.Code, req.Language, s.waitOptions(req.pollRequest))
	state, errMsg := outcomeState(commandOutcome(res), err)
	s.recordOutcome(r.Context(), op.ID, state, errMsg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// historyID derives the history record key for an awaited remote operation,
// so submit and wait handlers agree without sharing state.
func historyID(kind model.OperationKind, remoteID string) string {
	return string(kind) + ":" + remoteID
}

// recordSubmitted writes a history record. History is best-effort: failures
// are logged and never fail the request.
func (s *Server) recordSubmitted(ctx context.Context, op *store.Operation) {
	if err := s.history.RecordSubmitted(ctx, op); err != nil {
		s.logger.Warn("record history", "operation_id", op.ID, "error", err)
	}
}

// recordOutcome marks a history record finished. Unknown records are
// ignored: a wait for an operation submitted elsewhere has no history entry.
func (s *Server) recordOutcome(ctx context.Context, id, state, errMsg string) {
	err := s.history.RecordOutcome(context.WithoutCancel(ctx), id, state, errMsg)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("record history outcome", "operation_id", id, "error", err)
	}
}

func commandOutcome(res *model.CommandResult) string {
	if res == nil {
		return ""
	}
	return res.Outcome
}

// outcomeState maps an engine outcome or wait error to a history state.
func outcomeState(outcome string, waitErr error) (state, errMsg string) {
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
	switch outcome {
	case model.OutcomeOK:
		return store.StateSucceeded, ""
	case model.OutcomeCancelled:
		return store.StateCancelled, ""
	default:
		return store.StateFailed, ""
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
