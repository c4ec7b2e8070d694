package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/store"
)

// submitStatementRequest is the JSON body for POST /v1/statements and
// POST /v1/statements/execute.
type submitStatementRequest struct {
	Statement   string                    `json:"statement"`
	WarehouseID string                    `json:"warehouse_id,omitempty"`
	Catalog     string                    `json:"catalog,omitempty"`
	Schema      string                    `json:"schema,omitempty"`
	Parameters  []platform.StatementParam `json:"parameters,omitempty"`
	RowLimit    int64                     `json:"row_limit,omitempty"`
	ByteLimit   int64                     `json:"byte_limit,omitempty"`
	pollRequest
}

func (r submitStatementRequest) platformRequest() platform.StatementRequest {
	return platform.StatementRequest{
		Statement:   r.Statement,
		WarehouseID: r.WarehouseID,
		Catalog:     r.Catalog,
		Schema:      r.Schema,
		Parameters:  r.Parameters,
		RowLimit:    r.RowLimit,
		ByteLimit:   r.ByteLimit,
	}
}

func (s *Server) handleSubmitStatement(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStatementRequest(w, r)
	if !ok {
		return
	}

	st, err := s.engine.Statements.Submit(r.Context(), req.platformRequest())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.recordStatementSubmitted(r, req, st)
	if st.Result != nil {
		// Terminal on submit; close out the history record immediately.
		state, errMsg := outcomeState(st.Result.Outcome, nil)
		s.recordOutcome(r.Context(), historyID(model.KindStatement, st.ID), state, errMsg)
	}

	s.writeJSON(w, http.StatusAccepted, st)
}

// handleExecuteStatement is submit-and-wait in one call, for callers that
// want synchronous SQL without managing the handle themselves.
func (s *Server) handleExecuteStatement(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStatementRequest(w, r)
	if !ok {
		return
	}

	st, err := s.engine.Statements.Submit(r.Context(), req.platformRequest())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.recordStatementSubmitted(r, req, st)

	s.liftWriteDeadline(w)

	res, err := s.engine.Statements.Await(r.Context(), st, s.waitOptions(req.pollRequest))
	state, errMsg := outcomeState(statementOutcome(res), err)
	s.recordOutcome(r.Context(), historyID(model.KindStatement, st.ID), state, errMsg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWaitStatement(w http.ResponseWriter, r *http.Request) {
	// The body is optional: poll overrides only.
	var req pollRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	st := &model.StatementExecution{ID: chi.URLParam(r, "id")}

	s.liftWriteDeadline(w)

	res, err := s.engine.Statements.Await(r.Context(), st, s.waitOptions(req))
	state, errMsg := outcomeState(statementOutcome(res), err)
	s.recordOutcome(r.Context(), historyID(model.KindStatement, st.ID), state, errMsg)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatementPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.engine.Statements.NextPage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "token"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCancelStatement(w http.ResponseWriter, r *http.Request) {
	st := &model.StatementExecution{ID: chi.URLParam(r, "id")}
	if err := s.engine.Statements.Cancel(r.Context(), st); err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) decodeStatementRequest(w http.ResponseWriter, r *http.Request) (submitStatementRequest, bool) {
	var req submitStatementRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.Statement == "" {
		s.writeError(w, http.StatusBadRequest, "statement is required")
		return req, false
	}
	return req, true
}

func (s *Server) recordStatementSubmitted(r *http.Request, req submitStatementRequest, st *model.StatementExecution) {
	s.recordSubmitted(r.Context(), &store.Operation{
		ID:       historyID(model.KindStatement, st.ID),
		Kind:     string(model.KindStatement),
		Scope:    st.WarehouseID,
		RemoteID: st.ID,
		Detail:   truncate(req.Statement, detailLimit),
	})
}

func statementOutcome(res *model.StatementResult) string {
	if res == nil {
		return ""
	}
	return res.Outcome
}
