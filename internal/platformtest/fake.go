// Package platformtest provides an in-memory compute platform speaking the
// REST surface lakerun drives. Tests point a platform.Client at its handler;
// cmd/testserver serves the same handler for manual development.
package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
)

// Fake is a configurable in-memory platform. Knobs are read under the same
// lock as request handling; set them before issuing requests.
type Fake struct {
	mu         sync.Mutex
	contexts   map[string]*fakeContext
	commands   map[string]*fakeCommand
	statements map[string]*fakeStatement
	runs       map[int64]*fakeRun
	nextID     int
	nextRunID  int64

	failuresLeft  int
	failureStatus int

	// Clusters and Jobs back the listing endpoints.
	Clusters []platform.ClusterInfo
	Jobs     []platform.Job
	Objects  []platform.ObjectInfo

	// ContextPollsToReady is how many status fetches a new context reports
	// Pending before reaching ContextFinalState.
	ContextPollsToReady int
	// ContextFinalState is the state a context settles in. Default Running.
	ContextFinalState string

	// CommandPollsToFinish is how many status fetches a command reports
	// Running before reaching CommandFinalState.
	CommandPollsToFinish int
	// CommandFinalState is the state a command settles in. Default Finished.
	CommandFinalState string
	// CommandResultType and CommandData/CommandCause shape the results
	// block of a finished command.
	CommandResultType string
	CommandData       json.RawMessage
	CommandCause      string

	// StatementPollsToFinish is how many status fetches a statement reports
	// RUNNING before reaching StatementFinalState.
	StatementPollsToFinish int
	// StatementFinalState is the state a statement settles in. Default SUCCEEDED.
	StatementFinalState string
	// StatementErrorMessage populates the error block for failed statements.
	StatementErrorMessage string
	// StatementPages are the result pages of a succeeded statement. Page
	// zero is returned inline; further pages via the chunk endpoint.
	StatementPages [][][]string
	// StatementColumns is the result schema of a succeeded statement.
	StatementColumns []platform.Column

	// RunStates is the life-cycle state sequence a run walks through, one
	// entry per status fetch, last entry repeated. Default RUNNING then
	// TERMINATED.
	RunStates []string
	// RunResultState is reported once the run is terminal. Default SUCCESS.
	RunResultState string
}

type fakeContext struct {
	id        string
	clusterID string
	language  string
	polls     int
}

type fakeCommand struct {
	id        string
	contextID string
	polls     int
	cancelled bool
}

type fakeStatement struct {
	id        string
	polls     int
	cancelled bool
}

type fakeRun struct {
	id    int64
	polls int
}

// New creates a fake platform with one running cluster and one job seeded.
func New() *Fake {
	return &Fake{
		contexts:   make(map[string]*fakeContext),
		commands:   make(map[string]*fakeCommand),
		statements: make(map[string]*fakeStatement),
		runs:       make(map[int64]*fakeRun),
		nextRunID:  1000,
		Clusters: []platform.ClusterInfo{
			{ClusterID: "cluster-1", ClusterName: "dev", State: "RUNNING", SparkVersion: "13.3.x", NumWorkers: 2},
		},
		Jobs: []platform.Job{
			{JobID: 101, Settings: platform.JobSettings{Name: "nightly-etl"}},
		},
		Objects: []platform.ObjectInfo{
			{Path: "/Shared/etl", ObjectType: "NOTEBOOK", Language: "PYTHON"},
		},
	}
}

// InjectFailures makes the next n requests fail with the given HTTP status.
func (f *Fake) InjectFailures(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failuresLeft = n
	f.failureStatus = status
}

// AddRun registers a run the waiter can observe and returns its ID.
func (f *Fake) AddRun() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunID++
	id := f.nextRunID
	f.runs[id] = &fakeRun{id: id}
	return id
}

// DestroyedContexts reports how many contexts have been destroyed.
func (f *Fake) DestroyedContexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.contexts {
		if c == nil {
			n++
		}
	}
	return n
}

// DropContext removes a context as if the platform reclaimed it, without
// marking it destroyed.
func (f *Fake) DropContext(contextID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, contextID)
}

// Handler returns the HTTP handler implementing the platform API.
func (f *Fake) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(f.failureMiddleware)

	r.Post("/api/1.2/contexts/create", f.handleContextCreate)
	r.Get("/api/1.2/contexts/status", f.handleContextStatus)
	r.Post("/api/1.2/contexts/destroy", f.handleContextDestroy)
	r.Post("/api/1.2/commands/execute", f.handleCommandExecute)
	r.Get("/api/1.2/commands/status", f.handleCommandStatus)
	r.Post("/api/1.2/commands/cancel", f.handleCommandCancel)

	r.Post("/api/2.0/sql/statements", f.handleStatementSubmit)
	r.Get("/api/2.0/sql/statements/{statementID}", f.handleStatementStatus)
	r.Get("/api/2.0/sql/statements/{statementID}/result/chunks/{chunkIndex}", f.handleStatementChunk)
	r.Post("/api/2.0/sql/statements/{statementID}/cancel", f.handleStatementCancel)

	r.Get("/api/2.0/jobs/runs/get", f.handleRunGet)
	r.Post("/api/2.0/jobs/runs/cancel", f.handleRunCancel)
	r.Get("/api/2.0/jobs/runs/get-output", f.handleRunOutput)
	r.Post("/api/2.1/jobs/runs/submit", f.handleRunSubmit)
	r.Post("/api/2.0/jobs/run-now", f.handleRunNow)
	r.Get("/api/2.0/jobs/list", f.handleJobsList)
	r.Get("/api/2.0/jobs/get", f.handleJobGet)

	r.Get("/api/2.0/clusters/list", f.handleClustersList)
	r.Get("/api/2.0/clusters/get", f.handleClusterGet)
	r.Post("/api/2.0/clusters/start", f.handleOK)
	r.Post("/api/2.0/clusters/delete", f.handleOK)
	r.Post("/api/2.0/clusters/restart", f.handleOK)

	r.Get("/api/2.0/workspace/list", f.handleWorkspaceList)
	r.Get("/api/2.0/workspace/export", f.handleWorkspaceExport)

	return r
}

func (f *Fake) failureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.failuresLeft > 0 {
			f.failuresLeft--
			status := f.failureStatus
			f.mu.Unlock()
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *Fake) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClusterID string `json:"clusterId"`
		Language  string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("ctx-%d", f.nextID)
	f.contexts[id] = &fakeContext{id: id, clusterID: req.ClusterID, language: req.Language}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *Fake) handleContextStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("contextId")

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.contexts[id]
	if !ok || c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "context not found"})
		return
	}

	c.polls++
	status := model.ContextPending
	if c.polls > f.ContextPollsToReady {
		status = f.ContextFinalState
		if status == "" {
			status = model.ContextRunning
		}
	}
	writeJSON(w, http.StatusOK, platform.ContextSnapshot{ID: id, Status: status})
}

func (f *Fake) handleContextDestroy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContextID string `json:"contextId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.contexts[req.ContextID]
	if !ok || c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "context not found"})
		return
	}
	// nil marks destroyed so DestroyedContexts can count them.
	f.contexts[req.ContextID] = nil
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *Fake) handleCommandExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClusterID string `json:"clusterId"`
		ContextID string `json:"contextId"`
		Language  string `json:"language"`
		Command   string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.contexts[req.ContextID]; !ok || c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "context not found"})
		return
	}

	f.nextID++
	id := fmt.Sprintf("cmd-%d", f.nextID)
	f.commands[id] = &fakeCommand{id: id, contextID: req.ContextID}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *Fake) handleCommandStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("commandId")

	f.mu.Lock()
	defer f.mu.Unlock()

	cmd, ok := f.commands[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "command not found"})
		return
	}
	if c, ok := f.contexts[cmd.contextID]; !ok || c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "context not found"})
		return
	}

	if cmd.cancelled {
		writeJSON(w, http.StatusOK, platform.CommandSnapshot{ID: id, Status: model.CommandCancelled})
		return
	}

	cmd.polls++
	if cmd.polls <= f.CommandPollsToFinish {
		writeJSON(w, http.StatusOK, platform.CommandSnapshot{ID: id, Status: model.CommandRunning})
		return
	}

	status := f.CommandFinalState
	if status == "" {
		status = model.CommandFinished
	}
	snap := platform.CommandSnapshot{ID: id, Status: status}
	resultType := f.CommandResultType
	if resultType == "" {
		resultType = "text"
	}
	snap.Results = &platform.CommandResults{
		ResultType: resultType,
		Data:       f.CommandData,
		Cause:      f.CommandCause,
	}
	writeJSON(w, http.StatusOK, snap)
}

func (f *Fake) handleCommandCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID string `json:"commandId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cmd, ok := f.commands[req.CommandID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "command not found"})
		return
	}
	if cmd.polls <= f.CommandPollsToFinish {
		cmd.cancelled = true
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *Fake) handleStatementSubmit(w http.ResponseWriter, r *http.Request) {
	var req platform.StatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}
	if req.Statement == "" || req.WarehouseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "statement and warehouse_id are required"})
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("stmt-%d", f.nextID)
	st := &fakeStatement{id: id}
	f.statements[id] = st
	snap := f.statementSnapshotLocked(st)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, snap)
}

func (f *Fake) handleStatementStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "statementID")

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.statements[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "statement not found"})
		return
	}
	st.polls++
	writeJSON(w, http.StatusOK, f.statementSnapshotLocked(st))
}

// statementSnapshotLocked builds the response for a statement's current
// progress. Callers hold f.mu.
func (f *Fake) statementSnapshotLocked(st *fakeStatement) platform.StatementSnapshot {
	snap := platform.StatementSnapshot{StatementID: st.id}

	if st.cancelled {
		snap.Status = platform.StatementStatus{State: model.StatementCanceled}
		return snap
	}
	if st.polls <= f.StatementPollsToFinish {
		state := model.StatementPending
		if st.polls > 0 {
			state = model.StatementRunning
		}
		snap.Status = platform.StatementStatus{State: state}
		return snap
	}

	final := f.StatementFinalState
	if final == "" {
		final = model.StatementSucceeded
	}
	snap.Status = platform.StatementStatus{State: final}

	switch final {
	case model.StatementSucceeded:
		snap.Manifest = &platform.ResultManifest{
			Schema:          platform.ResultSchema{ColumnCount: len(f.StatementColumns), Columns: f.StatementColumns},
			TotalChunkCount: len(f.StatementPages),
		}
		snap.Result = f.chunkLocked(0)
	case model.StatementFailed, model.StatementClosed:
		msg := f.StatementErrorMessage
		if msg == "" {
			msg = "statement failed"
		}
		snap.Status.Error = &platform.StatementError{Message: msg}
	}
	return snap
}

// chunkLocked builds result chunk idx. Callers hold f.mu.
func (f *Fake) chunkLocked(idx int) *platform.ResultData {
	if idx >= len(f.StatementPages) {
		return &platform.ResultData{ChunkIndex: idx}
	}
	data := &platform.ResultData{
		ChunkIndex: idx,
		DataArray:  f.StatementPages[idx],
		RowCount:   int64(len(f.StatementPages[idx])),
	}
	if idx+1 < len(f.StatementPages) {
		next := idx + 1
		data.NextChunkIndex = &next
	}
	return data
}

func (f *Fake) handleStatementChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "statementID")
	idx, err := strconv.Atoi(chi.URLParam(r, "chunkIndex"))
	if err != nil || idx < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad chunk index"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.statements[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "statement not found"})
		return
	}
	if idx >= len(f.StatementPages) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "chunk not found"})
		return
	}
	writeJSON(w, http.StatusOK, f.chunkLocked(idx))
}

func (f *Fake) handleStatementCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "statementID")

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.statements[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "statement not found"})
		return
	}
	if st.polls <= f.StatementPollsToFinish {
		st.cancelled = true
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *Fake) handleRunGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("run_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad run_id"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.runs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "run not found"})
		return
	}

	states := f.RunStates
	if len(states) == 0 {
		states = []string{model.RunRunning, model.RunTerminated}
	}
	idx := run.polls
	if idx >= len(states) {
		idx = len(states) - 1
	}
	run.polls++

	state := platform.RunState{LifeCycleState: states[idx]}
	if model.RunTerminal(state.LifeCycleState) {
		state.ResultState = f.RunResultState
		if state.ResultState == "" {
			state.ResultState = model.RunResultSuccess
		}
	}
	writeJSON(w, http.StatusOK, platform.RunSnapshot{
		RunID:      id,
		State:      state,
		RunPageURL: fmt.Sprintf("https://platform.example.com/#job/run/%d", id),
	})
}

func (f *Fake) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *Fake) handleRunOutput(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, platform.RunOutput{
		NotebookOutput: &platform.NotebookOutput{Result: "done"},
	})
}

func (f *Fake) handleRunSubmit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.nextRunID++
	id := f.nextRunID
	f.runs[id] = &fakeRun{id: id}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int64{"run_id": id})
}

func (f *Fake) handleRunNow(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.nextRunID++
	id := f.nextRunID
	f.runs[id] = &fakeRun{id: id}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int64{"run_id": id})
}

func (f *Fake) handleJobsList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": f.Jobs})
}

func (f *Fake) handleJobGet(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("job_id"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, j := range f.Jobs {
		if j.JobID == id {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "job not found"})
}

func (f *Fake) handleClustersList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"clusters": f.Clusters})
}

func (f *Fake) handleClusterGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("cluster_id")

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.Clusters {
		if c.ClusterID == id {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "cluster not found"})
}

func (f *Fake) handleWorkspaceList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"objects": f.Objects})
}

func (f *Fake) handleWorkspaceExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"content": "cHJpbnQoImhlbGxvIik="})
}

func (f *Fake) handleOK(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
