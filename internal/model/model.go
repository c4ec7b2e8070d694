package model

import "encoding/json"

// OperationKind identifies which remote resource a handle refers to.
type OperationKind string

// Operation kinds.
const (
	KindContext   OperationKind = "context"
	KindCommand   OperationKind = "command"
	KindStatement OperationKind = "statement"
	KindRun       OperationKind = "run"
)

// Handle identifies a single remote operation. Scope is the cluster or
// warehouse the operation runs against; ID is assigned by the platform.
// A handle is valid only until its owning resource is disposed.
type Handle struct {
	Scope string        `json:"scope"`
	ID    string        `json:"id"`
	Kind  OperationKind `json:"kind"`
}

// Language constants for execution contexts and commands.
const (
	LangPython = "python"
	LangScala  = "scala"
	LangSQL    = "sql"
	LangR      = "r"
)

// ValidLanguage reports whether s is a language the command API accepts.
func ValidLanguage(s string) bool {
	switch s {
	case LangPython, LangScala, LangSQL, LangR:
		return true
	}
	return false
}

// Execution context states reported by the 1.2 command API.
const (
	ContextPending = "Pending"
	ContextRunning = "Running"
	ContextError   = "Error"
)

// ExecContext is a stateful remote session on a cluster. Commands submitted
// into the same context share variable bindings. The context manager is the
// sole authority on destruction; command execution only borrows the context
// by reference.
type ExecContext struct {
	ID        string `json:"id"`
	ClusterID string `json:"cluster_id"`
	Language  string `json:"language"`
	State     string `json:"state"`
}

// Command states reported by the 1.2 command API.
const (
	CommandQueued     = "Queued"
	CommandRunning    = "Running"
	CommandCancelling = "Cancelling"
	CommandFinished   = "Finished"
	CommandError      = "Error"
	CommandCancelled  = "Cancelled"
)

// CommandTerminal reports whether a command state admits no further transition.
func CommandTerminal(state string) bool {
	switch state {
	case CommandFinished, CommandError, CommandCancelled:
		return true
	}
	return false
}

// validCommandTransitions maps each command state to the states it may move to.
var validCommandTransitions = map[string]map[string]bool{
	CommandQueued: {
		CommandRunning:   true,
		CommandError:     true,
		CommandCancelled: true,
	},
	CommandRunning: {
		CommandCancelling: true,
		CommandFinished:   true,
		CommandError:      true,
		CommandCancelled:  true,
	},
	CommandCancelling: {
		CommandCancelled: true,
		CommandFinished:  true,
		CommandError:     true,
	},
}

// ValidCommandTransition reports whether moving a command from one state to
// another is allowed. Terminal states admit no transitions.
func ValidCommandTransition(from, to string) bool {
	targets, ok := validCommandTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Result outcome tags. A terminal result is exactly one of these and is
// write-once: once recorded it is never replaced.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// CommandExecution tracks one command submitted into an execution context.
// Result is populated only once the command reaches a terminal state.
type CommandExecution struct {
	ID        string         `json:"id"`
	ContextID string         `json:"context_id"`
	ClusterID string         `json:"cluster_id"`
	Language  string         `json:"language"`
	State     string         `json:"state"`
	Result    *CommandResult `json:"result,omitempty"`
}

// CommandResult is the terminal outcome of a command. A command that ran to
// completion but raised inside the remote interpreter carries OutcomeError
// even though the platform reported the command itself as Finished.
type CommandResult struct {
	Outcome string          `json:"outcome"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Statement states reported by the 2.0 statement API.
const (
	StatementPending   = "PENDING"
	StatementRunning   = "RUNNING"
	StatementSucceeded = "SUCCEEDED"
	StatementFailed    = "FAILED"
	StatementCanceled  = "CANCELED"
	StatementClosed    = "CLOSED"
)

// StatementTerminal reports whether a statement state admits no further
// transition.
func StatementTerminal(state string) bool {
	switch state {
	case StatementSucceeded, StatementFailed, StatementCanceled, StatementClosed:
		return true
	}
	return false
}

// StatementExecution tracks one SQL statement submitted to a warehouse.
type StatementExecution struct {
	ID          string           `json:"id"`
	WarehouseID string           `json:"warehouse_id"`
	State       string           `json:"state"`
	Result      *StatementResult `json:"result,omitempty"`
}

// StatementResult is the terminal outcome of a statement. On success Page
// holds the first result page only; further pages are fetched explicitly
// with the page token.
type StatementResult struct {
	Outcome string      `json:"outcome"`
	Message string      `json:"message,omitempty"`
	Page    *ResultPage `json:"page,omitempty"`
}

// ResultPage is one page of statement results. NextPageToken is empty on the
// final page.
type ResultPage struct {
	Columns       []ColumnInfo `json:"columns,omitempty"`
	Rows          [][]string   `json:"rows"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// ColumnInfo describes one column of a statement result.
type ColumnInfo struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	Position int    `json:"position"`
}

// Job run life-cycle states reported by the jobs API.
const (
	RunPending       = "PENDING"
	RunRunning       = "RUNNING"
	RunTerminating   = "TERMINATING"
	RunTerminated    = "TERMINATED"
	RunSkipped       = "SKIPPED"
	RunInternalError = "INTERNAL_ERROR"
)

// RunResultSuccess is the result state of a run that completed successfully.
const RunResultSuccess = "SUCCESS"

// RunTerminal reports whether a run life-cycle state admits no further
// transition.
func RunTerminal(lifeCycleState string) bool {
	switch lifeCycleState {
	case RunTerminated, RunSkipped, RunInternalError:
		return true
	}
	return false
}

// RunOutcome is the observed terminal state of a job run. The run itself is
// owned entirely by the platform; this is a read-only view.
type RunOutcome struct {
	RunID          int64  `json:"run_id"`
	LifeCycleState string `json:"life_cycle_state"`
	ResultState    string `json:"result_state,omitempty"`
	StateMessage   string `json:"state_message,omitempty"`
	Succeeded      bool   `json:"succeeded"`
	RunPageURL     string `json:"run_page_url,omitempty"`
}
