package platform

import "encoding/json"

// ContextSnapshot is the status of an execution context as reported by
// GET /api/1.2/contexts/status.
type ContextSnapshot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CommandResults is the nested result block of a command status response.
// ResultType "error" signals that the command ran but the code it executed
// failed; Cause and Summary then describe the failure.
type CommandResults struct {
	ResultType string          `json:"resultType"`
	Data       json.RawMessage `json:"data,omitempty"`
	Cause      string          `json:"cause,omitempty"`
	Summary    string          `json:"summary,omitempty"`
}

// CommandSnapshot is the status of a command as reported by
// GET /api/1.2/commands/status. Results is present only in terminal states.
type CommandSnapshot struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Results *CommandResults `json:"results,omitempty"`
}

// StatementError is the error block of a statement status response.
type StatementError struct {
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatementStatus is the state block of a statement response.
type StatementStatus struct {
	State string          `json:"state"`
	Error *StatementError `json:"error,omitempty"`
}

// Column describes one column of a statement result schema.
type Column struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	Position int    `json:"position"`
}

// ResultSchema is the schema block of a statement result manifest.
type ResultSchema struct {
	ColumnCount int      `json:"column_count"`
	Columns     []Column `json:"columns"`
}

// ResultManifest describes the shape of a statement result set.
type ResultManifest struct {
	Schema          ResultSchema `json:"schema"`
	TotalChunkCount int          `json:"total_chunk_count"`
	TotalRowCount   int64        `json:"total_row_count"`
}

// ResultData is one chunk of statement result rows. NextChunkIndex is nil on
// the final chunk.
type ResultData struct {
	ChunkIndex     int        `json:"chunk_index"`
	RowCount       int64      `json:"row_count"`
	DataArray      [][]string `json:"data_array"`
	NextChunkIndex *int       `json:"next_chunk_index,omitempty"`
}

// StatementSnapshot is the full statement response from the 2.0 statement
// API. Manifest and Result are present only once the statement succeeded.
type StatementSnapshot struct {
	StatementID string          `json:"statement_id"`
	Status      StatementStatus `json:"status"`
	Manifest    *ResultManifest `json:"manifest,omitempty"`
	Result      *ResultData     `json:"result,omitempty"`
}

// StatementRequest is the body for submitting a SQL statement.
type StatementRequest struct {
	Statement   string           `json:"statement"`
	WarehouseID string           `json:"warehouse_id"`
	Catalog     string           `json:"catalog,omitempty"`
	Schema      string           `json:"schema,omitempty"`
	Parameters  []StatementParam `json:"parameters,omitempty"`
	RowLimit    int64            `json:"row_limit,omitempty"`
	ByteLimit   int64            `json:"byte_limit,omitempty"`
}

// StatementParam is a named statement parameter.
type StatementParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// RunState is the state block of a job run.
type RunState struct {
	LifeCycleState string `json:"life_cycle_state"`
	ResultState    string `json:"result_state,omitempty"`
	StateMessage   string `json:"state_message,omitempty"`
}

// RunSnapshot is a job run as reported by GET /api/2.0/jobs/runs/get.
type RunSnapshot struct {
	RunID      int64    `json:"run_id"`
	RunName    string   `json:"run_name,omitempty"`
	State      RunState `json:"state"`
	RunPageURL string   `json:"run_page_url,omitempty"`
}

// NotebookOutput is the notebook result block of a run output response.
type NotebookOutput struct {
	Result    string `json:"result,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// RunOutput is the output of a completed run.
type RunOutput struct {
	NotebookOutput *NotebookOutput `json:"notebook_output,omitempty"`
	Error          string          `json:"error,omitempty"`
	Metadata       *RunSnapshot    `json:"metadata,omitempty"`
}

// ClusterInfo describes a cluster, as returned by the clusters API.
type ClusterInfo struct {
	ClusterID    string `json:"cluster_id"`
	ClusterName  string `json:"cluster_name"`
	State        string `json:"state"`
	SparkVersion string `json:"spark_version,omitempty"`
	NodeTypeID   string `json:"node_type_id,omitempty"`
	NumWorkers   int    `json:"num_workers"`
}

// JobSettings is the settings block of a job.
type JobSettings struct {
	Name string `json:"name"`
}

// Job describes a job definition.
type Job struct {
	JobID    int64       `json:"job_id"`
	Settings JobSettings `json:"settings"`
}

// ObjectInfo describes a workspace object (notebook, directory, file).
type ObjectInfo struct {
	Path       string `json:"path"`
	ObjectType string `json:"object_type"`
	Language   string `json:"language,omitempty"`
}
