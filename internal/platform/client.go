// Package platform is the HTTP gateway to the remote compute platform.
// Every exported method performs exactly one outbound request and returns
// either a decoded snapshot or a classified *Error. Retry policy does not
// live here; callers that want retries poll through the poll package.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second

	// Outbound request budget. Polling loops for many concurrent handles
	// share this limiter so the platform API is never hammered.
	defaultRequestsPerSecond = 10
	defaultBurst             = 5
)

// Config holds the settings needed to reach the platform.
type Config struct {
	// Host is the workspace base URL, e.g. "https://acme.cloud.example.com".
	Host string
	// Token is the bearer token sent with every request.
	Token string
	// Timeout bounds each individual request. Zero means a 30s default.
	Timeout time.Duration
	// RequestsPerSecond caps the outbound request rate across all
	// concurrent poll loops. Zero means a conservative default.
	RequestsPerSecond float64
}

// Client talks to the platform REST API. It is safe for concurrent use by
// any number of simultaneous poll loops; the underlying connection pool is
// the only shared state.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient builds a client for the given workspace.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	limiter := rate.NewLimiter(rate.Limit(rps), defaultBurst)

	httpc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Host, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "lakerun")

	httpc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &Client{http: httpc, limiter: limiter}
}

// apiErrorBody is the error payload shape the platform returns.
type apiErrorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// do performs one request. body may be nil; query may be nil; out may be nil
// for calls whose response body is irrelevant.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		// Caller-driven cancellation is not a platform failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &Error{Kind: FailTransient, Message: err.Error()}
	}

	if resp.IsError() {
		return &Error{
			Kind:       classifyStatus(resp.StatusCode()),
			StatusCode: resp.StatusCode(),
			Message:    errorMessage(resp.Body()),
		}
	}

	return nil
}

// errorMessage pulls a human-readable message out of an error response body.
func errorMessage(body []byte) string {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Message != "":
			return eb.Message
		case eb.Error != "":
			return eb.Error
		case eb.ErrorCode != "":
			return eb.ErrorCode
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty error response"
	}
	return msg
}

// CreateContext asks the platform for a new execution context on a cluster
// and returns the context ID. The context is not necessarily ready yet.
func (c *Client) CreateContext(ctx context.Context, clusterID, language string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, resty.MethodPost, "/api/1.2/contexts/create",
		nil, map[string]string{"clusterId": clusterID, "language": language}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &Error{Kind: FailPermanent, Message: "context create returned no id"}
	}
	return out.ID, nil
}

// ContextStatus fetches the current state of an execution context.
func (c *Client) ContextStatus(ctx context.Context, clusterID, contextID string) (*ContextSnapshot, error) {
	out := &ContextSnapshot{}
	err := c.do(ctx, resty.MethodGet, "/api/1.2/contexts/status",
		map[string]string{"clusterId": clusterID, "contextId": contextID}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DestroyContext disposes an execution context. Destroying a context that is
// already gone reports not-found; idempotence is the caller's concern.
func (c *Client) DestroyContext(ctx context.Context, clusterID, contextID string) error {
	return c.do(ctx, resty.MethodPost, "/api/1.2/contexts/destroy",
		nil, map[string]string{"clusterId": clusterID, "contextId": contextID}, nil)
}

// ExecuteCommand submits code into an execution context and returns the
// platform-assigned command ID.
func (c *Client) ExecuteCommand(ctx context.Context, clusterID, contextID, language, command string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, resty.MethodPost, "/api/1.2/commands/execute", nil, map[string]string{
		"clusterId": clusterID,
		"contextId": contextID,
		"language":  language,
		"command":   command,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &Error{Kind: FailPermanent, Message: "command execute returned no id"}
	}
	return out.ID, nil
}

// CommandStatus fetches the current state of a command, including results
// once the command is terminal.
func (c *Client) CommandStatus(ctx context.Context, clusterID, contextID, commandID string) (*CommandSnapshot, error) {
	out := &CommandSnapshot{}
	err := c.do(ctx, resty.MethodGet, "/api/1.2/commands/status", map[string]string{
		"clusterId": clusterID,
		"contextId": contextID,
		"commandId": commandID,
	}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelCommand requests cancellation of a running command.
func (c *Client) CancelCommand(ctx context.Context, clusterID, contextID, commandID string) error {
	return c.do(ctx, resty.MethodPost, "/api/1.2/commands/cancel", nil, map[string]string{
		"clusterId": clusterID,
		"contextId": contextID,
		"commandId": commandID,
	}, nil)
}

// SubmitStatement submits a SQL statement to a warehouse. The returned
// snapshot may already be terminal for fast statements.
func (c *Client) SubmitStatement(ctx context.Context, req StatementRequest) (*StatementSnapshot, error) {
	out := &StatementSnapshot{}
	err := c.do(ctx, resty.MethodPost, "/api/2.0/sql/statements", nil, req, out)
	if err != nil {
		return nil, err
	}
	if out.StatementID == "" {
		return nil, &Error{Kind: FailPermanent, Message: "statement submit returned no statement_id"}
	}
	return out, nil
}

// StatementStatus fetches the current state of a statement.
func (c *Client) StatementStatus(ctx context.Context, statementID string) (*StatementSnapshot, error) {
	out := &StatementSnapshot{}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/sql/statements/"+statementID, nil, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StatementResultChunk fetches one chunk of a statement result set.
func (c *Client) StatementResultChunk(ctx context.Context, statementID string, chunkIndex int) (*ResultData, error) {
	out := &ResultData{}
	path := "/api/2.0/sql/statements/" + statementID + "/result/chunks/" + strconv.Itoa(chunkIndex)
	if err := c.do(ctx, resty.MethodGet, path, nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelStatement requests cancellation of a running statement.
func (c *Client) CancelStatement(ctx context.Context, statementID string) error {
	return c.do(ctx, resty.MethodPost, "/api/2.0/sql/statements/"+statementID+"/cancel", nil, nil, nil)
}

// GetRun fetches the current state of a job run.
func (c *Client) GetRun(ctx context.Context, runID int64) (*RunSnapshot, error) {
	out := &RunSnapshot{}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/jobs/runs/get",
		map[string]string{"run_id": strconv.FormatInt(runID, 10)}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelRun requests cancellation of a job run.
func (c *Client) CancelRun(ctx context.Context, runID int64) error {
	return c.do(ctx, resty.MethodPost, "/api/2.0/jobs/runs/cancel",
		nil, map[string]int64{"run_id": runID}, nil)
}

// GetRunOutput fetches the output of a completed job run.
func (c *Client) GetRunOutput(ctx context.Context, runID int64) (*RunOutput, error) {
	out := &RunOutput{}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/jobs/runs/get-output",
		map[string]string{"run_id": strconv.FormatInt(runID, 10)}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitRun submits a one-time run without creating a job and returns the
// run ID. The config is passed through to the platform unmodified.
func (c *Client) SubmitRun(ctx context.Context, runConfig json.RawMessage) (int64, error) {
	var out struct {
		RunID int64 `json:"run_id"`
	}
	if err := c.do(ctx, resty.MethodPost, "/api/2.1/jobs/runs/submit", nil, runConfig, &out); err != nil {
		return 0, err
	}
	if out.RunID == 0 {
		return 0, &Error{Kind: FailPermanent, Message: "run submit returned no run_id"}
	}
	return out.RunID, nil
}

// RunNow triggers an existing job and returns the new run ID.
func (c *Client) RunNow(ctx context.Context, jobID int64, notebookParams map[string]string) (int64, error) {
	body := map[string]any{"job_id": jobID}
	if len(notebookParams) > 0 {
		body["notebook_params"] = notebookParams
	}
	var out struct {
		RunID int64 `json:"run_id"`
	}
	if err := c.do(ctx, resty.MethodPost, "/api/2.0/jobs/run-now", nil, body, &out); err != nil {
		return 0, err
	}
	return out.RunID, nil
}

// ListJobs lists all job definitions.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/2.0/jobs/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// GetJob fetches one job definition.
func (c *Client) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	out := &Job{}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/jobs/get",
		map[string]string{"job_id": strconv.FormatInt(jobID, 10)}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListClusters lists all clusters in the workspace.
func (c *Client) ListClusters(ctx context.Context) ([]ClusterInfo, error) {
	var out struct {
		Clusters []ClusterInfo `json:"clusters"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/2.0/clusters/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

// GetCluster fetches one cluster.
func (c *Client) GetCluster(ctx context.Context, clusterID string) (*ClusterInfo, error) {
	out := &ClusterInfo{}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/clusters/get",
		map[string]string{"cluster_id": clusterID}, nil, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartCluster starts a terminated cluster.
func (c *Client) StartCluster(ctx context.Context, clusterID string) error {
	return c.do(ctx, resty.MethodPost, "/api/2.0/clusters/start",
		nil, map[string]string{"cluster_id": clusterID}, nil)
}

// TerminateCluster terminates a running cluster.
func (c *Client) TerminateCluster(ctx context.Context, clusterID string) error {
	return c.do(ctx, resty.MethodPost, "/api/2.0/clusters/delete",
		nil, map[string]string{"cluster_id": clusterID}, nil)
}

// RestartCluster restarts a running cluster.
func (c *Client) RestartCluster(ctx context.Context, clusterID string) error {
	return c.do(ctx, resty.MethodPost, "/api/2.0/clusters/restart",
		nil, map[string]string{"cluster_id": clusterID}, nil)
}

// ListWorkspace lists objects under a workspace path.
func (c *Client) ListWorkspace(ctx context.Context, path string) ([]ObjectInfo, error) {
	var out struct {
		Objects []ObjectInfo `json:"objects"`
	}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/workspace/list",
		map[string]string{"path": path}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Objects, nil
}

// ExportNotebook exports a notebook in the given format and returns the
// base64-encoded content.
func (c *Client) ExportNotebook(ctx context.Context, path, format string) (string, error) {
	if format == "" {
		format = "SOURCE"
	}
	var out struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, resty.MethodGet, "/api/2.0/workspace/export",
		map[string]string{"path": path, "format": format}, nil, &out)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}
