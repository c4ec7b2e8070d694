package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/lakerun/internal/engine"
	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/platformtest"
	"github.com/seantiz/lakerun/internal/poll"
	"github.com/seantiz/lakerun/internal/store"
)

func newTestServer(t *testing.T, fake *platformtest.Fake) *Server {
	t.Helper()

	upstream := httptest.NewServer(fake.Handler())
	t.Cleanup(upstream.Close)

	client := platform.NewClient(platform.Config{
		Host:              upstream.URL,
		Token:             "test-token",
		RequestsPerSecond: 10000,
	})

	history, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(client, "wh-1", logger)
	opts := poll.Options{Interval: time.Millisecond, MaxWait: 5 * time.Second}
	return NewServer(":0", eng, client, history, opts, logger)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeBody[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestCreateContext(t *testing.T) {
	fake := platformtest.New()
	fake.ContextPollsToReady = 2
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/contexts", `{"cluster_id":"cluster-1","language":"python"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	ec := decodeBody[model.ExecContext](t, resp)
	if ec.ID == "" {
		t.Error("context ID missing")
	}
	if ec.State != model.ContextRunning {
		t.Errorf("state = %q, want %q", ec.State, model.ContextRunning)
	}
}

func TestCreateContextMissingCluster(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/contexts", `{"language":"python"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestValidateAndDestroyContext(t *testing.T) {
	fake := platformtest.New()
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := decodeBody[model.ExecContext](t, postJSON(t, ts.URL+"/v1/contexts", `{"cluster_id":"cluster-1"}`))

	resp, err := http.Get(ts.URL + "/v1/contexts/" + created.ID + "?cluster_id=cluster-1")
	if err != nil {
		t.Fatalf("GET context: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("validate status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/contexts/"+created.ID+"?cluster_id=cluster-1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE context: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("destroy status = %d, want 204", resp.StatusCode)
	}

	// A destroyed context no longer validates.
	resp, err = http.Get(ts.URL + "/v1/contexts/" + created.ID + "?cluster_id=cluster-1")
	if err != nil {
		t.Fatalf("GET destroyed context: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("validate destroyed status = %d, want 409", resp.StatusCode)
	}
}

func TestCommandSubmitWaitFlow(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 2
	fake.CommandData = []byte(`{"value":42}`)
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ec := decodeBody[model.ExecContext](t, postJSON(t, ts.URL+"/v1/contexts", `{"cluster_id":"cluster-1"}`))

	resp := postJSON(t, ts.URL+"/v1/commands",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`","code":"compute()"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	cmd := decodeBody[model.CommandExecution](t, resp)
	if cmd.State != model.CommandQueued {
		t.Errorf("state = %q, want %q", cmd.State, model.CommandQueued)
	}

	resp = postJSON(t, ts.URL+"/v1/commands/"+cmd.ID+"/wait",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, want 200", resp.StatusCode)
	}
	finished := decodeBody[model.CommandExecution](t, resp)
	if finished.Result == nil || finished.Result.Outcome != model.OutcomeOK {
		t.Fatalf("result = %+v, want ok outcome", finished.Result)
	}
	if string(finished.Result.Data) != `{"value":42}` {
		t.Errorf("data = %s, want {\"value\":42}", finished.Result.Data)
	}

	// The wait closed out the history record.
	op := decodeBody[store.Operation](t, mustGet(t, ts.URL+"/v1/operations/command:"+cmd.ID))
	if op.State != store.StateSucceeded {
		t.Errorf("history state = %q, want %q", op.State, store.StateSucceeded)
	}
	if op.FinishedAt == nil {
		t.Error("history FinishedAt missing")
	}
}

func TestCommandSubmitUnknownContext(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/commands",
		`{"cluster_id":"cluster-1","context_id":"ctx-missing","code":"x"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCommandWaitTimeout(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 100000
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ec := decodeBody[model.ExecContext](t, postJSON(t, ts.URL+"/v1/contexts", `{"cluster_id":"cluster-1"}`))
	cmd := decodeBody[model.CommandExecution](t, postJSON(t, ts.URL+"/v1/commands",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`","code":"spin()"}`))

	resp := postJSON(t, ts.URL+"/v1/commands/"+cmd.ID+"/wait",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`","poll_interval":"1ms","max_wait":"20ms"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}

	op := decodeBody[store.Operation](t, mustGet(t, ts.URL+"/v1/operations/command:"+cmd.ID))
	if op.State != store.StateTimedOut {
		t.Errorf("history state = %q, want %q", op.State, store.StateTimedOut)
	}
}

func TestRunCommandOnce(t *testing.T) {
	fake := platformtest.New()
	fake.CommandData = []byte(`"done"`)
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/commands/run", `{"cluster_id":"cluster-1","code":"print(1)"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	res := decodeBody[model.CommandResult](t, resp)
	if res.Outcome != model.OutcomeOK {
		t.Errorf("outcome = %q, want ok", res.Outcome)
	}
	if got := fake.DestroyedContexts(); got != 1 {
		t.Errorf("destroyed contexts = %d, want 1", got)
	}
}

func TestStatementExecuteWithPages(t *testing.T) {
	fake := platformtest.New()
	fake.StatementPollsToFinish = 1
	fake.StatementColumns = []platform.Column{{Name: "id", TypeName: "BIGINT"}}
	fake.StatementPages = [][][]string{
		{{"1"}, {"2"}},
		{{"3"}},
	}
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/statements/execute", `{"statement":"SELECT id FROM t"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	st := decodeBody[model.StatementExecution](t, resp)
	if st.Result == nil || st.Result.Outcome != model.OutcomeOK {
		t.Fatalf("result = %+v, want ok", st.Result)
	}
	if st.Result.Page.NextPageToken == "" {
		t.Fatal("missing continuation token")
	}

	page := decodeBody[model.ResultPage](t, mustGet(t,
		ts.URL+"/v1/statements/"+st.ID+"/pages/"+st.Result.Page.NextPageToken))
	if len(page.Rows) != 1 || page.Rows[0][0] != "3" {
		t.Errorf("page rows = %+v, want final row", page.Rows)
	}
	if page.NextPageToken != "" {
		t.Errorf("final page token = %q, want empty", page.NextPageToken)
	}
}

func TestStatementPageBadToken(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := mustGet(t, ts.URL+"/v1/statements/stmt-1/pages/abc")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatementMissingStatement(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/statements", `{"warehouse_id":"wh-1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRunSubmitAndWait(t *testing.T) {
	fake := platformtest.New()
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runs", `{"run_name":"adhoc","tasks":[{"task_key":"t"}]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	submitted := decodeBody[submitRunResponse](t, resp)
	if submitted.RunID == 0 {
		t.Fatal("run ID missing")
	}

	id := strconv.FormatInt(submitted.RunID, 10)
	resp = postJSON(t, ts.URL+"/v1/runs/"+id+"/wait", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, want 200", resp.StatusCode)
	}
	outcome := decodeBody[model.RunOutcome](t, resp)
	if !outcome.Succeeded {
		t.Errorf("Succeeded = false, want true")
	}

	out := decodeBody[platform.RunOutput](t, mustGet(t, ts.URL+"/v1/runs/"+id+"/output"))
	if out.NotebookOutput == nil || out.NotebookOutput.Result == "" {
		t.Errorf("output = %+v, want notebook result", out)
	}

	op := decodeBody[store.Operation](t, mustGet(t, ts.URL+"/v1/operations/run:"+id))
	if op.State != store.StateSucceeded {
		t.Errorf("history state = %q, want %q", op.State, store.StateSucceeded)
	}
}

func TestRunBadID(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := mustGet(t, ts.URL+"/v1/runs/not-a-number")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListClustersAndJobs(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	clusters := decodeBody[listClustersResponse](t, mustGet(t, ts.URL+"/v1/clusters"))
	if len(clusters.Clusters) != 1 || clusters.Clusters[0].ClusterID != "cluster-1" {
		t.Errorf("clusters = %+v, want the seeded cluster", clusters.Clusters)
	}

	jobs := decodeBody[listJobsResponse](t, mustGet(t, ts.URL+"/v1/jobs"))
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].Settings.Name != "nightly-etl" {
		t.Errorf("jobs = %+v, want the seeded job", jobs.Jobs)
	}

	job := decodeBody[platform.Job](t, mustGet(t, ts.URL+"/v1/jobs/101"))
	if job.JobID != 101 || job.Settings.Name != "nightly-etl" {
		t.Errorf("job = %+v, want the seeded job", job)
	}

	resp := mustGet(t, ts.URL+"/v1/jobs/999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown job", resp.StatusCode)
	}
}

func TestWorkspaceListAndExport(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	objects := decodeBody[listWorkspaceResponse](t, mustGet(t, ts.URL+"/v1/workspace?path=/Shared"))
	if len(objects.Objects) != 1 {
		t.Errorf("objects = %+v, want one seeded notebook", objects.Objects)
	}

	export := decodeBody[exportNotebookResponse](t, mustGet(t, ts.URL+"/v1/workspace/export?path=/Shared/etl"))
	if export.Content == "" {
		t.Error("export content missing")
	}
	if export.Format != "SOURCE" {
		t.Errorf("format = %q, want SOURCE default", export.Format)
	}

	resp := mustGet(t, ts.URL+"/v1/workspace/export")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("export without path status = %d, want 400", resp.StatusCode)
	}
}

func TestOperationsListAndStats(t *testing.T) {
	fake := platformtest.New()
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Run one command to populate history.
	resp := postJSON(t, ts.URL+"/v1/commands/run", `{"cluster_id":"cluster-1","code":"x"}`)
	resp.Body.Close()

	list := decodeBody[listOperationsResponse](t, mustGet(t, ts.URL+"/v1/operations"))
	if list.Total != 1 || len(list.Operations) != 1 {
		t.Fatalf("operations = %+v, want one record", list)
	}
	if list.Operations[0].Kind != string(model.KindCommand) {
		t.Errorf("kind = %q, want command", list.Operations[0].Kind)
	}

	stats := decodeBody[statsResponse](t, mustGet(t, ts.URL+"/v1/stats"))
	if stats.Total != 1 {
		t.Errorf("stats total = %d, want 1", stats.Total)
	}
	if stats.ByState[store.StateSucceeded] != 1 {
		t.Errorf("by state = %v, want one succeeded", stats.ByState)
	}
}

func TestOperationNotFound(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := mustGet(t, ts.URL+"/v1/operations/nope")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsAfterCompletion(t *testing.T) {
	fake := platformtest.New()
	srv := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ec := decodeBody[model.ExecContext](t, postJSON(t, ts.URL+"/v1/contexts", `{"cluster_id":"cluster-1"}`))
	cmd := decodeBody[model.CommandExecution](t, postJSON(t, ts.URL+"/v1/commands",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`","code":"x"}`))
	postJSON(t, ts.URL+"/v1/commands/"+cmd.ID+"/wait",
		`{"cluster_id":"cluster-1","context_id":"`+ec.ID+`"}`).Body.Close()

	// The wait finished, so the topic is closed; the stream ends immediately
	// with a done event.
	resp := mustGet(t, ts.URL+"/v1/events/command/"+cmd.ID)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("stream body = %q, want done event", body)
	}
}

func TestStreamEventsUnknownKind(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := mustGet(t, ts.URL+"/v1/events/gadget/42")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t, platformtest.New())
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := mustGet(t, ts.URL+"/panic")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func mustGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}
