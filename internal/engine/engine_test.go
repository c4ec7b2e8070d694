package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/platformtest"
	"github.com/seantiz/lakerun/internal/poll"
)

// fastPoll keeps engine tests quick; the fake platform advances per fetch.
var fastPoll = poll.Options{Interval: time.Millisecond, MaxWait: 5 * time.Second}

func newTestEngine(t *testing.T, fake *platformtest.Fake, warehouseID string) *Engine {
	t.Helper()
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	client := platform.NewClient(platform.Config{
		Host:              srv.URL,
		Token:             "test-token",
		RequestsPerSecond: 10000,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, warehouseID, logger)
}

func TestContextCreatePollsUntilRunning(t *testing.T) {
	fake := platformtest.New()
	fake.ContextPollsToReady = 2
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ec.State != model.ContextRunning {
		t.Errorf("state = %q, want %q", ec.State, model.ContextRunning)
	}
	if ec.ID == "" || ec.ClusterID != "cluster-1" || ec.Language != model.LangPython {
		t.Errorf("unexpected context: %+v", ec)
	}
}

func TestContextCreateRejectsUnknownLanguage(t *testing.T) {
	eng := newTestEngine(t, platformtest.New(), "")

	_, err := eng.Contexts.Create(context.Background(), "cluster-1", "cobol", fastPoll)
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("Create() error = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestContextCreateDestroysOnErrorState(t *testing.T) {
	fake := platformtest.New()
	fake.ContextFinalState = model.ContextError
	eng := newTestEngine(t, fake, "")

	_, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if !errors.Is(err, ErrContextCreation) {
		t.Fatalf("Create() error = %v, want ErrContextCreation", err)
	}
	if got := fake.DestroyedContexts(); got != 1 {
		t.Errorf("destroyed contexts = %d, want 1 (failed context cleaned up)", got)
	}
}

func TestContextDestroyIsIdempotent(t *testing.T) {
	fake := platformtest.New()
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// The second destroy sees not-found from the platform and still counts
	// as destroyed; Destroy never surfaces an error either way.
	eng.Contexts.Destroy(context.Background(), ec)
	eng.Contexts.Destroy(context.Background(), ec)

	if got := fake.DestroyedContexts(); got != 1 {
		t.Errorf("destroyed contexts = %d, want 1", got)
	}
}

func TestContextValidate(t *testing.T) {
	fake := platformtest.New()
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := eng.Contexts.Validate(context.Background(), ec); err != nil {
		t.Errorf("Validate() error = %v, want nil for a running context", err)
	}

	// The platform reclaims the context behind our back.
	fake.DropContext(ec.ID)
	if err := eng.Contexts.Validate(context.Background(), ec); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Validate() after reclaim error = %v, want ErrInvalidContext", err)
	}

	if err := eng.Contexts.Validate(context.Background(), nil); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Validate(nil) error = %v, want ErrInvalidContext", err)
	}
}

func TestCommandHappyPath(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 2
	fake.CommandData = []byte(`{"value":42}`)
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { eng.Contexts.Destroy(context.Background(), ec) })

	cmd, err := eng.Commands.Submit(context.Background(), ec, "compute()", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if cmd.State != model.CommandQueued {
		t.Errorf("submitted state = %q, want %q", cmd.State, model.CommandQueued)
	}
	if cmd.Language != model.LangPython {
		t.Errorf("language = %q, want inherited %q", cmd.Language, model.LangPython)
	}

	res, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeOK {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeOK)
	}
	if string(res.Data) != `{"value":42}` {
		t.Errorf("data = %s, want {\"value\":42}", res.Data)
	}
	if cmd.State != model.CommandFinished {
		t.Errorf("final state = %q, want %q", cmd.State, model.CommandFinished)
	}
}

func TestCommandFinishedWithErrorResultIsFailure(t *testing.T) {
	fake := platformtest.New()
	fake.CommandResultType = "error"
	fake.CommandCause = "ZeroDivisionError: division by zero"
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { eng.Contexts.Destroy(context.Background(), ec) })

	cmd, err := eng.Commands.Submit(context.Background(), ec, "1/0", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	res, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeError {
		t.Errorf("outcome = %q, want %q (Finished with error resultType)", res.Outcome, model.OutcomeError)
	}
	if res.Message != "ZeroDivisionError: division by zero" {
		t.Errorf("message = %q, want the failure cause", res.Message)
	}
}

func TestCommandSubmitRequiresRunningContext(t *testing.T) {
	eng := newTestEngine(t, platformtest.New(), "")

	stale := &model.ExecContext{ID: "ctx-x", ClusterID: "cluster-1", State: model.ContextPending}
	if _, err := eng.Commands.Submit(context.Background(), stale, "x", model.LangPython); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Submit() on pending context error = %v, want ErrInvalidContext", err)
	}
	if _, err := eng.Commands.Submit(context.Background(), nil, "x", model.LangPython); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Submit() on nil context error = %v, want ErrInvalidContext", err)
	}
}

func TestCommandAwaitResultIsWriteOnce(t *testing.T) {
	fake := platformtest.New()
	fake.CommandData = []byte(`"first"`)
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { eng.Contexts.Destroy(context.Background(), ec) })

	cmd, err := eng.Commands.Submit(context.Background(), ec, "x", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	first, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	// A later await returns the recorded result without touching the
	// platform again, even if the platform would now answer differently.
	fake.InjectFailures(100, 500)
	second, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("second Await() error = %v", err)
	}
	if first != second {
		t.Error("second Await() returned a different result, want the recorded one")
	}
}

func TestCommandContextLostSynthesizesResult(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 1000
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cmd, err := eng.Commands.Submit(context.Background(), ec, "while True: pass", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	fake.DropContext(ec.ID)

	_, err = eng.Commands.Await(context.Background(), cmd, fastPoll)
	if !errors.Is(err, ErrContextLost) {
		t.Fatalf("Await() error = %v, want ErrContextLost", err)
	}
	if cmd.Result == nil || cmd.Result.Outcome != model.OutcomeError {
		t.Fatalf("synthesized result = %+v, want error outcome", cmd.Result)
	}
	if cmd.State != model.CommandError {
		t.Errorf("state = %q, want %q", cmd.State, model.CommandError)
	}

	// The synthesized result is terminal like any other.
	res, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() after loss error = %v", err)
	}
	if res != cmd.Result {
		t.Error("Await() after loss did not return the recorded result")
	}
}

func TestCommandCancel(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 1000
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { eng.Contexts.Destroy(context.Background(), ec) })

	cmd, err := eng.Commands.Submit(context.Background(), ec, "sleep(1000)", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := eng.Commands.Cancel(context.Background(), cmd); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	res, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeCancelled)
	}

	// Cancelling again is a no-op once the result is recorded.
	if err := eng.Commands.Cancel(context.Background(), cmd); err != nil {
		t.Errorf("Cancel() after terminal error = %v, want nil", err)
	}
}

func TestRunOnceDestroysContextExactlyOnce(t *testing.T) {
	fake := platformtest.New()
	fake.CommandData = []byte(`"done"`)
	eng := newTestEngine(t, fake, "")

	res, err := eng.Commands.RunOnce(context.Background(), "cluster-1", "print(1)", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Outcome != model.OutcomeOK {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeOK)
	}
	if got := fake.DestroyedContexts(); got != 1 {
		t.Errorf("destroyed contexts = %d, want 1", got)
	}
}

func TestRunOnceDestroysContextOnCommandFailure(t *testing.T) {
	fake := platformtest.New()
	fake.CommandFinalState = model.CommandError
	fake.CommandCause = "boom"
	eng := newTestEngine(t, fake, "")

	res, err := eng.Commands.RunOnce(context.Background(), "cluster-1", "boom()", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Outcome != model.OutcomeError {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeError)
	}
	if got := fake.DestroyedContexts(); got != 1 {
		t.Errorf("destroyed contexts = %d, want 1", got)
	}
}

func TestCommandAwaitRetriesTransientFailures(t *testing.T) {
	fake := platformtest.New()
	fake.CommandPollsToFinish = 1
	eng := newTestEngine(t, fake, "")

	ec, err := eng.Contexts.Create(context.Background(), "cluster-1", model.LangPython, fastPoll)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { eng.Contexts.Destroy(context.Background(), ec) })

	cmd, err := eng.Commands.Submit(context.Background(), ec, "x", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	fake.InjectFailures(2, 503)
	res, err := eng.Commands.Await(context.Background(), cmd, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v, want transient failures absorbed", err)
	}
	if res.Outcome != model.OutcomeOK {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeOK)
	}
}

func TestStatementHappyPathWithPagination(t *testing.T) {
	fake := platformtest.New()
	fake.StatementPollsToFinish = 2
	fake.StatementColumns = []platform.Column{
		{Name: "id", TypeName: "BIGINT", Position: 0},
		{Name: "name", TypeName: "STRING", Position: 1},
	}
	fake.StatementPages = [][][]string{
		{{"1", "alpha"}, {"2", "beta"}},
		{{"3", "gamma"}},
	}
	eng := newTestEngine(t, fake, "wh-1")

	st, err := eng.Statements.Submit(context.Background(), platform.StatementRequest{Statement: "SELECT * FROM t"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if st.WarehouseID != "wh-1" {
		t.Errorf("warehouse = %q, want default applied", st.WarehouseID)
	}

	res, err := eng.Statements.Await(context.Background(), st, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeOK {
		t.Fatalf("outcome = %q, want %q", res.Outcome, model.OutcomeOK)
	}
	if len(res.Page.Columns) != 2 || res.Page.Columns[1].Name != "name" {
		t.Errorf("columns = %+v, want schema from manifest", res.Page.Columns)
	}
	if len(res.Page.Rows) != 2 {
		t.Errorf("first page rows = %d, want 2", len(res.Page.Rows))
	}
	if res.Page.NextPageToken == "" {
		t.Fatal("first page has no continuation token, want one")
	}

	page, err := eng.Statements.NextPage(context.Background(), st.ID, res.Page.NextPageToken)
	if err != nil {
		t.Fatalf("NextPage() error = %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0][1] != "gamma" {
		t.Errorf("second page rows = %+v, want the final row", page.Rows)
	}
	if page.NextPageToken != "" {
		t.Errorf("final page token = %q, want empty", page.NextPageToken)
	}
}

func TestStatementNextPageRejectsBadToken(t *testing.T) {
	eng := newTestEngine(t, platformtest.New(), "wh-1")

	for _, token := range []string{"", "abc", "-1", "1.5"} {
		if _, err := eng.Statements.NextPage(context.Background(), "stmt-1", token); !errors.Is(err, ErrBadPageToken) {
			t.Errorf("NextPage(%q) error = %v, want ErrBadPageToken", token, err)
		}
	}
}

func TestStatementRequiresWarehouse(t *testing.T) {
	eng := newTestEngine(t, platformtest.New(), "")

	_, err := eng.Statements.Submit(context.Background(), platform.StatementRequest{Statement: "SELECT 1"})
	if !errors.Is(err, ErrNoWarehouse) {
		t.Fatalf("Submit() error = %v, want ErrNoWarehouse", err)
	}
}

func TestStatementFailureCarriesMessage(t *testing.T) {
	fake := platformtest.New()
	fake.StatementFinalState = model.StatementFailed
	fake.StatementErrorMessage = "TABLE_OR_VIEW_NOT_FOUND: t"
	eng := newTestEngine(t, fake, "wh-1")

	st, err := eng.Statements.Submit(context.Background(), platform.StatementRequest{Statement: "SELECT * FROM t"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	res, err := eng.Statements.Await(context.Background(), st, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeError {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeError)
	}
	if res.Message != "TABLE_OR_VIEW_NOT_FOUND: t" {
		t.Errorf("message = %q, want the platform error message", res.Message)
	}
}

func TestStatementTerminalOnSubmit(t *testing.T) {
	fake := platformtest.New()
	fake.StatementPollsToFinish = -1
	fake.StatementPages = [][][]string{{{"1"}}}
	eng := newTestEngine(t, fake, "wh-1")

	st, err := eng.Statements.Submit(context.Background(), platform.StatementRequest{Statement: "SELECT 1"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if st.Result == nil {
		t.Fatal("fast statement not recorded terminal at submit")
	}

	// Await short-circuits on the recorded result; no polling happens even
	// though the platform is now failing.
	fake.InjectFailures(100, 500)
	res, err := eng.Statements.Await(context.Background(), st, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res != st.Result {
		t.Error("Await() did not return the recorded result")
	}
}

func TestStatementCancel(t *testing.T) {
	fake := platformtest.New()
	fake.StatementPollsToFinish = 1000
	eng := newTestEngine(t, fake, "wh-1")

	st, err := eng.Statements.Submit(context.Background(), platform.StatementRequest{Statement: "SELECT slow()"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := eng.Statements.Cancel(context.Background(), st); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	res, err := eng.Statements.Await(context.Background(), st, fastPoll)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Outcome != model.OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", res.Outcome, model.OutcomeCancelled)
	}
}

func TestRunWaitForCompletion(t *testing.T) {
	fake := platformtest.New()
	fake.RunStates = []string{model.RunPending, model.RunRunning, model.RunTerminated}
	eng := newTestEngine(t, fake, "")

	runID := fake.AddRun()
	outcome, err := eng.Runs.WaitForCompletion(context.Background(), runID, fastPoll)
	if err != nil {
		t.Fatalf("WaitForCompletion() error = %v", err)
	}
	if !outcome.Succeeded {
		t.Errorf("Succeeded = false, want true for SUCCESS result state")
	}
	if outcome.LifeCycleState != model.RunTerminated {
		t.Errorf("life cycle state = %q, want %q", outcome.LifeCycleState, model.RunTerminated)
	}
	if outcome.RunPageURL == "" {
		t.Error("run page URL missing")
	}
}

func TestRunFailureIsNotSuccess(t *testing.T) {
	fake := platformtest.New()
	fake.RunResultState = "FAILED"
	eng := newTestEngine(t, fake, "")

	runID := fake.AddRun()
	outcome, err := eng.Runs.WaitForCompletion(context.Background(), runID, fastPoll)
	if err != nil {
		t.Fatalf("WaitForCompletion() error = %v", err)
	}
	if outcome.Succeeded {
		t.Error("Succeeded = true, want false for FAILED result state")
	}
	if outcome.ResultState != "FAILED" {
		t.Errorf("result state = %q, want FAILED", outcome.ResultState)
	}
}

func TestRunWaitUnknownRunAborts(t *testing.T) {
	eng := newTestEngine(t, platformtest.New(), "")

	_, err := eng.Runs.WaitForCompletion(context.Background(), 99999, fastPoll)
	if !errors.Is(err, poll.ErrAborted) {
		t.Fatalf("WaitForCompletion() error = %v, want ErrAborted on unknown run", err)
	}
}
