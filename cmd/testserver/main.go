// testserver starts an in-memory platform for E2E testing, so a lakerun
// server can be pointed at it instead of a real workspace.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/platformtest"
)

func main() {
	addr := ":9090"
	if v := os.Getenv("LAKERUN_TESTSERVER_ADDR"); v != "" {
		addr = v
	}

	fake := platformtest.New()
	fake.ContextPollsToReady = 2
	fake.CommandPollsToFinish = 3
	fake.CommandData = []byte(`{"message":"hello from the fake platform"}`)
	fake.StatementPollsToFinish = 2
	fake.StatementColumns = []platform.Column{
		{Name: "id", TypeName: "BIGINT", Position: 0},
		{Name: "name", TypeName: "STRING", Position: 1},
	}
	fake.StatementPages = [][][]string{
		{{"1", "alpha"}, {"2", "beta"}},
		{{"3", "gamma"}},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("testserver: starting", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
