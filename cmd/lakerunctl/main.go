// lakerunctl is a command-line client for a running lakerun server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/seantiz/lakerun/internal/model"
)

const defaultServer = "http://localhost:8080"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string

	client := resty.New()

	rootCmd := &cobra.Command{
		Use:           "lakerunctl",
		Short:         "Client for the lakerun orchestration server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("server") {
				if v := os.Getenv("LAKERUN_SERVER"); v != "" {
					server = v
				}
			}
			client.SetBaseURL(server)
		},
	}

	rootCmd.PersistentFlags().StringVar(&server, "server", defaultServer, "lakerun server URL")

	rootCmd.AddCommand(newClustersCmd(client))
	rootCmd.AddCommand(newRunCmd(client))
	rootCmd.AddCommand(newSQLCmd(client))
	rootCmd.AddCommand(newWaitRunCmd(client))
	rootCmd.AddCommand(newOpsCmd(client))

	return rootCmd
}

// call performs one request and decodes the JSON response, surfacing the
// server's error message on non-2xx responses.
func call(client *resty.Client, method, path string, body, out any) error {
	req := client.R()
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var errBody struct {
			Error string `json:"error"`
		}
		if jerr := json.Unmarshal(resp.Body(), &errBody); jerr == nil && errBody.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newClustersCmd(client *resty.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "List and control clusters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Clusters []struct {
					ClusterID   string `json:"cluster_id"`
					ClusterName string `json:"cluster_name"`
					State       string `json:"state"`
					NumWorkers  int    `json:"num_workers"`
				} `json:"clusters"`
			}
			if err := call(client, resty.MethodGet, "/v1/clusters", nil, &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tWORKERS")
			for _, c := range out.Clusters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.ClusterID, c.ClusterName, c.State, c.NumWorkers)
			}
			return w.Flush()
		},
	}

	for _, action := range []string{"start", "terminate", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action + " <cluster-id>",
			Short: capitalize(action) + " a cluster",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				path := "/v1/clusters/" + args[0] + "/" + action
				if err := call(client, resty.MethodPost, path, nil, nil); err != nil {
					return err
				}
				fmt.Println("accepted")
				return nil
			},
		})
	}

	return cmd
}

func newRunCmd(client *resty.Client) *cobra.Command {
	var (
		clusterID string
		language  string
		maxWait   string
	)

	cmd := &cobra.Command{
		Use:   "run <code>",
		Short: "Execute code on a cluster and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{
				"cluster_id": clusterID,
				"language":   language,
				"code":       args[0],
			}
			if maxWait != "" {
				body["max_wait"] = maxWait
			}

			var res model.CommandResult
			if err := call(client, resty.MethodPost, "/v1/commands/run", body, &res); err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&clusterID, "cluster", "", "cluster to run on (required)")
	cmd.Flags().StringVar(&language, "language", model.LangPython, "code language")
	cmd.Flags().StringVar(&maxWait, "max-wait", "", "maximum time to wait, e.g. 10m")
	_ = cmd.MarkFlagRequired("cluster")

	return cmd
}

func newSQLCmd(client *resty.Client) *cobra.Command {
	var (
		warehouseID string
		asJSON      bool
		maxWait     string
	)

	cmd := &cobra.Command{
		Use:   "sql <statement>",
		Short: "Execute a SQL statement and print the first result page",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{"statement": args[0]}
			if warehouseID != "" {
				body["warehouse_id"] = warehouseID
			}
			if maxWait != "" {
				body["max_wait"] = maxWait
			}

			var st model.StatementExecution
			if err := call(client, resty.MethodPost, "/v1/statements/execute", body, &st); err != nil {
				return err
			}
			if st.Result == nil {
				return fmt.Errorf("statement %s finished without a result", st.ID)
			}
			if st.Result.Outcome != model.OutcomeOK {
				return fmt.Errorf("statement %s: %s", st.Result.Outcome, st.Result.Message)
			}
			if asJSON {
				return printJSON(st)
			}
			return printResultPage(st.Result.Page)
		},
	}

	cmd.Flags().StringVar(&warehouseID, "warehouse", "", "warehouse to run on (server default if empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full execution as JSON")
	cmd.Flags().StringVar(&maxWait, "max-wait", "", "maximum time to wait, e.g. 10m")

	return cmd
}

func printResultPage(page *model.ResultPage) error {
	if page == nil {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if len(page.Columns) > 0 {
		for i, col := range page.Columns {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, col.Name)
		}
		fmt.Fprintln(w)
	}
	for _, row := range page.Rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, cell)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if page.NextPageToken != "" {
		fmt.Printf("(more pages: next token %s)\n", page.NextPageToken)
	}
	return nil
}

func newWaitRunCmd(client *resty.Client) *cobra.Command {
	var maxWait string

	cmd := &cobra.Command{
		Use:   "wait-run <run-id>",
		Short: "Wait for a job run to complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{}
			if maxWait != "" {
				body["max_wait"] = maxWait
			}

			var outcome model.RunOutcome
			if err := call(client, resty.MethodPost, "/v1/runs/"+args[0]+"/wait", body, &outcome); err != nil {
				return err
			}
			if err := printJSON(outcome); err != nil {
				return err
			}
			if !outcome.Succeeded {
				return fmt.Errorf("run %s: %s", args[0], outcome.ResultState)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&maxWait, "max-wait", "", "maximum time to wait, e.g. 1h")

	return cmd
}

func newOpsCmd(client *resty.Client) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the operation history",
		RunE: func(_ *cobra.Command, _ []string) error {
			var out struct {
				Operations []struct {
					ID        string `json:"id"`
					Kind      string `json:"kind"`
					Scope     string `json:"scope"`
					State     string `json:"state"`
					CreatedAt string `json:"created_at"`
				} `json:"operations"`
				Total int `json:"total"`
			}
			path := fmt.Sprintf("/v1/operations?limit=%d", limit)
			if err := call(client, resty.MethodGet, path, nil, &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSCOPE\tSTATE\tCREATED")
			for _, op := range out.Operations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", op.ID, op.Kind, op.Scope, op.State, op.CreatedAt)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d\n", len(out.Operations), out.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")

	return cmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
