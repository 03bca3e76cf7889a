package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/nucleus/search-export/internal/artifact"
	"github.com/nucleus/search-export/internal/config"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/orchestrator"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/workflows"
)

var runFlags struct {
	runID    string
	userID   string
	owner    string
	query    string
	required string
	format   string
	out      string
	publish  bool
	local    bool
	noWait   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Export every result of a query",
	Long: `Export every result of a query into --out.

The query is a dictionary in JSON or Python-literal form. --out must not exist
yet; it is created by the run and holds one file per page plus the
consolidated_output file.

Examples:
  # In process
  exportctl run --local --query '{"results.material.elements": ["Si"]}' --format parquet --out ./si

  # Through the worker, without waiting for the result
  exportctl run --query "{'upload_id': 'abc'}" --format csv --out /data/abc --no-wait`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.runID, "run-id", "", "run identifier (default: random)")
	runCmd.Flags().StringVarP(&runFlags.userID, "user", "u", "", "user the query runs as")
	runCmd.Flags().StringVar(&runFlags.owner, "owner", "visible", "owner scope (public, visible, shared, user, staging)")
	runCmd.Flags().StringVarP(&runFlags.query, "query", "q", "", "query dictionary (JSON or Python literal)")
	runCmd.Flags().StringVar(&runFlags.required, "required", "", "required fields dictionary")
	runCmd.Flags().StringVarP(&runFlags.format, "format", "f", "parquet", "output format (parquet, csv)")
	runCmd.Flags().StringVarP(&runFlags.out, "out", "o", "", "output directory for the run")
	runCmd.Flags().BoolVar(&runFlags.publish, "publish", false, "upload the consolidated output to the artifact store")
	runCmd.Flags().BoolVar(&runFlags.local, "local", false, "run in process instead of submitting to the worker")
	runCmd.Flags().BoolVar(&runFlags.noWait, "no-wait", false, "return after submitting the workflow")
	_ = runCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, err := buildInput(runFlags.runID, runFlags.userID, runFlags.owner, runFlags.query, runFlags.required, runFlags.format, runFlags.out)
	if err != nil {
		return err
	}
	in.Publish = runFlags.publish
	in.Policies = &cfg.Policies

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if runFlags.local {
		return runLocal(ctx, cmd.OutOrStdout(), cfg, in)
	}
	return submit(ctx, cmd.OutOrStdout(), cfg, in)
}

// buildInput parses the textual flags into a run input.
func buildInput(runID, userID, owner, query, required, format, out string) (export.Input, error) {
	scope, err := export.ParseOwnerScope(owner)
	if err != nil {
		return export.Input{}, err
	}
	q, err := search.ParseQuery(query)
	if err != nil {
		return export.Input{}, err
	}
	var req map[string]any
	if required != "" {
		if req, err = search.ParseQuery(required); err != nil {
			return export.Input{}, err
		}
	}
	if runID == "" {
		runID = uuid.New().String()
	}
	return export.Input{
		RunID:           runID,
		UserID:          userID,
		Owner:           scope,
		Query:           q,
		RequiredFields:  req,
		OutputFormat:    format,
		OutputDirectory: out,
	}, nil
}

func runLocal(ctx context.Context, w io.Writer, cfg *config.Config, in export.Input) error {
	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	o := orchestrator.New(search.NewClient(&cfg.Search), logger, nil)
	o.Consolidator.BatchSize = cfg.ConsolidateBatch
	if in.Publish {
		p, err := artifact.NewPublisher(cfg.Artifact, logger)
		if err != nil {
			return err
		}
		o.Publisher = p
	}

	run, err := o.Run(ctx, in)
	if run != nil {
		if perr := printJSON(w, workflows.Result{
			RunID:      run.ID,
			State:      run.State,
			Pages:      run.Pages,
			Records:    run.RecordsWritten(),
			ResultPath: run.ResultPath,
			Published:  run.Published,
		}); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func submit(ctx context.Context, w io.Writer, cfg *config.Config, in export.Input) error {
	c, err := dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID(in.RunID),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.SearchExportWorkflowName, in)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	fmt.Fprintf(w, "submitted workflow %s (run %s)\n", we.GetID(), we.GetRunID())
	if runFlags.noWait {
		return nil
	}

	var res workflows.Result
	if err := we.Get(ctx, &res); err != nil {
		return fmt.Errorf("export %s failed: %w", in.RunID, err)
	}
	return printJSON(w, res)
}

func dial(cfg *config.Config) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.New(logging.ParseLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", cfg.Temporal.Address, err)
	}
	return c, nil
}

func workflowID(runID string) string {
	return "search-export-" + runID
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
