// Package workflows provides the durable Temporal rendition of a search
// export run.
package workflows

import (
	"errors"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/search-export/internal/activities"
	"github.com/nucleus/search-export/internal/consolidate"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/pagination"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/staging"
)

// =============================================================================
// WORKFLOW NAMES
// =============================================================================

const (
	SearchExportWorkflowName = "searchExportWorkflow"
	RunStatusQuery           = "run-status"
)

// =============================================================================
// WORKFLOW INPUTS/OUTPUTS
// =============================================================================

// Result is the outcome of a completed run.
type Result struct {
	RunID      string              `json:"runId"`
	State      export.RunState     `json:"state"`
	Pages      []export.OutputFile `json:"pages"`
	Records    int                 `json:"records"`
	Rows       int64               `json:"rows"`
	ResultPath string              `json:"resultPath"`
	Published  string              `json:"published,omitempty"`
}

// RunStatus is returned by the run-status query.
type RunStatus struct {
	RunID      string          `json:"runId"`
	State      export.RunState `json:"state"`
	Pages      int             `json:"pages"`
	Records    int             `json:"records"`
	ResultPath string          `json:"resultPath,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ActivityOptions maps a step policy onto Temporal activity options. Fatal
// export codes are never retried.
func ActivityOptions(p export.StepPolicy) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: p.Timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        p.InitialInterval,
			BackoffCoefficient:     p.BackoffCoefficient,
			MaximumInterval:        p.MaximumInterval,
			MaximumAttempts:        int32(p.MaxAttempts),
			NonRetryableErrorTypes: export.FatalCodes(),
		},
	}
}

// =============================================================================
// SEARCH EXPORT WORKFLOW
// =============================================================================

// SearchExportWorkflow creates the run directory, writes one file per page,
// consolidates them and optionally publishes the result. Each page is its own
// activity so a retry repeats only that page.
func SearchExportWorkflow(ctx workflow.Context, in export.Input) (*Result, error) {
	logger := workflow.GetLogger(ctx)

	runID := in.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	format, verr := in.Validate()
	run := export.NewRun(runID, in, format)

	if err := workflow.SetQueryHandler(ctx, RunStatusQuery, func() (RunStatus, error) {
		status := RunStatus{
			RunID:      run.ID,
			State:      run.State,
			Pages:      len(run.Pages),
			Records:    run.RecordsWritten(),
			ResultPath: run.ResultPath,
		}
		if run.Err != nil {
			status.Error = run.Err.Error()
		}
		return status, nil
	}); err != nil {
		return nil, err
	}

	if verr != nil {
		return nil, failRun(logger, run, verr)
	}
	policies := in.Policies.Resolve()
	logger.Info("search export started", "runId", runID, "format", format.String(), "directory", in.OutputDirectory)

	// Step 1: run directory
	dirCtx := workflow.WithActivityOptions(ctx, ActivityOptions(policies.Directory))
	err := workflow.ExecuteActivity(dirCtx, activities.CreateRunDirectoryName, activities.CreateRunDirectoryRequest{
		RunID:     runID,
		Directory: in.OutputDirectory,
	}).Get(ctx, nil)
	if err != nil {
		return nil, failRun(logger, run, err)
	}
	if err := run.Transition(export.StatePaginating); err != nil {
		return nil, failRun(logger, run, err)
	}

	// Step 2: pages, strictly in order
	pageCtx := workflow.WithActivityOptions(ctx, ActivityOptions(policies.Page))
	plan := pagination.Plan{
		Request: search.Request{
			UserID:         in.UserID,
			Owner:          in.Owner,
			Query:          in.Query,
			RequiredFields: in.RequiredFields,
		},
		Directory: in.OutputDirectory,
		Format:    format,
	}
	var cursor *string
	for index := 1; ; index++ {
		var res activities.SearchPageResult
		err := workflow.ExecuteActivity(pageCtx, activities.SearchAndWritePageName, activities.SearchPageRequest{
			RunID: runID,
			Page:  pagination.Page{Plan: plan, Index: index, Cursor: cursor},
		}).Get(ctx, &res)
		if err != nil {
			return nil, failRun(logger, run, err)
		}
		run.Pages = append(run.Pages, res.File)
		if res.NextCursor == nil {
			break
		}
		if cursor != nil && *cursor == *res.NextCursor {
			return nil, failRun(logger, run, export.Errorf(export.CodeBackendRejected, false, "cursor %q did not advance after page %d", *cursor, index))
		}
		cursor = res.NextCursor
	}
	if err := run.Transition(export.StateConsolidating); err != nil {
		return nil, failRun(logger, run, err)
	}

	// Step 3: consolidation
	consCtx := workflow.WithActivityOptions(ctx, ActivityOptions(policies.Consolidation))
	job := export.ConsolidationJob{Inputs: run.Pages, Destination: staging.ConsolidatedPath(in.OutputDirectory, format)}
	var merged consolidate.Result
	err = workflow.ExecuteActivity(consCtx, activities.ConsolidateOutputFilesName, activities.ConsolidateRequest{
		RunID: runID,
		Job:   job,
	}).Get(ctx, &merged)
	if err != nil {
		return nil, failRun(logger, run, err)
	}
	run.ResultPath = merged.Path

	// Step 4: publication
	if in.Publish {
		if err := run.Transition(export.StatePublishing); err != nil {
			return nil, failRun(logger, run, err)
		}
		pubCtx := workflow.WithActivityOptions(ctx, ActivityOptions(policies.Publish))
		var published activities.PublishResult
		err = workflow.ExecuteActivity(pubCtx, activities.PublishArtifactName, activities.PublishRequest{
			RunID: runID,
			Path:  run.ResultPath,
		}).Get(ctx, &published)
		if err != nil {
			return nil, failRun(logger, run, err)
		}
		run.Published = published.URL
	}

	if err := run.Transition(export.StateDone); err != nil {
		return nil, failRun(logger, run, err)
	}
	logger.Info("search export complete", "runId", runID, "pages", len(run.Pages), "rows", merged.Rows)

	return &Result{
		RunID:      runID,
		State:      run.State,
		Pages:      run.Pages,
		Records:    run.RecordsWritten(),
		Rows:       merged.Rows,
		ResultPath: run.ResultPath,
		Published:  run.Published,
	}, nil
}

// failRun moves the run to Failed and returns a non-retryable RunFailed
// application error. Its details carry the originating code.
func failRun(logger log.Logger, run *export.Run, cause error) error {
	code := failureCode(cause)
	runErr := run.Fail(export.WrapError(code, false, cause))
	logger.Error("search export failed", "runId", run.ID, "code", code, "error", cause)
	return temporal.NewNonRetryableApplicationError(runErr.Error(), export.CodeRunFailed, cause, code)
}

// failureCode recovers the export code from an activity failure chain.
func failureCode(err error) string {
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return export.CodeTransientBackend
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	if code := export.CodeOf(err); code != "" {
		return code
	}
	return export.CodeUnclassified
}
