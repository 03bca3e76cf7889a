// Package orchestrator drives a search export run in process: directory,
// pagination, consolidation and optional publication, each step under its
// own retry policy.
package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.temporal.io/sdk/log"

	"github.com/nucleus/search-export/internal/consolidate"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/pagination"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/staging"
)

// Publisher uploads a finished output file and returns where it landed.
type Publisher interface {
	Publish(ctx context.Context, runID, path string) (string, error)
}

// Orchestrator runs exports sequentially. Separate runs share nothing but
// their collaborators and must use distinct output directories.
type Orchestrator struct {
	Searcher     search.Searcher
	Executor     Executor
	Consolidator *consolidate.Consolidator
	// Publisher serves inputs that ask for publication.
	Publisher Publisher
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// New wires an Orchestrator with a backoff executor and default consolidator.
func New(s search.Searcher, logger log.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		Searcher:     s,
		Executor:     NewRetryExecutor(logger, m),
		Consolidator: consolidate.New(logger, m),
		Logger:       logger,
		Metrics:      m,
	}
}

// Run executes one export. The returned Run reflects the final state even on
// failure; the error is a *export.RunError wrapping the step's cause.
func (o *Orchestrator) Run(ctx context.Context, in export.Input) (*export.Run, error) {
	logger := logging.OrDefault(o.Logger)

	runID := in.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	logger = log.With(logger, "runId", runID)

	format, err := in.Validate()
	run := export.NewRun(runID, in, format)
	if err != nil {
		return run, o.fail(logger, run, err)
	}
	policies := in.Policies.Resolve()
	logger.Info("starting search export", "format", format.String(), "directory", in.OutputDirectory, "owner", string(in.Owner))

	// DirectoryPending
	err = o.Executor.Execute(ctx, StepDirectory, policies.Directory, func(ctx context.Context) error {
		return staging.CreateRunDirectory(in.OutputDirectory)
	})
	if err != nil {
		return run, o.fail(logger, run, err)
	}
	if err := run.Transition(export.StatePaginating); err != nil {
		return run, o.fail(logger, run, err)
	}

	// Paginating
	driver := pagination.New(o.Searcher, logger, o.Metrics)
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
	pages, err := pagination.Loop(ctx, plan, func(ctx context.Context, page pagination.Page) (*pagination.PageResult, error) {
		var res *pagination.PageResult
		err := o.Executor.Execute(ctx, StepPage, policies.Page, func(ctx context.Context) error {
			r, err := driver.WritePage(ctx, page)
			res = r
			return err
		})
		return res, err
	})
	run.Pages = pages
	if err != nil {
		return run, o.fail(logger, run, err)
	}
	if err := run.Transition(export.StateConsolidating); err != nil {
		return run, o.fail(logger, run, err)
	}

	// Consolidating
	job := export.ConsolidationJob{Inputs: pages, Destination: staging.ConsolidatedPath(in.OutputDirectory, format)}
	err = o.Executor.Execute(ctx, StepConsolidation, policies.Consolidation, func(ctx context.Context) error {
		_, err := o.Consolidator.Consolidate(ctx, job)
		return err
	})
	if err != nil {
		return run, o.fail(logger, run, err)
	}
	run.ResultPath = job.Destination

	// Publishing
	if in.Publish {
		if err := run.Transition(export.StatePublishing); err != nil {
			return run, o.fail(logger, run, err)
		}
		if o.Publisher == nil {
			return run, o.fail(logger, run, export.Errorf(export.CodeInvalidInput, false, "artifact publication is not configured"))
		}
		err = o.Executor.Execute(ctx, StepPublish, policies.Publish, func(ctx context.Context) error {
			url, err := o.Publisher.Publish(ctx, runID, job.Destination)
			run.Published = url
			return err
		})
		if err != nil {
			return run, o.fail(logger, run, err)
		}
	}

	if err := run.Transition(export.StateDone); err != nil {
		return run, o.fail(logger, run, err)
	}
	o.Metrics.RecordRun(string(export.StateDone))
	logger.Info("search export complete", "pages", len(run.Pages), "records", run.RecordsWritten(), "result", run.ResultPath)
	return run, nil
}

func (o *Orchestrator) fail(logger log.Logger, run *export.Run, cause error) error {
	err := run.Fail(cause)
	o.Metrics.RecordRun(string(export.StateFailed))
	logger.Error("search export failed", "state", string(run.State), "pages", len(run.Pages), "error", err)
	return err
}
