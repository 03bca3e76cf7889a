package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nucleus/search-export/internal/consolidate"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/pagination"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/staging"
)

// Publisher uploads a consolidated output and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, runID, path string) (string, error)
}

// Activities holds the search export activities and their collaborators.
type Activities struct {
	Searcher  search.Searcher
	BatchSize int
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// NewActivities creates an Activities instance. publisher may be nil.
func NewActivities(s search.Searcher, publisher Publisher, m *metrics.Metrics) *Activities {
	return &Activities{Searcher: s, BatchSize: consolidate.DefaultBatchSize, Publisher: publisher, Metrics: m}
}

// =============================================================================
// ACTIVITY 1: CreateRunDirectory
// =============================================================================

// CreateRunDirectory creates the run's output directory. An existing
// directory fails without retry.
func (a *Activities) CreateRunDirectory(ctx context.Context, req CreateRunDirectoryRequest) error {
	logger := activity.GetLogger(ctx)
	logger.Info("creating run directory", "runId", req.RunID, "directory", req.Directory)

	if err := staging.CreateRunDirectory(req.Directory); err != nil {
		logger.Error("failed to create run directory", "directory", req.Directory, "error", err)
		return applicationError(err)
	}
	return nil
}

// =============================================================================
// ACTIVITY 2: SearchAndWritePage
// =============================================================================

// SearchAndWritePage queries one page and writes it to its page file. A
// retried attempt carries the same cursor and overwrites the same file.
func (a *Activities) SearchAndWritePage(ctx context.Context, req SearchPageRequest) (*SearchPageResult, error) {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)
	logger.Info("searching page", "runId", req.RunID, "page", req.Page.Index, "attempt", info.Attempt)

	driver := pagination.New(a.Searcher, logger, a.Metrics)
	res, err := driver.WritePage(ctx, req.Page)
	if err != nil {
		return nil, applicationError(err)
	}
	return res, nil
}

// =============================================================================
// ACTIVITY 3: ConsolidateOutputFiles
// =============================================================================

// ConsolidateOutputFiles merges the run's pages into the job destination.
func (a *Activities) ConsolidateOutputFiles(ctx context.Context, req ConsolidateRequest) (*consolidate.Result, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("consolidating run output", "runId", req.RunID, "inputs", len(req.Job.Inputs))

	c := consolidate.New(logger, a.Metrics)
	if a.BatchSize > 0 {
		c.BatchSize = a.BatchSize
	}
	res, err := c.Consolidate(ctx, req.Job)
	if err != nil {
		return nil, applicationError(err)
	}
	return res, nil
}

// =============================================================================
// ACTIVITY 4: PublishArtifact
// =============================================================================

// PublishArtifact uploads the consolidated output to the artifact store.
func (a *Activities) PublishArtifact(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	logger := activity.GetLogger(ctx)
	if a.Publisher == nil {
		return nil, temporal.NewNonRetryableApplicationError("artifact publication is not configured", export.CodeInvalidInput, nil)
	}
	logger.Info("publishing artifact", "runId", req.RunID, "path", req.Path)

	url, err := a.Publisher.Publish(ctx, req.RunID, req.Path)
	if err != nil {
		logger.Error("failed to publish artifact", "path", req.Path, "error", err)
		return nil, applicationError(err)
	}
	return &PublishResult{URL: url}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// applicationError carries the export error code as the application error
// type so the workflow and its retry policy can see it.
func applicationError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	code := export.CodeOf(err)
	if code == "" {
		code = export.CodeUnclassified
	}
	if !export.IsRetryable(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), code, err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), code, err)
}
