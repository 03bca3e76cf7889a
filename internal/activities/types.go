// Package activities provides the Temporal activities of a search export run.
package activities

import (
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/pagination"
)

// Activity names as registered with the worker.
const (
	CreateRunDirectoryName     = "CreateRunDirectory"
	SearchAndWritePageName     = "SearchAndWritePage"
	ConsolidateOutputFilesName = "ConsolidateOutputFiles"
	PublishArtifactName        = "PublishArtifact"
)

// CreateRunDirectoryRequest provisions the run's output directory.
type CreateRunDirectoryRequest struct {
	RunID     string `json:"runId"`
	Directory string `json:"directory"`
}

// SearchPageRequest is one page of a run.
type SearchPageRequest struct {
	RunID string          `json:"runId"`
	Page  pagination.Page `json:"page"`
}

// SearchPageResult reports the written page and the cursor of the next one.
type SearchPageResult = pagination.PageResult

// ConsolidateRequest merges a run's pages.
type ConsolidateRequest struct {
	RunID string                  `json:"runId"`
	Job   export.ConsolidationJob `json:"job"`
}

// PublishRequest uploads a consolidated output.
type PublishRequest struct {
	RunID string `json:"runId"`
	Path  string `json:"path"`
}

// PublishResult is where the output landed.
type PublishResult struct {
	URL string `json:"url"`
}
