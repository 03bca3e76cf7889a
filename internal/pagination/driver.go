// Package pagination walks a search result set page by page and writes each
// page to its own file.
package pagination

import (
	"context"
	"time"

	"go.temporal.io/sdk/log"

	"github.com/nucleus/search-export/internal/codec"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/staging"
)

// Plan is everything a run needs to paginate. Request.Cursor is ignored.
type Plan struct {
	Request   search.Request `json:"request"`
	Directory string         `json:"directory"`
	Format    export.Format  `json:"format"`
}

// Page is one unit of pagination work: a query at Cursor written as page
// Index. A retried page carries the same cursor and index.
type Page struct {
	Plan
	Index  int     `json:"index"`
	Cursor *string `json:"cursor,omitempty"`
}

// PageResult reports a written page and where the next one starts.
type PageResult struct {
	File       export.OutputFile `json:"file"`
	NextCursor *string           `json:"nextCursor,omitempty"`
	Total      int               `json:"total,omitempty"`
}

// PageFunc performs one page, including any retries of it.
type PageFunc func(ctx context.Context, page Page) (*PageResult, error)

// Loop drives step from the first page until the backend stops returning a
// cursor. Pages written before a failure are returned with the error.
func Loop(ctx context.Context, plan Plan, step PageFunc) ([]export.OutputFile, error) {
	var (
		files  []export.OutputFile
		cursor *string
	)
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		res, err := step(ctx, Page{Plan: plan, Index: index, Cursor: cursor})
		if err != nil {
			return files, err
		}
		files = append(files, res.File)
		if res.NextCursor == nil {
			return files, nil
		}
		if cursor != nil && *cursor == *res.NextCursor {
			return files, export.Errorf(export.CodeBackendRejected, false, "cursor %q did not advance after page %d", *cursor, index)
		}
		cursor = res.NextCursor
	}
}

// Driver performs pages against a Searcher.
type Driver struct {
	Searcher search.Searcher
	Logger   log.Logger
	Metrics  *metrics.Metrics
}

// New creates a Driver.
func New(s search.Searcher, logger log.Logger, m *metrics.Metrics) *Driver {
	return &Driver{Searcher: s, Logger: logger, Metrics: m}
}

// Run paginates plan to completion with a single attempt per page.
func (d *Driver) Run(ctx context.Context, plan Plan) ([]export.OutputFile, error) {
	return Loop(ctx, plan, d.WritePage)
}

// WritePage issues the query for page and writes its records to the page's
// file, replacing any file left by an earlier attempt.
func (d *Driver) WritePage(ctx context.Context, page Page) (*PageResult, error) {
	logger := logging.OrDefault(d.Logger)

	req := page.Request.WithCursor(page.Cursor)
	if req.RequiredFields != nil {
		if page.Index == 1 {
			logger.Warn("required fields projection is not forwarded to the backend", "fields", len(req.RequiredFields))
		}
		req.RequiredFields = nil
	}

	started := time.Now()
	resp, err := d.Searcher.Search(ctx, req)
	if err != nil {
		d.Metrics.RecordSearchFailure(export.CodeOf(err))
		logger.Warn("search failed", "page", page.Index, "error", err)
		return nil, err
	}

	records := make([]map[string]any, len(resp.Records))
	for i, r := range resp.Records {
		records[i] = codec.Flatten(r)
	}

	path := staging.PagePath(page.Directory, page.Index, page.Format)
	n, err := codec.WritePage(path, page.Format, records)
	if err != nil {
		logger.Error("failed to write page", "page", page.Index, "path", path, "error", err)
		return nil, err
	}

	elapsed := time.Since(started)
	d.Metrics.RecordPage(page.Format.String(), n, elapsed)
	logger.Info("page written", "page", page.Index, "records", n, "path", path, "hasMore", resp.HasMore(), "elapsed", elapsed)

	return &PageResult{
		File: export.OutputFile{
			Path:    path,
			Format:  page.Format,
			Page:    page.Index,
			Records: n,
		},
		NextCursor: resp.Pagination.NextCursor,
		Total:      resp.Pagination.Total,
	}, nil
}
