// Package search defines the search capability the export pipeline pages
// through, and an HTTP client for entries query endpoints.
package search

import (
	"context"

	"github.com/nucleus/search-export/internal/export"
)

// Searcher issues one query for one page.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f SearcherFunc) Search(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Request is one query issuance. Cursor is nil only on the first request of
// a run.
type Request struct {
	UserID         string            `json:"userId"`
	Owner          export.OwnerScope `json:"owner"`
	Query          map[string]any    `json:"query"`
	RequiredFields map[string]any    `json:"requiredFields,omitempty"`
	Cursor         *string           `json:"cursor,omitempty"`
}

// WithCursor returns a copy of r positioned at cursor.
func (r Request) WithCursor(cursor *string) Request {
	r.Cursor = cursor
	return r
}

// Pagination is the paging state reported with a page.
type Pagination struct {
	Page       int     `json:"page"`
	Total      int     `json:"total,omitempty"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// Response is one page of records. NextCursor is set exactly when more pages
// remain.
type Response struct {
	Records    []map[string]any `json:"records"`
	Pagination Pagination       `json:"pagination"`
}

// HasMore reports whether another page follows.
func (r *Response) HasMore() bool {
	return r != nil && r.Pagination.NextCursor != nil
}
