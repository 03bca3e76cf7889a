// Package searchtest provides a deterministic search backend for tests.
package searchtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/search"
)

const cursorPrefix = "after-page-"

// Pager serves a fixed sequence of pages. The cursor returned with page n
// resumes at page n+1, and the last page carries no cursor.
type Pager struct {
	Pages [][]map[string]any

	// Failures maps a 1-based page index to the number of calls for that
	// page that fail before it is served.
	Failures map[int]int

	// FailWith is returned for scripted failures; defaults to a transient
	// backend error.
	FailWith error

	mu    sync.Mutex
	calls []search.Request
}

// NewPager serves pages in order. With no pages it serves a single empty one.
func NewPager(pages ...[]map[string]any) *Pager {
	if len(pages) == 0 {
		pages = [][]map[string]any{{}}
	}
	return &Pager{Pages: pages, Failures: map[int]int{}}
}

// Search implements search.Searcher.
func (p *Pager) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	page := 1
	if req.Cursor != nil {
		n, err := strconv.Atoi(strings.TrimPrefix(*req.Cursor, cursorPrefix))
		if err != nil || !strings.HasPrefix(*req.Cursor, cursorPrefix) {
			return nil, export.Errorf(export.CodeBackendRejected, false, "unknown cursor %q", *req.Cursor)
		}
		page = n + 1
	}
	if page < 1 || page > len(p.Pages) {
		return nil, export.Errorf(export.CodeBackendRejected, false, "page %d out of range", page)
	}

	if p.Failures[page] > 0 {
		p.Failures[page]--
		if p.FailWith != nil {
			return nil, p.FailWith
		}
		return nil, export.Errorf(export.CodeTransientBackend, true, "backend unavailable serving page %d", page)
	}

	records := make([]map[string]any, len(p.Pages[page-1]))
	copy(records, p.Pages[page-1])

	resp := &search.Response{
		Records:    records,
		Pagination: search.Pagination{Page: page, Total: p.total()},
	}
	if page < len(p.Pages) {
		next := cursorPrefix + strconv.Itoa(page)
		resp.Pagination.NextCursor = &next
	}
	return resp, nil
}

// Calls returns every request received, in order.
func (p *Pager) Calls() []search.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]search.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Pager) total() int {
	total := 0
	for _, page := range p.Pages {
		total += len(page)
	}
	return total
}

// Records builds n distinct flat records whose entry_id starts with prefix.
func Records(prefix string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"entry_id": fmt.Sprintf("%s-%04d", prefix, i),
			"n_atoms":  int64(i%7 + 1),
		}
	}
	return out
}
