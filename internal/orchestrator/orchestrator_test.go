package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nucleus/search-export/internal/artifact"
	"github.com/nucleus/search-export/internal/codec"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/search/searchtest"
)

func fastPolicy() export.StepPolicy {
	return export.StepPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2,
		MaximumInterval:    5 * time.Millisecond,
		Timeout:            5 * time.Second,
	}
}

func fastPolicies() *export.Policies {
	p := fastPolicy()
	return &export.Policies{Directory: p, Page: p, Consolidation: p, Publish: p}
}

func newInput(t *testing.T, format string) export.Input {
	t.Helper()
	return export.Input{
		RunID:           "run-test",
		UserID:          "u-1",
		Owner:           export.OwnerPublic,
		Query:           map[string]any{"results.material.elements": []any{"Si", "O"}},
		OutputFormat:    format,
		OutputDirectory: filepath.Join(t.TempDir(), "exports", "run-test"),
		Policies:        fastPolicies(),
	}
}

func TestRunCompletes(t *testing.T) {
	for _, format := range []string{"parquet", "csv"} {
		t.Run(format, func(t *testing.T) {
			pager := searchtest.NewPager(
				searchtest.Records("a", 10),
				searchtest.Records("b", 10),
				searchtest.Records("c", 3),
			)
			in := newInput(t, format)

			run, err := New(pager, nil, nil).Run(context.Background(), in)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if run.State != export.StateDone {
				t.Errorf("state = %s, want Done", run.State)
			}
			if len(run.Pages) != 3 {
				t.Errorf("pages = %d, want 3", len(run.Pages))
			}
			if run.RecordsWritten() != 23 {
				t.Errorf("records = %d, want 23", run.RecordsWritten())
			}
			if want := filepath.Join(in.OutputDirectory, "consolidated_output."+format); run.ResultPath != want {
				t.Errorf("result = %s, want %s", run.ResultPath, want)
			}

			rows, err := codec.ReadFile(run.ResultPath)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 23 {
				t.Fatalf("consolidated rows = %d, want 23", len(rows))
			}
			if rows[0]["entry_id"] != "a-0000" || rows[22]["entry_id"] != "c-0002" {
				t.Errorf("rows out of order: first %v, last %v", rows[0]["entry_id"], rows[22]["entry_id"])
			}

			// Page files stay behind.
			entries, err := os.ReadDir(in.OutputDirectory)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 4 {
				t.Errorf("directory holds %d entries, want 4", len(entries))
			}
		})
	}
}

func TestRunSparsePages(t *testing.T) {
	for _, format := range []string{"parquet", "csv"} {
		t.Run(format, func(t *testing.T) {
			pager := searchtest.NewPager(
				[]map[string]any{{"entry_id": "e1", "band_gap": 1.5}},
				[]map[string]any{{"entry_id": "e2", "band_gap": nil}},
				[]map[string]any{{"entry_id": "e3", "results": map[string]any{"formula": "Si2"}}},
			)
			in := newInput(t, format)

			run, err := New(pager, nil, nil).Run(context.Background(), in)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if run.State != export.StateDone {
				t.Fatalf("state = %s, want Done", run.State)
			}

			rows, err := codec.ReadFile(run.ResultPath)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 3 {
				t.Fatalf("consolidated rows = %d, want 3", len(rows))
			}
			if _, ok := rows[0]["band_gap"]; !ok {
				t.Errorf("first row lost band_gap: %v", rows[0])
			}
			if _, ok := rows[1]["band_gap"]; ok {
				t.Errorf("second row has band_gap: %v", rows[1])
			}
			if rows[2]["results.formula"] != "Si2" || rows[2]["entry_id"] != "e3" {
				t.Errorf("third row = %v", rows[2])
			}
		})
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	pager := searchtest.NewPager(searchtest.Records("a", 1))
	in := newInput(t, "json")

	run, err := New(pager, nil, nil).Run(context.Background(), in)
	if !errors.Is(err, export.ErrRunFailed) || !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want RunFailed wrapping UnsupportedFormat", err)
	}
	if run.State != export.StateFailed {
		t.Errorf("state = %s, want Failed", run.State)
	}
	if len(pager.Calls()) != 0 {
		t.Errorf("search called %d times", len(pager.Calls()))
	}
	if _, err := os.Stat(in.OutputDirectory); !os.IsNotExist(err) {
		t.Errorf("output directory created: %v", err)
	}
}

func TestRunRetriesTransientPage(t *testing.T) {
	pager := searchtest.NewPager(searchtest.Records("a", 4), searchtest.Records("b", 4))
	pager.Failures[2] = 2
	in := newInput(t, "csv")

	run, err := New(pager, nil, nil).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.RecordsWritten() != 8 {
		t.Errorf("records = %d, want 8", run.RecordsWritten())
	}

	calls := pager.Calls()
	if len(calls) != 4 {
		t.Fatalf("search calls = %d, want 4", len(calls))
	}
	for _, c := range calls[1:] {
		if c.Cursor == nil || *c.Cursor != *calls[1].Cursor {
			t.Errorf("retry changed cursor: %v", c.Cursor)
		}
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, in *export.Input, pager *searchtest.Pager)
		wantErr   error
		wantState export.RunState
		wantCalls int
		wantPages int
	}{
		{
			name: "retries exhausted",
			setup: func(t *testing.T, in *export.Input, pager *searchtest.Pager) {
				pager.Failures[2] = 10
			},
			wantErr:   export.ErrTransientBackend,
			wantState: export.StatePaginating,
			wantCalls: 4,
			wantPages: 1,
		},
		{
			name: "backend rejection is not retried",
			setup: func(t *testing.T, in *export.Input, pager *searchtest.Pager) {
				pager.Failures[1] = 10
				pager.FailWith = export.Errorf(export.CodeBackendRejected, false, "bad query")
			},
			wantErr:   export.ErrBackendRejected,
			wantState: export.StatePaginating,
			wantCalls: 1,
		},
		{
			name: "directory exists",
			setup: func(t *testing.T, in *export.Input, pager *searchtest.Pager) {
				if err := os.MkdirAll(in.OutputDirectory, 0o755); err != nil {
					t.Fatal(err)
				}
			},
			wantErr:   export.ErrDirectoryAlreadyExists,
			wantState: export.StateDirectoryPending,
		},
		{
			name: "invalid owner",
			setup: func(t *testing.T, in *export.Input, pager *searchtest.Pager) {
				in.Owner = "everyone"
			},
			wantErr:   export.ErrInvalidInput,
			wantState: export.StateDirectoryPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pager := searchtest.NewPager(searchtest.Records("a", 3), searchtest.Records("b", 3))
			in := newInput(t, "parquet")
			tt.setup(t, &in, pager)

			run, err := New(pager, nil, nil).Run(context.Background(), in)
			if !errors.Is(err, export.ErrRunFailed) || !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want RunFailed wrapping %v", err, tt.wantErr)
			}
			var runErr *export.RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("error is %T, want *export.RunError", err)
			}
			if runErr.State != tt.wantState {
				t.Errorf("failed in %s, want %s", runErr.State, tt.wantState)
			}
			if runErr.Code != export.CodeOf(tt.wantErr) {
				t.Errorf("code = %s, want %s", runErr.Code, export.CodeOf(tt.wantErr))
			}
			if run.State != export.StateFailed {
				t.Errorf("state = %s, want Failed", run.State)
			}
			if got := len(pager.Calls()); got != tt.wantCalls {
				t.Errorf("search calls = %d, want %d", got, tt.wantCalls)
			}
			if len(run.Pages) != tt.wantPages {
				t.Errorf("pages = %d, want %d", len(run.Pages), tt.wantPages)
			}
			if _, err := os.Stat(filepath.Join(in.OutputDirectory, "consolidated_output.parquet")); !os.IsNotExist(err) {
				t.Errorf("consolidated output exists after failure")
			}
		})
	}
}

func TestRunPublishes(t *testing.T) {
	store := t.TempDir()
	publisher, err := artifact.NewPublisher(artifact.Config{LocalRoot: store, Bucket: "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	o := New(searchtest.NewPager(searchtest.Records("a", 2)), nil, nil)
	o.Publisher = publisher
	in := newInput(t, "csv")
	in.Publish = true

	run, err := o.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Published == "" {
		t.Fatal("run not published")
	}
	if _, err := os.Stat(filepath.Join(store, "b", "exports", "run-test", "consolidated_output.csv")); err != nil {
		t.Errorf("published object missing: %v", err)
	}
}

func TestRunPublishWithoutPublisher(t *testing.T) {
	in := newInput(t, "csv")
	in.Publish = true

	run, err := New(searchtest.NewPager(searchtest.Records("a", 2)), nil, nil).Run(context.Background(), in)
	if !errors.Is(err, export.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	// The consolidated file was already produced before publication failed.
	if run.ResultPath == "" {
		t.Error("result path not recorded")
	}
}

func TestRetryExecutor(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		err          error
		wantAttempts int32
		wantErr      bool
	}{
		{name: "first attempt succeeds", wantAttempts: 1},
		{name: "recovers after transient failures", failures: 2, err: export.ErrTransientBackend, wantAttempts: 3},
		{name: "exhausts attempts", failures: 5, err: export.ErrTransientBackend, wantAttempts: 3, wantErr: true},
		{name: "unclassified errors are retried", failures: 1, err: errors.New("boom"), wantAttempts: 2},
		{name: "fatal error stops", failures: 5, err: export.ErrSchemaUnification, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			e := &RetryExecutor{}
			err := e.Execute(context.Background(), "test", fastPolicy(), func(ctx context.Context) error {
				if n := atomic.AddInt32(&attempts, 1); int(n) <= tt.failures {
					return tt.err
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetryExecutorAttemptTimeout(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 2
	policy.Timeout = 10 * time.Millisecond

	var attempts int32
	err := (&RetryExecutor{}).Execute(context.Background(), "slow", policy, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, export.ErrTransientBackend) {
		t.Errorf("error = %v, want timed-out attempt classified transient", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryExecutorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts int32
	err := (&RetryExecutor{}).Execute(ctx, "cancelled", fastPolicy(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		cancel()
		return export.ErrTransientBackend
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
