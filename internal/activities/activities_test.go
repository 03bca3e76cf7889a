package activities

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/pagination"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/search/searchtest"
)

// =============================================================================
// HELPERS
// =============================================================================

func newEnv(t *testing.T, acts *Activities) *testsuite.TestActivityEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)
	return env
}

func assertApplicationError(t *testing.T, err error, code string, nonRetryable bool) {
	t.Helper()
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("error = %v, want ApplicationError", err)
	}
	if appErr.Type() != code {
		t.Errorf("type = %s, want %s", appErr.Type(), code)
	}
	if appErr.NonRetryable() != nonRetryable {
		t.Errorf("NonRetryable = %v, want %v", appErr.NonRetryable(), nonRetryable)
	}
}

type publisherFunc func(ctx context.Context, runID, path string) (string, error)

func (f publisherFunc) Publish(ctx context.Context, runID, path string) (string, error) {
	return f(ctx, runID, path)
}

// =============================================================================
// TESTS
// =============================================================================

func TestCreateRunDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	env := newEnv(t, NewActivities(nil, nil, nil))

	if _, err := env.ExecuteActivity(CreateRunDirectoryName, CreateRunDirectoryRequest{RunID: "r", Directory: dir}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	_, err := env.ExecuteActivity(CreateRunDirectoryName, CreateRunDirectoryRequest{RunID: "r", Directory: dir})
	assertApplicationError(t, err, export.CodeDirectoryAlreadyExists, true)
}

func TestSearchAndWritePage(t *testing.T) {
	dir := t.TempDir()
	pager := searchtest.NewPager(searchtest.Records("a", 5), searchtest.Records("b", 2))
	env := newEnv(t, NewActivities(pager, nil, nil))

	req := SearchPageRequest{
		RunID: "r",
		Page: pagination.Page{
			Plan: pagination.Plan{
				Request:   search.Request{UserID: "u", Owner: export.OwnerVisible},
				Directory: dir,
				Format:    export.FormatParquet,
			},
			Index: 1,
		},
	}
	val, err := env.ExecuteActivity(SearchAndWritePageName, req)
	if err != nil {
		t.Fatal(err)
	}
	var res SearchPageResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.File.Records != 5 || res.File.Path != filepath.Join(dir, "1.parquet") {
		t.Errorf("file = %+v", res.File)
	}
	if res.File.Format != export.FormatParquet {
		t.Errorf("format = %v", res.File.Format)
	}
	if res.NextCursor == nil {
		t.Fatal("expected a next cursor")
	}
}

func TestSearchAndWritePageErrors(t *testing.T) {
	tests := []struct {
		name         string
		fail         error
		wantCode     string
		nonRetryable bool
	}{
		{"transient", export.Errorf(export.CodeTransientBackend, true, "503"), export.CodeTransientBackend, false},
		{"rejected", export.Errorf(export.CodeBackendRejected, false, "400"), export.CodeBackendRejected, true},
		{"unclassified", errors.New("socket closed"), export.CodeUnclassified, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pager := searchtest.NewPager(searchtest.Records("a", 1))
			pager.Failures[1] = 1
			pager.FailWith = tt.fail
			env := newEnv(t, NewActivities(pager, nil, nil))

			_, err := env.ExecuteActivity(SearchAndWritePageName, SearchPageRequest{
				Page: pagination.Page{Plan: pagination.Plan{Directory: t.TempDir(), Format: export.FormatCSV}, Index: 1},
			})
			assertApplicationError(t, err, tt.wantCode, tt.nonRetryable)
		})
	}
}

func TestConsolidateOutputFiles(t *testing.T) {
	dir := t.TempDir()
	pager := searchtest.NewPager(searchtest.Records("a", 3), searchtest.Records("b", 4))
	acts := NewActivities(pager, nil, nil)
	acts.BatchSize = 2
	env := newEnv(t, acts)

	var files []export.OutputFile
	var cursor *string
	for i := 1; i <= 2; i++ {
		val, err := env.ExecuteActivity(SearchAndWritePageName, SearchPageRequest{
			Page: pagination.Page{Plan: pagination.Plan{Directory: dir, Format: export.FormatCSV}, Index: i, Cursor: cursor},
		})
		if err != nil {
			t.Fatal(err)
		}
		var res SearchPageResult
		if err := val.Get(&res); err != nil {
			t.Fatal(err)
		}
		files = append(files, res.File)
		cursor = res.NextCursor
	}

	val, err := env.ExecuteActivity(ConsolidateOutputFilesName, ConsolidateRequest{
		RunID: "r",
		Job:   export.ConsolidationJob{Inputs: files, Destination: filepath.Join(dir, "consolidated_output.csv")},
	})
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Path string `json:"path"`
		Rows int64  `json:"rows"`
	}
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.Rows != 7 {
		t.Errorf("rows = %d, want 7", res.Rows)
	}

	_, err = env.ExecuteActivity(ConsolidateOutputFilesName, ConsolidateRequest{
		Job: export.ConsolidationJob{Destination: filepath.Join(dir, "consolidated_output.csv")},
	})
	assertApplicationError(t, err, export.CodeEmptyJob, true)
}

func TestPublishArtifact(t *testing.T) {
	var gotRun, gotPath string
	pub := publisherFunc(func(ctx context.Context, runID, path string) (string, error) {
		gotRun, gotPath = runID, path
		return "s3://bucket/exports/" + runID + "/out.csv", nil
	})
	env := newEnv(t, NewActivities(nil, pub, nil))

	val, err := env.ExecuteActivity(PublishArtifactName, PublishRequest{RunID: "r-9", Path: "/data/out.csv"})
	if err != nil {
		t.Fatal(err)
	}
	var res PublishResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.URL != "s3://bucket/exports/r-9/out.csv" || gotRun != "r-9" || gotPath != "/data/out.csv" {
		t.Errorf("result = %+v, run %s, path %s", res, gotRun, gotPath)
	}

	env = newEnv(t, NewActivities(nil, nil, nil))
	_, err = env.ExecuteActivity(PublishArtifactName, PublishRequest{RunID: "r-9", Path: "/data/out.csv"})
	assertApplicationError(t, err, export.CodeInvalidInput, true)
}
