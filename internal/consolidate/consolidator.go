// Package consolidate merges the page files of a run into one output file.
package consolidate

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/log"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/staging"
)

// DefaultBatchSize is the number of rows streamed per read from an input.
const DefaultBatchSize = 8192

// Result describes a finished consolidation.
type Result struct {
	Path    string        `json:"path"`
	Format  export.Format `json:"format"`
	Inputs  int           `json:"inputs"`
	Rows    int64         `json:"rows"`
	Columns []string      `json:"columns,omitempty"`
}

// Consolidator merges ordered, same-format page files.
type Consolidator struct {
	BatchSize int
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// New creates a Consolidator with the default batch size.
func New(logger log.Logger, m *metrics.Metrics) *Consolidator {
	return &Consolidator{BatchSize: DefaultBatchSize, Logger: logger, Metrics: m}
}

// Consolidate writes job.Destination from job.Inputs in list order. The
// destination is produced atomically: on any failure nothing is left at
// job.Destination.
func (c *Consolidator) Consolidate(ctx context.Context, job export.ConsolidationJob) (*Result, error) {
	if len(job.Inputs) == 0 {
		return nil, export.Errorf(export.CodeEmptyJob, false, "no input files to consolidate")
	}
	format, err := export.FormatFromPath(job.Destination)
	if err != nil {
		return nil, err
	}
	for _, in := range job.Inputs {
		if in.Format.Valid() && in.Format != format {
			return nil, export.Errorf(export.CodeInvalidInput, false, "input %s is %s, destination is %s", in.Path, in.Format, format)
		}
	}

	logger := logging.OrDefault(c.Logger)
	logger.Info("consolidating output files", "inputs", len(job.Inputs), "destination", job.Destination, "format", format.String())
	started := time.Now()

	var result *Result
	switch format {
	case export.FormatParquet:
		result, err = c.consolidateParquet(ctx, job)
	case export.FormatCSV:
		result, err = c.consolidateCSV(ctx, job)
	}
	if err != nil {
		c.Metrics.RecordConsolidation(format.String(), 0, err)
		logger.Error("consolidation failed", "destination", job.Destination, "error", err)
		return nil, err
	}

	result.Format = format
	result.Inputs = len(job.Inputs)
	c.Metrics.RecordConsolidation(format.String(), result.Rows, nil)
	logger.Info("consolidation complete", "rows", result.Rows, "columns", len(result.Columns), "elapsed", time.Since(started))
	return result, nil
}

func (c *Consolidator) batchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

func checkRows(path string, want, got int64) error {
	if want != got {
		return export.Errorf(export.CodeIO, false, "%s: wrote %d rows, inputs hold %d", path, got, want)
	}
	return nil
}

func writeAtomic(ctx context.Context, path string, write func(tmp string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return staging.WriteAtomic(path, func(tmp string) error {
		if err := write(tmp); err != nil {
			return fmt.Errorf("consolidate %s: %w", path, err)
		}
		return nil
	})
}
