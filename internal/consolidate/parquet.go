package consolidate

import (
	"context"
	"fmt"

	"github.com/nucleus/search-export/internal/codec"
	"github.com/nucleus/search-export/internal/export"
)

// UnifySchemas merges per-file schemas in first-seen column order. INT64 and
// DOUBLE widen to DOUBLE; any other disagreement is ErrSchemaUnification.
func UnifySchemas(schemas map[string][]codec.Column, order []string) ([]codec.Column, error) {
	var union []codec.Column
	index := make(map[string]int)
	origin := make(map[string]string)

	for _, path := range order {
		for _, col := range schemas[path] {
			i, ok := index[col.Name]
			if !ok {
				index[col.Name] = len(union)
				origin[col.Name] = path
				union = append(union, col)
				continue
			}
			merged, ok := widen(union[i].Type, col.Type)
			if !ok {
				return nil, export.Errorf(export.CodeSchemaUnification, false,
					"column %q is %s in %s but %s in %s", col.Name, union[i].Type, origin[col.Name], col.Type, path)
			}
			union[i].Type = merged
		}
	}
	return union, nil
}

func widen(a, b codec.ColumnType) (codec.ColumnType, bool) {
	if a == b {
		return a, true
	}
	numeric := func(t codec.ColumnType) bool { return t == codec.ColumnInt64 || t == codec.ColumnDouble }
	if numeric(a) && numeric(b) {
		return codec.ColumnDouble, true
	}
	return 0, false
}

func (c *Consolidator) consolidateParquet(ctx context.Context, job export.ConsolidationJob) (*Result, error) {
	paths := job.Paths()
	schemas := make(map[string][]codec.Column, len(paths))
	var expected int64

	// footers only; no row data is held across files
	for _, path := range paths {
		r, err := codec.OpenParquet(path)
		if err != nil {
			return nil, err
		}
		schemas[path] = r.Columns()
		expected += r.NumRows()
		_ = r.Close()
	}

	union, err := UnifySchemas(schemas, paths)
	if err != nil {
		return nil, err
	}

	var rows int64
	err = writeAtomic(ctx, job.Destination, func(tmp string) error {
		w, err := codec.NewParquetWriter(tmp, union, codec.CompressionZstd)
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := c.copyParquet(ctx, w, path); err != nil {
				w.Abort()
				return err
			}
		}
		rows = w.Rows()
		if err := w.Close(); err != nil {
			return err
		}
		return checkRows(job.Destination, expected, rows)
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, len(union))
	for i, col := range union {
		names[i] = col.Name
	}
	return &Result{Path: job.Destination, Rows: rows, Columns: names}, nil
}

// copyParquet streams one input into w in fixed-size batches, null-filling
// columns the input does not carry.
func (c *Consolidator) copyParquet(ctx context.Context, w *codec.ParquetWriter, path string) error {
	r, err := codec.OpenParquet(path)
	if err != nil {
		return err
	}
	defer r.Close()

	source := make(map[string]int, len(r.Columns()))
	for i, col := range r.Columns() {
		source[col.Name] = i
	}
	target := w.Columns()
	mapping := make([]int, len(target))
	for i, col := range target {
		if j, ok := source[col.Name]; ok {
			mapping[i] = j
		} else {
			mapping[i] = -1
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, n, err := r.ReadBatch(c.batchSize())
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if n == 0 {
			return nil
		}
		for i := 0; i < n; i++ {
			row := make([]any, len(target))
			for t, src := range mapping {
				if src >= 0 {
					row[t] = target[t].Convert(values[src][i])
				}
			}
			if err := w.WriteRow(row); err != nil {
				return err
			}
		}
	}
}
