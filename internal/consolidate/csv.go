package consolidate

import (
	"context"
	"errors"
	"io"

	"github.com/nucleus/search-export/internal/codec"
	"github.com/nucleus/search-export/internal/export"
)

// consolidateCSV concatenates rows in input order under the union of the
// input headers, first-seen order. Cells are matched by column name and a
// column an input lacks is left empty. Values stay text, so no type
// unification happens. Empty inputs contribute no rows.
func (c *Consolidator) consolidateCSV(ctx context.Context, job export.ConsolidationJob) (*Result, error) {
	paths := job.Paths()

	header, err := unionCSVHeaders(paths)
	if err != nil {
		return nil, err
	}

	var rows int64
	err = writeAtomic(ctx, job.Destination, func(tmp string) error {
		w, err := codec.CreateCSV(tmp, header)
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := copyCSV(ctx, w, path); err != nil {
				w.Abort()
				return err
			}
		}
		rows = w.Rows()
		return w.Close()
	})
	if err != nil {
		return nil, err
	}
	return &Result{Path: job.Destination, Rows: rows, Columns: header}, nil
}

func unionCSVHeaders(paths []string) ([]string, error) {
	var union []string
	seen := make(map[string]bool)
	for _, path := range paths {
		r, err := codec.OpenCSV(path)
		if err != nil {
			return nil, err
		}
		header := r.Header()
		_ = r.Close()
		for _, name := range header {
			if seen[name] {
				continue
			}
			seen[name] = true
			union = append(union, name)
		}
	}
	return union, nil
}

func copyCSV(ctx context.Context, w *codec.CSVWriter, path string) error {
	r, err := codec.OpenCSV(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if len(r.Header()) == 0 {
		return nil
	}
	target := make(map[string]int, len(w.Header()))
	for i, name := range w.Header() {
		target[name] = i
	}
	mapping := make([]int, len(r.Header()))
	for i, name := range r.Header() {
		j, ok := target[name]
		if !ok {
			return export.Errorf(export.CodeSchemaUnification, false, "%s has column %q missing from the output header", path, name)
		}
		mapping[i] = j
	}

	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out := make([]string, len(w.Header()))
		for i, cell := range row {
			out[mapping[i]] = cell
		}
		if err := w.WriteRow(out); err != nil {
			return err
		}
	}
}
