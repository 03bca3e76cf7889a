package codec

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nucleus/search-export/internal/export"
)

// CSVCodec stores pages as header-first CSV. Values are written as text and
// read back as text; an empty cell is an absent field.
type CSVCodec struct{}

func (CSVCodec) Format() export.Format { return export.FormatCSV }

func (CSVCodec) Write(path string, records []map[string]any) error {
	header := FieldNames(records)
	w, err := CreateCSV(path, header)
	if err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, name := range header {
			row[i] = FormatValue(Normalize(rec[name]))
		}
		if err := w.WriteRow(row); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

func (CSVCodec) Read(path string) ([]map[string]any, error) {
	r, err := OpenCSV(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header := r.Header()
	var records []map[string]any
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(header))
		for i, name := range header {
			if row[i] != "" {
				rec[name] = row[i]
			}
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// CSVWriter appends rows under a header written on creation. A writer with
// no columns produces a file holding only an empty header line.
type CSVWriter struct {
	file   *os.File
	buf    *bufio.Writer
	w      *csv.Writer
	header []string
	rows   int64
}

// CreateCSV truncates path and writes header. An empty header is a blank
// line, which readers skip.
func CreateCSV(path string, header []string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, export.WrapError(export.CodeIO, true, fmt.Errorf("failed to create csv file: %w", err))
	}
	buf := bufio.NewWriter(f)
	w := &CSVWriter{file: f, buf: buf, w: csv.NewWriter(buf), header: header}
	if err := w.w.Write(header); err != nil {
		w.Abort()
		return nil, export.WrapError(export.CodeIO, true, err)
	}
	return w, nil
}

// Header returns the column names in file order.
func (w *CSVWriter) Header() []string { return w.header }

// Rows returns the number of data rows written.
func (w *CSVWriter) Rows() int64 { return w.rows }

// WriteRow appends one data row aligned with Header().
func (w *CSVWriter) WriteRow(row []string) error {
	if len(row) != len(w.header) {
		return fmt.Errorf("row has %d cells, header has %d", len(row), len(w.header))
	}
	if len(w.header) == 0 {
		// a zero-column row has no textual form
		w.rows++
		return nil
	}
	if err := w.w.Write(row); err != nil {
		return export.WrapError(export.CodeIO, true, err)
	}
	w.rows++
	return nil
}

// Close flushes buffered rows and closes the file.
func (w *CSVWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		_ = w.file.Close()
		return export.WrapError(export.CodeIO, true, err)
	}
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return export.WrapError(export.CodeIO, true, err)
	}
	if err := w.file.Close(); err != nil {
		return export.WrapError(export.CodeIO, true, err)
	}
	return nil
}

// Abort closes the file without flushing.
func (w *CSVWriter) Abort() {
	_ = w.file.Close()
}

// CSVReader yields rows of a header-first CSV file.
type CSVReader struct {
	path   string
	file   *os.File
	r      *csv.Reader
	header []string
}

// OpenCSV opens path and consumes its header. A file with a blank header
// line, or no bytes at all, has no header and no rows.
func OpenCSV(path string) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, export.WrapError(export.CodeIO, true, fmt.Errorf("failed to open %s: %w", path, err))
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, export.WrapError(export.CodeIO, false, fmt.Errorf("failed to read header of %s: %w", path, err))
	}
	return &CSVReader{path: path, file: f, r: r, header: header}, nil
}

// Header returns the column names; nil for an empty file.
func (r *CSVReader) Header() []string { return r.header }

// Next returns the next data row or io.EOF.
func (r *CSVReader) Next() ([]string, error) {
	if len(r.header) == 0 {
		return nil, io.EOF
	}
	row, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, export.WrapError(export.CodeIO, false, fmt.Errorf("failed to read %s: %w", r.path, err))
	}
	return row, nil
}

// Close releases the file.
func (r *CSVReader) Close() error {
	return r.file.Close()
}
