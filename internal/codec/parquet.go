package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nucleus/search-export/internal/export"
)

// parallelism handed to parquet-go readers and writers.
const parquetParallelism = 4

// Compression picks the parquet codec for a write.
type Compression int

const (
	// CompressionSnappy favors write latency; used for every page.
	CompressionSnappy Compression = iota
	// CompressionZstd favors ratio; used once per run when consolidating.
	CompressionZstd
)

func (c Compression) codec() parquet.CompressionCodec {
	if c == CompressionZstd {
		return parquet.CompressionCodec_ZSTD
	}
	return parquet.CompressionCodec_SNAPPY
}

// =============================================================================
// COLUMNS
// =============================================================================

// ColumnType is the physical type a column is stored with.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInt64
	ColumnDouble
	ColumnBoolean
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt64:
		return "INT64"
	case ColumnDouble:
		return "DOUBLE"
	case ColumnBoolean:
		return "BOOLEAN"
	default:
		return "UTF8"
	}
}

// Column is one optional leaf of a flat parquet schema.
type Column struct {
	Name string
	Type ColumnType
}

// Tag renders the parquet-go metadata tag for the column. Dictionary encoding
// is requested for text columns.
func (c Column) Tag() string {
	name := tagSafeName(c.Name)
	switch c.Type {
	case ColumnInt64:
		return fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", name)
	case ColumnDouble:
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
	case ColumnBoolean:
		return fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=OPTIONAL", name)
	default:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL", name)
	}
}

// Convert coerces a normalized value to the column's physical type.
func (c Column) Convert(v any) any {
	v = Normalize(v)
	if v == nil {
		return nil
	}
	switch c.Type {
	case ColumnInt64:
		if i, ok := v.(int64); ok {
			return i
		}
	case ColumnDouble:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case ColumnBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return FormatValue(v)
}

// tag values are comma delimited and tabs are stripped
func tagSafeName(name string) string {
	return strings.NewReplacer(",", "_", "\t", "_").Replace(name)
}

// checkColumnNames rejects schemas whose names parquet-go cannot tell apart.
// Its readers resolve columns through a Go-identifier form of each name, so
// "name" and "Name" (or "a.b" and "a46b") would write a file that cannot be
// read back.
func checkColumnNames(columns []Column) error {
	seen := make(map[string]string, len(columns))
	for _, c := range columns {
		name := tagSafeName(c.Name)
		if strings.TrimSpace(name) == "" {
			return export.Errorf(export.CodeSchemaUnification, false, "column name %q is empty", c.Name)
		}
		key := common.StringToVariableName(strings.TrimSpace(name))
		if prev, ok := seen[key]; ok {
			return export.Errorf(export.CodeSchemaUnification, false,
				"columns %q and %q cannot both be stored in parquet", prev, c.Name)
		}
		seen[key] = c.Name
	}
	return nil
}

// InferColumns derives a flat schema from a page. Columns that are null in
// every record are left out; mixed kinds fall back to text and int/float
// mixes widen to DOUBLE.
func InferColumns(records []map[string]any) []Column {
	type kinds struct{ b, i, f, s bool }
	seen := make(map[string]*kinds)
	for _, rec := range records {
		for name, raw := range rec {
			v := Normalize(raw)
			if v == nil {
				continue
			}
			k := seen[name]
			if k == nil {
				k = &kinds{}
				seen[name] = k
			}
			switch v.(type) {
			case bool:
				k.b = true
			case int64:
				k.i = true
			case float64:
				k.f = true
			default:
				k.s = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]Column, 0, len(names))
	for _, name := range names {
		k := seen[name]
		t := ColumnString
		switch {
		case k.s:
		case k.b && !k.i && !k.f:
			t = ColumnBoolean
		case k.b:
			// booleans mixed with numbers stay text
		case k.f:
			t = ColumnDouble
		case k.i:
			t = ColumnInt64
		}
		cols = append(cols, Column{Name: name, Type: t})
	}
	return cols
}

func columnTypeOf(el *parquet.SchemaElement) (ColumnType, error) {
	if el.Type == nil {
		return 0, fmt.Errorf("column %s has no physical type", el.Name)
	}
	switch *el.Type {
	case parquet.Type_BYTE_ARRAY:
		return ColumnString, nil
	case parquet.Type_INT64:
		return ColumnInt64, nil
	case parquet.Type_DOUBLE:
		return ColumnDouble, nil
	case parquet.Type_BOOLEAN:
		return ColumnBoolean, nil
	default:
		return 0, fmt.Errorf("column %s has unsupported physical type %s", el.Name, el.Type.String())
	}
}

// =============================================================================
// WRITER
// =============================================================================

// ParquetWriter writes rows positionally against a fixed column list.
type ParquetWriter struct {
	file    source.ParquetFile
	pw      *writer.CSVWriter
	columns []Column
	rows    int64
}

// NewParquetWriter creates path and prepares it for rows matching columns.
func NewParquetWriter(path string, columns []Column, compression Compression) (*ParquetWriter, error) {
	if err := checkColumnNames(columns); err != nil {
		return nil, err
	}
	md := make([]string, 0, len(columns))
	for _, c := range columns {
		md = append(md, c.Tag())
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, export.WrapError(export.CodeIO, true, fmt.Errorf("failed to create parquet file: %w", err))
	}
	pw, err := writer.NewCSVWriter(md, fw, parquetParallelism)
	if err != nil {
		_ = fw.Close()
		return nil, export.WrapError(export.CodeIO, false, fmt.Errorf("failed to build parquet schema: %w", err))
	}
	pw.CompressionType = compression.codec()

	return &ParquetWriter{file: fw, pw: pw, columns: columns}, nil
}

// Columns returns the schema the writer was opened with.
func (w *ParquetWriter) Columns() []Column { return w.columns }

// Rows returns the number of rows written so far.
func (w *ParquetWriter) Rows() int64 { return w.rows }

// WriteRow appends one row; row[i] belongs to Columns()[i].
func (w *ParquetWriter) WriteRow(row []any) error {
	if len(row) != len(w.columns) {
		return fmt.Errorf("row has %d values, schema has %d columns", len(row), len(w.columns))
	}
	if err := w.pw.Write(row); err != nil {
		return export.WrapError(export.CodeIO, true, fmt.Errorf("failed to write parquet row: %w", err))
	}
	w.rows++
	return nil
}

// Close flushes the footer and closes the file.
func (w *ParquetWriter) Close() error {
	if err := w.pw.WriteStop(); err != nil {
		_ = w.file.Close()
		return export.WrapError(export.CodeIO, true, fmt.Errorf("failed to finish parquet file: %w", err))
	}
	if err := w.file.Close(); err != nil {
		return export.WrapError(export.CodeIO, true, err)
	}
	return nil
}

// Abort closes the file without a valid footer.
func (w *ParquetWriter) Abort() {
	_ = w.file.Close()
}

// =============================================================================
// READER
// =============================================================================

// ParquetReader streams a flat parquet file column by column.
type ParquetReader struct {
	path    string
	file    source.ParquetFile
	pr      *reader.ParquetReader
	columns []Column
	rows    int64
	read    int64
}

// OpenParquet opens path and resolves its flat schema from the footer.
func OpenParquet(path string) (*ParquetReader, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, export.WrapError(export.CodeIO, true, fmt.Errorf("failed to open %s: %w", path, err))
	}
	pr, err := reader.NewParquetColumnReader(fr, parquetParallelism)
	if err != nil {
		_ = fr.Close()
		return nil, export.WrapError(export.CodeIO, false, fmt.Errorf("failed to read parquet footer of %s: %w", path, err))
	}

	// the reader swaps footer names for Go identifiers; the stored name
	// survives as ExName
	infos := pr.SchemaHandler.Infos
	var columns []Column
	for i := 1; i < len(pr.Footer.Schema); i++ {
		el := pr.Footer.Schema[i]
		if el.NumChildren != nil && *el.NumChildren > 0 {
			continue
		}
		t, err := columnTypeOf(el)
		if err != nil {
			pr.ReadStop()
			_ = fr.Close()
			return nil, export.WrapError(export.CodeSchemaUnification, false, fmt.Errorf("%s: %w", path, err))
		}
		name := el.Name
		if i < len(infos) && infos[i] != nil {
			name = infos[i].ExName
		}
		columns = append(columns, Column{Name: name, Type: t})
	}

	return &ParquetReader{
		path:    path,
		file:    fr,
		pr:      pr,
		columns: columns,
		rows:    pr.GetNumRows(),
	}, nil
}

// Columns returns the file's schema in storage order.
func (r *ParquetReader) Columns() []Column { return r.columns }

// NumRows returns the row count recorded in the footer.
func (r *ParquetReader) NumRows() int64 { return r.rows }

// ReadBatch returns up to n rows in column-major order: values[c][i] is
// column c of row i. A nil entry is a null. It returns zero rows at the end.
func (r *ParquetReader) ReadBatch(n int) ([][]any, int, error) {
	remaining := r.rows - r.read
	if remaining <= 0 || n <= 0 {
		return nil, 0, nil
	}
	if int64(n) > remaining {
		n = int(remaining)
	}

	values := make([][]any, len(r.columns))
	for i := range r.columns {
		col, _, _, err := r.pr.ReadColumnByIndex(int64(i), int64(n))
		if err != nil {
			return nil, 0, export.WrapError(export.CodeIO, false, fmt.Errorf("failed to read column %s of %s: %w", r.columns[i].Name, r.path, err))
		}
		if len(col) != n {
			return nil, 0, export.Errorf(export.CodeIO, false, "column %s of %s returned %d values, want %d", r.columns[i].Name, r.path, len(col), n)
		}
		values[i] = col
	}
	r.read += int64(n)
	return values, n, nil
}

// Close releases the reader and its file.
func (r *ParquetReader) Close() error {
	r.pr.ReadStop()
	return r.file.Close()
}

// =============================================================================
// CODEC
// =============================================================================

// ParquetCodec stores pages as flat, optional-column parquet files.
type ParquetCodec struct {
	Compression Compression
}

func (ParquetCodec) Format() export.Format { return export.FormatParquet }

func (c ParquetCodec) Write(path string, records []map[string]any) error {
	columns := InferColumns(records)
	w, err := NewParquetWriter(path, columns, c.Compression)
	if err != nil {
		return err
	}
	for _, rec := range records {
		// the writer buffers rows by reference until flush
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = col.Convert(rec[col.Name])
		}
		if err := w.WriteRow(row); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

func (ParquetCodec) Read(path string) ([]map[string]any, error) {
	r, err := OpenParquet(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	records := make([]map[string]any, 0, r.NumRows())
	columns := r.Columns()
	for {
		values, n, err := r.ReadBatch(4096)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			rec := make(map[string]any, len(columns))
			for c, col := range columns {
				if v := values[c][i]; v != nil {
					rec[col.Name] = v
				}
			}
			records = append(records, rec)
		}
	}
	return records, nil
}
