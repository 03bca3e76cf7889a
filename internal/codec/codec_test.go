package codec

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nucleus/search-export/internal/export"
)

func sampleRecords() []map[string]any {
	return []map[string]any{
		{"entry_id": "a1", "n_atoms": int64(4), "energy": -1.5, "published": true},
		{"entry_id": "a2", "n_atoms": int64(8), "formula": "Si2"},
		{"entry_id": "a3", "energy": 2.25, "published": false},
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.parquet")
	records := sampleRecords()

	n, err := WritePage(path, export.FormatParquet, records)
	if err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if n != len(records) {
		t.Errorf("WritePage wrote %d records, want %d", n, len(records))
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, records)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.csv")
	records := []map[string]any{
		{"entry_id": "a1", "formula": "Si2", "comment": "has, comma"},
		{"entry_id": "a2", "comment": "multi\nline"},
		{"entry_id": "a3", "formula": "GaAs"},
	}

	if _, err := WritePage(path, export.FormatCSV, records); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, records)
	}
}

func TestCSVWritesTextForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.csv")
	records := []map[string]any{{"n": int64(42), "x": 0.5, "ok": true}}

	if _, err := WritePage(path, export.FormatCSV, records); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "n,ok,x\n42,true,0.5\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestEmptyPage(t *testing.T) {
	for _, format := range []export.Format{export.FormatParquet, export.FormatCSV} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "1."+format.Ext())
			n, err := WritePage(path, format, nil)
			if err != nil {
				t.Fatalf("WritePage: %v", err)
			}
			if n != 0 {
				t.Errorf("wrote %d records, want 0", n)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("expected file to exist: %v", err)
			}
			if format == export.FormatCSV {
				if data, _ := os.ReadFile(path); string(data) != "\n" {
					t.Errorf("empty csv page = %q, want a blank header line", data)
				}
			}
			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("read %d records, want 0", len(got))
			}
		})
	}
}

func TestParquetKeepsFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.parquet")
	records := []map[string]any{
		Flatten(map[string]any{
			"entry_id": "e1",
			"results": map[string]any{
				"material": map[string]any{"n_elements": json.Number("2"), "elements": []any{"Si", "O"}},
			},
			"my field": "spaced",
			"_private": true,
		}),
		Flatten(map[string]any{
			"entry_id": "e2",
			"results":  map[string]any{"material": map[string]any{"n_elements": json.Number("3")}},
		}),
	}

	if _, err := WritePage(path, export.FormatParquet, records); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	r, err := OpenParquet(path)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range r.Columns() {
		names = append(names, c.Name)
	}
	_ = r.Close()
	wantNames := []string{"_private", "entry_id", "my field", "results.material.elements", "results.material.n_elements"}
	if !reflect.DeepEqual(names, wantNames) {
		t.Errorf("columns = %v, want %v", names, wantNames)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []map[string]any{
		{
			"entry_id":                    "e1",
			"results.material.n_elements": int64(2),
			"results.material.elements":   `["Si","O"]`,
			"my field":                    "spaced",
			"_private":                    true,
		},
		{"entry_id": "e2", "results.material.n_elements": int64(3)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, want)
	}
}

func TestParquetRejectsIndistinctNames(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]any
	}{
		{"case only", map[string]any{"name": "a", "Name": "b"}},
		{"escaped dot", map[string]any{"a.b": 1, "a46b": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "1.parquet")
			_, err := WritePage(path, export.FormatParquet, []map[string]any{tt.record})
			if !errors.Is(err, export.ErrSchemaUnification) {
				t.Fatalf("error = %v, want ErrSchemaUnification", err)
			}
			if export.IsRetryable(err) {
				t.Error("name collision must not be retryable")
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Errorf("expected no page file, stat err = %v", err)
			}
		})
	}
}

func TestWritePageOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2.parquet")

	if _, err := WritePage(path, export.FormatParquet, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	second := []map[string]any{{"entry_id": "z9"}}
	if _, err := WritePage(path, export.FormatParquet, second); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Errorf("got %#v, want %#v", got, second)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the page file", len(entries))
	}
}

func TestForUnsupportedFormat(t *testing.T) {
	_, err := For(export.Format(99))
	if !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Errorf("For(99) error = %v, want ErrUnsupportedFormat", err)
	}

	path := filepath.Join(t.TempDir(), "1.json")
	if _, err := WritePage(path, export.Format(0), sampleRecords()); !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Errorf("WritePage error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file for unsupported format, stat err = %v", err)
	}
}

func TestInferColumns(t *testing.T) {
	tests := []struct {
		name    string
		records []map[string]any
		want    []Column
	}{
		{
			name:    "empty",
			records: nil,
			want:    []Column{},
		},
		{
			name:    "scalar kinds",
			records: []map[string]any{{"s": "x", "i": 1, "f": 1.5, "b": true}},
			want: []Column{
				{Name: "b", Type: ColumnBoolean},
				{Name: "f", Type: ColumnDouble},
				{Name: "i", Type: ColumnInt64},
				{Name: "s", Type: ColumnString},
			},
		},
		{
			name:    "int and float widen",
			records: []map[string]any{{"v": 1}, {"v": 2.5}},
			want:    []Column{{Name: "v", Type: ColumnDouble}},
		},
		{
			name:    "mixed kinds become text",
			records: []map[string]any{{"v": 1}, {"v": "one"}},
			want:    []Column{{Name: "v", Type: ColumnString}},
		},
		{
			name:    "all null column dropped",
			records: []map[string]any{{"v": nil, "w": "x"}, {"v": nil}},
			want:    []Column{{Name: "w", Type: ColumnString}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferColumns(tt.records)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InferColumns = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	in := map[string]any{
		"entry_id": "e1",
		"results": map[string]any{
			"material": map[string]any{
				"elements":   []any{"Si", "O"},
				"n_elements": json.Number("2"),
			},
		},
		"empty": map[string]any{},
	}

	got := Flatten(in)
	want := map[string]any{
		"entry_id":                    "e1",
		"results.material.elements":   `["Si","O"]`,
		"results.material.n_elements": int64(2),
		"empty":                       nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Flatten = %#v, want %#v", got, want)
	}
}
