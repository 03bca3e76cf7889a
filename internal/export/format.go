package export

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of output file formats.
type Format int

const (
	FormatParquet Format = iota + 1
	FormatCSV
)

// ParseFormat resolves a user-supplied format tag. Unknown tags fail with
// ErrUnsupportedFormat.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parquet":
		return FormatParquet, nil
	case "csv":
		return FormatCSV, nil
	default:
		return 0, Errorf(CodeUnsupportedFormat, false, "unsupported file type %q, use parquet or csv", s)
	}
}

// FormatFromPath resolves the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return 0, Errorf(CodeUnsupportedFormat, false, "path %q has no file extension", path)
	}
	return ParseFormat(ext)
}

// Ext returns the file extension without the leading dot.
func (f Format) Ext() string {
	switch f {
	case FormatParquet:
		return "parquet"
	case FormatCSV:
		return "csv"
	default:
		return ""
	}
}

func (f Format) String() string {
	if ext := f.Ext(); ext != "" {
		return ext
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Valid reports whether f is one of the declared formats.
func (f Format) Valid() bool {
	return f == FormatParquet || f == FormatCSV
}

func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, Errorf(CodeUnsupportedFormat, false, "cannot encode %s", f)
	}
	return []byte(f.Ext()), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
