// Package codec serializes pages of flat records into the supported output
// formats and reads them back.
package codec

import (
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/staging"
)

// Codec writes and reads one page of records in a single format.
type Codec interface {
	Format() export.Format
	// Write replaces path with records.
	Write(path string, records []map[string]any) error
	// Read returns every record in path. Null and absent fields are the same.
	Read(path string) ([]map[string]any, error)
}

// For selects the codec for f once, at entry.
func For(f export.Format) (Codec, error) {
	switch f {
	case export.FormatParquet:
		return ParquetCodec{Compression: CompressionSnappy}, nil
	case export.FormatCSV:
		return CSVCodec{}, nil
	default:
		return nil, export.Errorf(export.CodeUnsupportedFormat, false, "unsupported file type %s", f)
	}
}

// WritePage writes one page to path. The write is staged beside path and
// renamed into place, so retrying a page overwrites rather than duplicates.
// It returns the number of records written.
func WritePage(path string, format export.Format, records []map[string]any) (int, error) {
	c, err := For(format)
	if err != nil {
		return 0, err
	}
	err = staging.WriteAtomic(path, func(tmp string) error {
		return c.Write(tmp, records)
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ReadFile reads path with the codec matching its extension.
func ReadFile(path string) ([]map[string]any, error) {
	format, err := export.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	c, err := For(format)
	if err != nil {
		return nil, err
	}
	return c.Read(path)
}
