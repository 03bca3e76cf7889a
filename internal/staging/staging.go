// Package staging provisions run directories and places files in them.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/nucleus/search-export/internal/export"
)

// ConsolidatedName is the stem of the merged output file.
const ConsolidatedName = "consolidated_output"

// CreateRunDirectory creates dir for a new run. An existing directory is a
// caller misconfiguration and fails with ErrDirectoryAlreadyExists.
func CreateRunDirectory(dir string) error {
	if dir == "" {
		return export.Errorf(export.CodeInvalidInput, false, "output directory is required")
	}
	if _, err := os.Stat(dir); err == nil {
		return export.Errorf(export.CodeDirectoryAlreadyExists, false, "directory %s already exists", dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return export.WrapError(export.CodeIO, true, err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return export.WrapError(export.CodeIO, true, fmt.Errorf("failed to create parent directory: %w", err))
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return export.Errorf(export.CodeDirectoryAlreadyExists, false, "directory %s already exists", dir)
		}
		return export.WrapError(export.CodeIO, true, fmt.Errorf("failed to create run directory: %w", err))
	}
	return nil
}

// PagePath is a pure function of the page index so retried writes land on
// the same file.
func PagePath(dir string, page int, format export.Format) string {
	return filepath.Join(dir, strconv.Itoa(page)+"."+format.Ext())
}

// ConsolidatedPath returns the merged output location inside dir.
func ConsolidatedPath(dir string, format export.Format) string {
	return filepath.Join(dir, ConsolidatedName+"."+format.Ext())
}

// TempPath returns a unique sibling of path for staging a write.
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s-%s.tmp", filepath.Base(path), uuid.New().String()))
}

// WriteAtomic stages the file through write and renames it into place only
// when write succeeds. A failed write leaves no file at path.
func WriteAtomic(path string, write func(tmp string) error) error {
	tmp := TempPath(path)
	if err := write(tmp); err != nil {
		Cleanup(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		Cleanup(tmp)
		return export.WrapError(export.CodeIO, true, fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err))
	}
	return nil
}

// Cleanup removes a staging file.
func Cleanup(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
