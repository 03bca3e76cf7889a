// Package artifact publishes finished exports to an object store.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/staging"
)

// ObjectStore is the subset of MinIO/S3 operations publication needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutFile(ctx context.Context, bucket, key, path string) error
	URL(bucket, key string) string
}

// LocalStore keeps objects on disk under root/<bucket>/<key>.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local object store rooted at root.
func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "search-export-artifacts")
	}
	return &LocalStore{root: root}
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return export.Errorf(export.CodeInvalidInput, false, "bucket name is required")
	}
	if err := os.MkdirAll(s.bucketPath(bucket), 0o755); err != nil {
		return export.WrapError(export.CodeIO, true, err)
	}
	return nil
}

func (s *LocalStore) PutFile(ctx context.Context, bucket, key, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return export.Errorf(export.CodeInvalidInput, false, "object key is required")
	}

	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return export.WrapError(export.CodeInvalidInput, false, err)
		}
		return export.WrapError(export.CodeIO, true, err)
	}
	defer src.Close()

	dest := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return export.WrapError(export.CodeIO, true, err)
	}
	return staging.WriteAtomic(dest, func(tmp string) error {
		out, err := os.Create(tmp)
		if err != nil {
			return export.WrapError(export.CodeIO, true, err)
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			return export.WrapError(export.CodeIO, true, fmt.Errorf("copy %s: %w", key, err))
		}
		if err := out.Close(); err != nil {
			return export.WrapError(export.CodeIO, true, err)
		}
		return nil
	})
}

func (s *LocalStore) URL(bucket, key string) string {
	return "file://" + filepath.ToSlash(s.objectPath(bucket, key))
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, sanitize(bucket))
}

func (s *LocalStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
}

func joinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
