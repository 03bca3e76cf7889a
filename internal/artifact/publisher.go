package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.temporal.io/sdk/log"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
)

const (
	defaultBucket = "search-exports"
	defaultPrefix = "exports"
)

// Config selects and configures the artifact store.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"useSSL"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	// LocalRoot is used when Endpoint is empty or a file:// URL.
	LocalRoot string `yaml:"localRoot"`
}

// Enabled reports whether publication is configured at all.
func (c Config) Enabled() bool {
	return c.Endpoint != "" || c.LocalRoot != ""
}

// NewStore picks an S3 store for http(s) endpoints and a local store otherwise.
func NewStore(cfg Config) (ObjectStore, error) {
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		return NewS3Store(cfg)
	}
	root := cfg.LocalRoot
	if root == "" && strings.HasPrefix(cfg.Endpoint, "file://") {
		root = strings.TrimPrefix(cfg.Endpoint, "file://")
	}
	return NewLocalStore(root), nil
}

// Publisher uploads a run's consolidated output under <prefix>/<runID>/.
type Publisher struct {
	Store  ObjectStore
	Bucket string
	Prefix string
	Logger log.Logger
}

// NewPublisher builds a Publisher from cfg.
func NewPublisher(cfg Config, logger log.Logger) (*Publisher, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{Store: store, Bucket: bucket, Prefix: prefix, Logger: logger}, nil
}

// Key returns the object key a run's file is published under.
func (p *Publisher) Key(runID, path string) string {
	return joinKey(p.Prefix, runID, filepath.Base(path))
}

// Publish uploads path and returns the object URL. Publishing the same run
// twice overwrites the same object.
func (p *Publisher) Publish(ctx context.Context, runID, path string) (string, error) {
	if runID == "" {
		return "", export.Errorf(export.CodeInvalidInput, false, "run id is required")
	}
	if err := p.Store.EnsureBucket(ctx, p.Bucket); err != nil {
		return "", err
	}
	key := p.Key(runID, path)
	if err := p.Store.PutFile(ctx, p.Bucket, key, path); err != nil {
		return "", fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}

	url := p.Store.URL(p.Bucket, key)
	logging.OrDefault(p.Logger).Info("artifact published", "runId", runID, "url", url)
	return url, nil
}
