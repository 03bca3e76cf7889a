// Package config loads worker and CLI settings from an optional YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/search-export/internal/artifact"
	"github.com/nucleus/search-export/internal/consolidate"
	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/search"
)

const (
	DefaultTaskQueue    = "search-export"
	DefaultTemporalAddr = "127.0.0.1:7233"
	DefaultNamespace    = "default"
	DefaultMetricsAddr  = ":9464"
)

// Temporal locates the cluster and task queue.
type Temporal struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"taskQueue"`
}

// Config is the full set of runtime settings.
type Config struct {
	Temporal         Temporal            `yaml:"temporal"`
	Search           search.ClientConfig `yaml:"search"`
	Artifact         artifact.Config     `yaml:"artifact"`
	Policies         export.Policies     `yaml:"policies"`
	ConsolidateBatch int                 `yaml:"consolidationBatchSize"`
	MetricsAddr      string              `yaml:"metricsAddr"`
	LogLevel         string              `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Temporal: Temporal{
			Address:   DefaultTemporalAddr,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Search:           *search.DefaultClientConfig(),
		Policies:         export.DefaultPolicies(),
		ConsolidateBatch: consolidate.DefaultBatchSize,
		MetricsAddr:      DefaultMetricsAddr,
		LogLevel:         "info",
	}
}

// Load reads path over the defaults, when path is set, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Policies = (&cfg.Policies).Resolve()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Temporal.Address = getEnv("TEMPORAL_ADDRESS", c.Temporal.Address)
	c.Temporal.Namespace = getEnv("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = getEnv("EXPORT_TASK_QUEUE", c.Temporal.TaskQueue)

	c.Search.BaseURL = getEnv("SEARCH_BASE_URL", c.Search.BaseURL)
	c.Search.Token = getEnv("SEARCH_TOKEN", c.Search.Token)

	c.Artifact.Endpoint = getEnv("ARTIFACT_ENDPOINT", c.Artifact.Endpoint)
	c.Artifact.Bucket = getEnv("ARTIFACT_BUCKET", c.Artifact.Bucket)
	c.Artifact.AccessKeyID = getEnv("ARTIFACT_ACCESS_KEY", c.Artifact.AccessKeyID)
	c.Artifact.SecretAccessKey = getEnv("ARTIFACT_SECRET_KEY", c.Artifact.SecretAccessKey)
	c.Artifact.LocalRoot = getEnv("ARTIFACT_LOCAL_ROOT", c.Artifact.LocalRoot)

	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.Search.PageSize, err = getEnvInt("SEARCH_PAGE_SIZE", c.Search.PageSize); err != nil {
		return err
	}
	if c.ConsolidateBatch, err = getEnvInt("CONSOLIDATION_BATCH_SIZE", c.ConsolidateBatch); err != nil {
		return err
	}
	if v := os.Getenv("SEARCH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SEARCH_RATE_LIMIT: %w", err)
		}
		c.Search.RateLimit = f
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
