// Package config loads and validates the daemon configuration file.
//
// The file is YAML. Every field has a workable default so loading without a
// file yields a usable single-partition configuration; validate() applies
// defaults and rejects contradictions rather than guessing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// DataDir holds one subdirectory per partition. Defaults to the
	// platform config dir + "/flowmill/data".
	DataDir string `yaml:"data_dir"`

	// NodeID identifies this broker node in logs and archive manifests.
	// Defaults to the hostname.
	NodeID string `yaml:"node_id"`

	// Partitions this node hosts. Defaults to [1].
	Partitions []int `yaml:"partitions"`

	Log     LogConfig     `yaml:"log"`
	Janitor JanitorConfig `yaml:"janitor"`
	Archive ArchiveConfig `yaml:"archive"`
}

// LogConfig controls the base logger built by the serve command.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// JanitorConfig controls the pending-directory sweeper.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"` // default: 5m
}

// ArchiveConfig controls snapshot archival to object storage.
type ArchiveConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Bucket      string  `yaml:"bucket"`
	Prefix      string  `yaml:"prefix"`
	Region      string  `yaml:"region"`
	Concurrency int     `yaml:"concurrency"`   // parallel file uploads (default: 4)
	RateMBps    float64 `yaml:"rate_mbps"`     // upload throttle, 0 = unlimited
	QueueDepth  int     `yaml:"queue_depth"`   // queued promotions (default: 4)
}

// RateBytesPerSec converts the configured MB/s throttle to bytes.
func (a ArchiveConfig) RateBytesPerSec() int {
	return int(a.RateMBps * float64(1<<20))
}

// Load reads and validates a config file. An empty path loads pure
// defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("determine default data dir: %w", err)
		}
		c.DataDir = filepath.Join(base, "flowmill", "data")
	}
	if c.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("determine default node id: %w", err)
		}
		c.NodeID = host
	}

	if len(c.Partitions) == 0 {
		c.Partitions = []int{1}
	}
	seen := make(map[int]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if p <= 0 {
			return fmt.Errorf("partition ids must be positive, got %d", p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate partition id %d", p)
		}
		seen[p] = true
	}
	slices.Sort(c.Partitions)

	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.Janitor.Interval < 0 {
		return fmt.Errorf("janitor interval must not be negative")
	}
	if c.Janitor.Interval == 0 {
		c.Janitor.Interval = 5 * time.Minute
	}

	if c.Archive.RateMBps < 0 {
		return fmt.Errorf("archive rate must not be negative")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive is enabled but no bucket is configured")
	}
	if c.Archive.Concurrency == 0 {
		c.Archive.Concurrency = 4
	}
	if c.Archive.Concurrency < 0 {
		return fmt.Errorf("archive concurrency must be positive")
	}
	if c.Archive.QueueDepth == 0 {
		c.Archive.QueueDepth = 4
	}
	if c.Archive.QueueDepth < 0 {
		return fmt.Errorf("archive queue depth must be positive")
	}

	return nil
}
