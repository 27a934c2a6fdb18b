// Package config loads the bibstore YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scienceminer/bibstore"
	"github.com/scienceminer/bibstore/fatcat"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Load    LoadConfig    `yaml:"load"`
	List    ListConfig    `yaml:"list"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
	MaxMaps      int    `yaml:"max_maps"`
	MaxReaders   int    `yaml:"max_readers"`
	NoSync       bool   `yaml:"no_sync"`
}

type LoadConfig struct {
	BatchSize            int      `yaml:"batch_size"`
	IgnoreFields         []string `yaml:"ignore_fields"`
	ExcludedReleaseTypes []string `yaml:"excluded_release_types"`
}

type ListConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

type MetricsConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:         "data/fatcat.db",
			MaxSizeBytes: bibstore.DefaultMaxSizeBytes,
			MaxMaps:      bibstore.DefaultMaxMaps,
			MaxReaders:   bibstore.DefaultMaxReaders,
		},
		Load: LoadConfig{
			BatchSize:            bibstore.DefaultBatchSize,
			ExcludedReleaseTypes: fatcat.DefaultConfig().ExcludedReleaseTypes,
		},
		List: ListConfig{
			DefaultLimit: bibstore.DefaultListLimit,
		},
		Metrics: MetricsConfig{
			ReportInterval: 15 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.MaxSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_size_bytes must be positive, got %d", c.Storage.MaxSizeBytes))
	}
	if c.Storage.MaxMaps < 2 {
		errs = append(errs, fmt.Errorf("storage.max_maps must be at least 2, got %d", c.Storage.MaxMaps))
	}
	if c.Storage.MaxReaders <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_readers must be positive, got %d", c.Storage.MaxReaders))
	}
	if c.Load.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("load.batch_size must be positive, got %d", c.Load.BatchSize))
	}
	if c.List.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("list.default_limit must be positive, got %d", c.List.DefaultLimit))
	}
	if c.Metrics.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics.report_interval must not be negative, got %v", c.Metrics.ReportInterval))
	}
	return errors.Join(errs...)
}

func (c StorageConfig) EnvOptions() bibstore.Options {
	opt := bibstore.DefaultOptions()
	opt.MaxSizeBytes = c.MaxSizeBytes
	opt.MaxMaps = c.MaxMaps
	opt.MaxReaders = c.MaxReaders
	opt.NoSync = c.NoSync
	return opt
}

func (c LoadConfig) ReaderConfig() fatcat.Config {
	return fatcat.Config{
		IgnoreFields:         c.IgnoreFields,
		ExcludedReleaseTypes: c.ExcludedReleaseTypes,
	}
}
