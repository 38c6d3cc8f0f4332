package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds broker connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveConfig configures optional object-store archival of finished
// result artifacts. Archival is disabled when Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config is the shared configuration for the coordinator and worker
// binaries.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`

	// BatchSize is the partition size B: the maximum number of fingerprints
	// per work unit.
	BatchSize int `yaml:"batch_size"`

	// WorkerConcurrency is the number of lookup-queue consumers per worker.
	WorkerConcurrency int `yaml:"worker_concurrency"`

	// AggregatorConcurrency is the number of results-queue consumers on the
	// coordinator.
	AggregatorConcurrency int `yaml:"aggregator_concurrency"`

	// UploadsPerMinute caps uploads per client address; 0 disables.
	UploadsPerMinute int `yaml:"uploads_per_minute"`

	Redis   RedisConfig   `yaml:"redis"`
	Archive ArchiveConfig `yaml:"archive"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:              ":8080",
		DBPath:                "md5cracker.db",
		BatchSize:             1000,
		WorkerConcurrency:     4,
		AggregatorConcurrency: 2,
		Redis:                 RedisConfig{Addr: "localhost:6379"},
	}
}

// Load reads the YAML config at path, applying defaults for anything left
// unset. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.AggregatorConcurrency <= 0 {
		cfg.AggregatorConcurrency = 2
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "md5cracker.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	return cfg, nil
}
