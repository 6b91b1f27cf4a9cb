// Package config provides unified configuration for the metadata service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the metadata service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DefaultTTL is the retention applied to storage groups declared
	// without an explicit TTL
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Oplog configuration
	Oplog OplogConfig `json:"oplog" yaml:"oplog"`

	// Snapshot configuration
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// OplogConfig holds metadata operation-log configuration.
type OplogConfig struct {
	// Dir is the directory for operation-log segments
	Dir string `json:"dir" yaml:"dir"`

	// MaxSegmentSize is the segment rotation threshold in bytes
	MaxSegmentSize int64 `json:"max_segment_size" yaml:"max_segment_size"`
}

// SnapshotConfig holds metadata snapshot configuration.
type SnapshotConfig struct {
	// Prefix is the object-storage prefix shared by all instances
	Prefix string `json:"prefix" yaml:"prefix"`

	// ScratchDir is the directory for staging snapshot files
	ScratchDir string `json:"scratch_dir" yaml:"scratch_dir"`
}

// StorageConfig holds object-storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data/iotdb-meta",
		DefaultTTL: 0,
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Oplog: OplogConfig{
			Dir:            "",
			MaxSegmentSize: 64 * 1024 * 1024,
		},
		Snapshot: SnapshotConfig{
			Prefix:     "metadata-snapshots",
			ScratchDir: "",
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/iotdb-meta"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Oplog.Dir == "" {
		c.Oplog.Dir = filepath.Join(c.DataDir, "oplog")
	}
	if c.Snapshot.ScratchDir == "" {
		c.Snapshot.ScratchDir = filepath.Join(c.DataDir, "scratch")
	}
}

// ManifestPath returns the path to the storage-group catalog database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Oplog.MaxSegmentSize <= 0 {
		return fmt.Errorf("oplog.max_segment_size must be positive, got %d", c.Oplog.MaxSegmentSize)
	}

	if c.DefaultTTL < 0 {
		return fmt.Errorf("default_ttl must not be negative, got %s", c.DefaultTTL)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the IOTDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("IOTDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("IOTDB_DEFAULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DefaultTTL = d
		}
	}

	// HTTP configuration
	if v := os.Getenv("IOTDB_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Oplog configuration
	if v := os.Getenv("IOTDB_OPLOG_DIR"); v != "" {
		cfg.Oplog.Dir = v
	}
	if v := os.Getenv("IOTDB_OPLOG_MAX_SEGMENT_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Oplog.MaxSegmentSize)
	}

	// Snapshot configuration
	if v := os.Getenv("IOTDB_SNAPSHOT_PREFIX"); v != "" {
		cfg.Snapshot.Prefix = v
	}

	// Storage configuration
	if v := os.Getenv("IOTDB_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("IOTDB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("IOTDB_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("IOTDB_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("IOTDB_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.Path,
		c.Oplog.Dir,
		c.Snapshot.ScratchDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
