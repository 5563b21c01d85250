package snapshot

import (
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sink kinds
const (
	SinkFile  = "file"
	SinkMinio = "minio"
)

const (
	defaultDir       = "snapshots"
	defaultBatchSize = 100
)

// Config is the snapshot section of the service configuration.
type Config struct {
	Sink  string      `toml:"sink"`
	Dir   string      `toml:"dir"`
	Minio MinioConfig `toml:"minio"`

	// BatchSize is the number of records per Insert call on import.
	BatchSize int `toml:"batch_size"`
	// RecordsPerSecond throttles import. Zero means unthrottled.
	RecordsPerSecond float64 `toml:"records_per_second"`
}

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Secure    bool   `toml:"secure"`
	Region    string `toml:"region"`
}

// Validate fills defaults and checks the selected sink.
func (c *Config) Validate() error {
	if c.Sink == "" {
		c.Sink = SinkFile
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RecordsPerSecond < 0 {
		return fmt.Errorf("records_per_second must not be negative")
	}

	switch c.Sink {
	case SinkFile:
		if c.Dir == "" {
			c.Dir = defaultDir
		}
	case SinkMinio:
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("minio.endpoint is required")
		}
		if c.Minio.Bucket == "" {
			return fmt.Errorf("minio.bucket is required")
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}
	return nil
}

// ImportOptions returns the import settings of the configuration.
func (c *Config) ImportOptions() ImportOptions {
	return ImportOptions{BatchSize: c.BatchSize, RecordsPerSecond: c.RecordsPerSecond}
}

// NewSink creates the configured sink.
func NewSink(cfg Config) (Sink, error) {
	switch cfg.Sink {
	case SinkMinio:
		client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.Secure,
			Region: cfg.Minio.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
		return NewMinioSink(client, cfg.Minio.Bucket, cfg.Minio.Prefix), nil
	case SinkFile, "":
		dir := cfg.Dir
		if dir == "" {
			dir = defaultDir
		}
		return NewFileSink(dir)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
