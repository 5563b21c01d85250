package vector

import (
	"context"
	"fmt"
	"strings"
)

// Backend names
const (
	BackendCosmos     = "cosmos"
	BackendOpenSearch = "opensearch"
)

// Package-level singleton instance
var storeInstance Store

// Init opens the configured backend and installs it as the package singleton.
func Init(ctx context.Context, cfg Config) error {
	store, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	storeInstance = store
	return nil
}

// NewStore returns the singleton store instance.
func NewStore() Store {
	return storeInstance
}

// Open creates the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.backend() {
	case BackendOpenSearch:
		return NewOpenSearchStore(ctx, cfg.OpenSearch)
	default:
		return NewCosmosStore(ctx, cfg.Cosmos)
	}
}

// Config selects and configures the storage backend.
type Config struct {
	Backend    string           `toml:"backend"` // cosmos (default) or opensearch
	Cosmos     CosmosConfig     `toml:"cosmos"`
	OpenSearch OpenSearchConfig `toml:"opensearch"`
}

func (c *Config) backend() string {
	if c.Backend == "" {
		return BackendCosmos
	}
	return strings.ToLower(c.Backend)
}

// Validate checks the configuration of the selected backend.
func (c *Config) Validate() error {
	switch c.backend() {
	case BackendCosmos:
		if err := c.Cosmos.Validate(); err != nil {
			return fmt.Errorf("cosmos: %w", err)
		}
	case BackendOpenSearch:
		if err := c.OpenSearch.Validate(); err != nil {
			return fmt.Errorf("opensearch: %w", err)
		}
	default:
		return &ConfigError{Field: "backend", Reason: fmt.Sprintf("must be %s or %s, got %q", BackendCosmos, BackendOpenSearch, c.Backend)}
	}
	return nil
}

// CosmosConfig holds Azure Cosmos DB for NoSQL configuration
type CosmosConfig struct {
	// Endpoint is the account URL. When empty it is derived from ServiceName.
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Database    string `toml:"database"`
	Collection  string `toml:"collection"`
	// APIKey is the account key. Empty (or the template placeholder) uses ambient identity.
	APIKey        string `toml:"api_key"`
	AutoScale     bool   `toml:"auto_scale"`
	MaxThroughput int32  `toml:"max_throughput"`
	VectorSize    int    `toml:"vector_size"`
	Distance      string `toml:"distance"`
	// CreateCollection makes the store ensure the collection while opening.
	CreateCollection bool `toml:"create_collection"`
}

// Minimum throughput Cosmos DB accepts per mode.
const (
	minManualThroughput    = 400
	minAutoscaleThroughput = 1000
)

// Validate checks Cosmos DB configuration and fills defaults.
func (c *CosmosConfig) Validate() error {
	if c.Endpoint == "" && c.ServiceName == "" {
		return &ConfigError{Field: "endpoint", Reason: "or service_name is required"}
	}
	if c.Database == "" {
		return &ConfigError{Field: "database", Reason: "is required"}
	}
	if c.Collection == "" {
		return &ConfigError{Field: "collection", Reason: "is required"}
	}

	if c.VectorSize == 0 {
		c.VectorSize = DefaultVectorSize
	}
	if c.VectorSize < 0 {
		return &ConfigError{Field: "vector_size", Reason: "must be positive"}
	}

	if _, err := ParseDistance(c.Distance); err != nil {
		return &ConfigError{Field: "distance", Reason: err.Error()}
	}

	if c.MaxThroughput == 0 {
		c.MaxThroughput = minManualThroughput
		if c.AutoScale {
			c.MaxThroughput = minAutoscaleThroughput
		}
	}
	if c.AutoScale && c.MaxThroughput < minAutoscaleThroughput {
		return &ConfigError{Field: "max_throughput", Reason: fmt.Sprintf("must be at least %d with auto_scale", minAutoscaleThroughput)}
	}
	if !c.AutoScale && c.MaxThroughput < minManualThroughput {
		return &ConfigError{Field: "max_throughput", Reason: fmt.Sprintf("must be at least %d", minManualThroughput)}
	}
	return nil
}

// EndpointURL returns the account endpoint.
func (c *CosmosConfig) EndpointURL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.documents.azure.com:443/", c.ServiceName)
}

// OpenSearchConfig holds OpenSearch configuration
type OpenSearchConfig struct {
	Addresses    []string `toml:"addresses"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	IndexName    string   `toml:"index"`
	EmbeddingDim int      `toml:"embedding_dim"`
	Distance     string   `toml:"distance"`
	InsecureSSL  bool     `toml:"insecure_ssl"`
	// CreateIndex makes the store ensure the index while opening.
	CreateIndex bool `toml:"create_index"`
}

// Validate checks OpenSearch configuration
func (c *OpenSearchConfig) Validate() error {
	if len(c.Addresses) == 0 {
		return &ConfigError{Field: "addresses", Reason: "is required"}
	}
	if c.IndexName == "" {
		return &ConfigError{Field: "index", Reason: "is required"}
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = DefaultVectorSize
	}
	if c.EmbeddingDim < 0 {
		return &ConfigError{Field: "embedding_dim", Reason: "must be positive"}
	}
	if _, err := ParseDistance(c.Distance); err != nil {
		return &ConfigError{Field: "distance", Reason: err.Error()}
	}
	return nil
}
