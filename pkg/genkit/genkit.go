package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/pkg/errors"
)

// ModelConfig holds configuration for a single embedding model
type ModelConfig struct {
	Name  string `toml:"name"`  // Name used in log lines and by the mock plugin
	Model string `toml:"model"` // Model identifier sent to the provider
	Dim   int    `toml:"dim"`   // Embedding dimension
}

// Validate validates a model config
func (m *ModelConfig) Validate(index int) error {
	if m.Name == "" {
		return fmt.Errorf("models[%d].name is required", index)
	}
	if m.Model == "" {
		return fmt.Errorf("models[%d].model is required", index)
	}
	if m.Dim <= 0 {
		return fmt.Errorf("models[%d].dim must be positive", index)
	}
	return nil
}

// Config holds the embedding configuration.
//
// Embedder is the fully qualified embedder name, "<provider>/<model>". When empty the
// first configured model is used.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Embedder string         `toml:"embedder"`
}

// Validate checks genkit configuration
func (c *Config) Validate() error {
	if len(c.Provider.Models) == 0 {
		// embeddings are optional: without a model, text search is disabled
		return nil
	}
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if c.Embedder == "" {
		c.Embedder = c.Provider.qualified(c.Provider.Models[0].Model)
	}
	return nil
}

// Enabled reports whether an embedder is configured.
func (c *Config) Enabled() bool {
	return len(c.Provider.Models) > 0
}

var g *genkit.Genkit

// Init initializes the genkit package with the configured provider.
func Init(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "invalid config")
	}

	var plugins []api.Plugin
	if cfg.Enabled() {
		plugins = append(plugins, NewProviderPlugin(cfg.Provider))
	}

	g = genkit.Init(ctx, genkit.WithPlugins(plugins...))
	return nil
}

// InitForTest initializes genkit with a mock plugin for testing.
// Returns the mock plugin for configuring responses.
func InitForTest(ctx context.Context, cfg MockConfig) *MockPlugin {
	mockPlugin := NewMockPlugin(cfg)
	g = genkit.Init(ctx, genkit.WithPlugins(mockPlugin))
	return mockPlugin
}

// InitWithPlugins initializes genkit with custom plugins
func InitWithPlugins(ctx context.Context, plugins ...api.Plugin) {
	g = genkit.Init(ctx, genkit.WithPlugins(plugins...))
}

// Genkit returns the Genkit instance
func Genkit() *genkit.Genkit {
	return g
}
