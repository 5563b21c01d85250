package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/openai/openai-go/option"
)

const defaultProvider = "openai"

// ProviderConfig configures an OpenAI-compatible embeddings endpoint
// (OpenAI, Azure OpenAI, Ark, vLLM...).
type ProviderConfig struct {
	Name    string        `toml:"name"` // provider prefix of registered embedders, default "openai"
	APIKey  string        `toml:"api_key"`
	BaseURL string        `toml:"base_url"`
	Models  []ModelConfig `toml:"models"`
}

// Validate checks provider configuration
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		c.Name = defaultProvider
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	for i := range c.Models {
		if err := c.Models[i].Validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *ProviderConfig) qualified(model string) string {
	name := c.Name
	if name == "" {
		name = defaultProvider
	}
	return name + "/" + model
}

// ProviderPlugin registers the configured embedders through the OpenAI-compatible plugin.
type ProviderPlugin struct {
	compat_oai.OpenAICompatible
	models []ModelConfig
}

// NewProviderPlugin creates the genkit plugin for cfg.
func NewProviderPlugin(cfg ProviderConfig) *ProviderPlugin {
	name := cfg.Name
	if name == "" {
		name = defaultProvider
	}
	return &ProviderPlugin{
		OpenAICompatible: compat_oai.OpenAICompatible{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Provider: name,
			Opts: []option.RequestOption{
				option.WithHeader("Content-Type", "application/json"),
			},
		},
		models: cfg.Models,
	}
}

// Name returns the plugin name
func (p *ProviderPlugin) Name() string {
	return p.Provider
}

// Init implements api.Plugin interface - registers all embedders
func (p *ProviderPlugin) Init(ctx context.Context) []api.Action {
	p.OpenAICompatible.Init(ctx)

	actions := make([]api.Action, 0, len(p.models))
	for _, m := range p.models {
		embedder := p.DefineEmbedder(p.Provider, m.Model, &ai.EmbedderOptions{
			Label:      fmt.Sprintf("%s %s", p.Provider, m.Name),
			Dimensions: m.Dim,
		})
		actions = append(actions, embedder.(api.Action))
	}
	return actions
}
