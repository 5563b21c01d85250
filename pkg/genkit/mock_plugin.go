package genkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockConfig holds mock plugin configuration
type MockConfig struct {
	Provider string // Provider prefix (default: "mock")
	Models   []ModelConfig
}

// MockPlugin implements a test-only genkit plugin with configurable embeddings
type MockPlugin struct {
	mu sync.RWMutex

	// provider prefix for embedder names
	provider string
	// responses maps model name to a text -> vector function
	responses map[string]func(text string) ([]float32, error)

	models []ModelConfig
}

// NewMockPlugin creates a new mock plugin for testing
func NewMockPlugin(cfg MockConfig) *MockPlugin {
	provider := cfg.Provider
	if provider == "" {
		provider = "mock"
	}
	return &MockPlugin{
		provider:  provider,
		models:    cfg.Models,
		responses: make(map[string]func(text string) ([]float32, error)),
	}
}

// Name returns the plugin name
func (p *MockPlugin) Name() string {
	return "mock"
}

// EmbedderName returns the registered name of model.
func (p *MockPlugin) EmbedderName(model string) string {
	return fmt.Sprintf("%s/%s", p.provider, model)
}

// Init implements api.Plugin interface - registers all mock embedders
func (p *MockPlugin) Init(ctx context.Context) []api.Action {
	actions := make([]api.Action, 0, len(p.models))
	for _, m := range p.models {
		actions = append(actions, p.defineEmbedder(m).(api.Action))
	}
	return actions
}

// defineEmbedder creates a mock embedder
func (p *MockPlugin) defineEmbedder(m ModelConfig) ai.Embedder {
	return ai.NewEmbedder(p.EmbedderName(m.Name), &ai.EmbedderOptions{
		Label:      fmt.Sprintf("Mock %s", m.Name),
		Dimensions: m.Dim,
	}, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		p.mu.RLock()
		fn, ok := p.responses[m.Name]
		p.mu.RUnlock()

		embeddings := make([]*ai.Embedding, len(req.Input))
		for i, doc := range req.Input {
			// Default: zero vectors
			vec := make([]float32, m.Dim)
			if ok && fn != nil {
				var err error
				if vec, err = fn(documentText(doc)); err != nil {
					return nil, err
				}
			}
			embeddings[i] = &ai.Embedding{Embedding: vec}
		}

		return &ai.EmbedResponse{Embeddings: embeddings}, nil
	})
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, part := range doc.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// SetEmbedderResponse sets a custom text -> vector function for an embedder
func (p *MockPlugin) SetEmbedderResponse(model string, fn func(text string) ([]float32, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[model] = fn
}

// SetEmbedderVectorResponse makes an embedder return vector for any input
func (p *MockPlugin) SetEmbedderVectorResponse(model string, vector []float32) {
	p.SetEmbedderResponse(model, func(string) ([]float32, error) {
		return vector, nil
	})
}

// SetEmbedderTextVectors makes an embedder return the vector mapped to each text.
// Unknown texts fail.
func (p *MockPlugin) SetEmbedderTextVectors(model string, vectors map[string][]float32) {
	p.SetEmbedderResponse(model, func(text string) ([]float32, error) {
		vec, ok := vectors[text]
		if !ok {
			return nil, fmt.Errorf("no mock embedding for %q", text)
		}
		return vec, nil
	})
}

// DefaultMockConfig returns a default mock config for testing
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Models: []ModelConfig{
			{Name: "test-embedding", Model: "test-embedding", Dim: 1536},
		},
	}
}
