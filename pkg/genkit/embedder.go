package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Embedder turns text into a vector with one registered genkit embedder.
type Embedder struct {
	g    *genkit.Genkit
	name string
}

// NewEmbedder binds the embedder registered under name.
func NewEmbedder(g *genkit.Genkit, name string) *Embedder {
	return &Embedder{g: g, name: name}
}

// Name returns the embedder name.
func (e *Embedder) Name() string {
	return e.name
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := genkit.Embed(ctx, e.g, ai.WithEmbedderName(e.name), ai.WithTextDocs(text))
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.name, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response from %s", e.name)
	}

	return resp.Embeddings[0].Embedding, nil
}
