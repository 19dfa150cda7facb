package adapters

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

type embedFunc func(ctx context.Context, opts ...ai.EmbedderOption) (*ai.EmbedResponse, error)

// GenkitEmbedder implements cyibot.Embedder with a Genkit embedder.
type GenkitEmbedder struct {
	embed        embedFunc
	embedderName string
}

// NewGenkitEmbedder creates an embedder backed by embedderName, for
// example "googleai/text-embedding-004".
func NewGenkitEmbedder(g *genkit.Genkit, embedderName string) *GenkitEmbedder {
	return &GenkitEmbedder{
		embed: func(ctx context.Context, opts ...ai.EmbedderOption) (*ai.EmbedResponse, error) {
			return genkit.Embed(ctx, g, opts...)
		},
		embedderName: embedderName,
	}
}

// Embed returns the embedding of text.
func (e *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embed(ctx,
		ai.WithEmbedderName(e.embedderName),
		ai.WithTextDocs(text),
	)
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.embedderName, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedder %s returned no embeddings", e.embedderName)
	}
	return resp.Embeddings[0].Embedding, nil
}
