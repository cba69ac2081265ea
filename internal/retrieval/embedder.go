package retrieval

import (
	"context"
	"errors"
	"fmt"

	"toolscout/internal/ollama"
)

// ErrEmbeddingUnavailable marks a transient embedding-provider failure.
// Retrieval for the current turn fails with it unless metadata-only
// fallback is explicitly enabled.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Embedder turns text into a fixed-dimension vector. Identical text must
// yield consistent neighbors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OllamaEmbedder implements Embedder on top of a local Ollama instance.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder creates an OllamaEmbedder using the given client and model name.
func NewOllamaEmbedder(client *ollama.Client, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model}
}

// Embed returns the embedding vector for text. Any provider failure is
// reported as ErrEmbeddingUnavailable so callers can distinguish it from
// hard errors.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}
