package vector

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"grant-scout/internal/apperr"
)

// OpenAIEmbedder produces embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder. An empty model picks
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey string, model string) *OpenAIEmbedder {
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{client: openai.NewClient(apiKey), model: m}
}

// Embed returns the embedding for one input text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "create embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperr.New(apperr.KindInternal, "embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// Ping verifies the embeddings API with a trivial request.
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("embeddings api unreachable: %w", err)
	}
	return nil
}
