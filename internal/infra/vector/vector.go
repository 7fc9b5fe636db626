// Package vector implements semantic grant search: query text is embedded
// and matched against stored grant embeddings by cosine distance. The
// fallback searcher returns labeled empty results when embeddings or the
// data store are unavailable.
package vector

import (
	"context"

	"grant-scout/internal/domain/entity"
)

// Searcher is the semantic search capability.
type Searcher interface {
	SimilarGrants(ctx context.Context, text string, limit int) (*SearchResult, error)
}

// SearchResult carries scored grants plus degradation markers.
type SearchResult struct {
	Matches  []entity.ScoredGrant `json:"matches"`
	Fallback bool                 `json:"fallback,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// Embedder turns text into an embedding vector. Satisfied by the OpenAI
// client wrapper and by test stubs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
