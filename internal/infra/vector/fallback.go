package vector

import (
	"context"
	"log/slog"
	"time"

	"grant-scout/internal/domain/entity"
)

// FallbackSearcher keeps semantic search answering with labeled empty
// results while embeddings or the data store are down. It never reports
// unavailable.
type FallbackSearcher struct {
	delay time.Duration
}

// NewFallbackSearcher creates the fallback; zero or negative delay picks
// the default.
func NewFallbackSearcher(delay time.Duration) *FallbackSearcher {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &FallbackSearcher{delay: delay}
}

func (s *FallbackSearcher) Initialize(context.Context) error { return nil }

func (s *FallbackSearcher) CheckHealth(context.Context) error { return nil }

func (s *FallbackSearcher) SimilarGrants(ctx context.Context, text string, _ int) (*SearchResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}

	slog.Debug("fallback searcher served empty result", slog.Int("query_len", len(text)))
	return &SearchResult{
		Matches:  []entity.ScoredGrant{},
		Fallback: true,
		Message:  "semantic search is temporarily limited, try keyword search instead",
	}, nil
}
