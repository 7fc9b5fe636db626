package vector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"grant-scout/internal/domain/entity"
	"grant-scout/internal/infra/db"
)

const defaultSearchLimit = 10

// PostgresSearcher matches query embeddings against grant embeddings stored
// in a pgvector column, ranked by cosine distance.
type PostgresSearcher struct {
	db       *db.Manager
	embedder Embedder
}

// NewPostgresSearcher creates a searcher over the managed pool.
func NewPostgresSearcher(manager *db.Manager, embedder Embedder) *PostgresSearcher {
	return &PostgresSearcher{db: manager, embedder: embedder}
}

// Initialize verifies both halves of the capability: the pool and the
// embeddings API.
func (s *PostgresSearcher) Initialize(ctx context.Context) error {
	if err := s.db.Initialize(ctx); err != nil {
		return err
	}
	if pinger, ok := s.embedder.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// CheckHealth reports on the data-store half; the embeddings API is only
// probed on use to stay inside its budget.
func (s *PostgresSearcher) CheckHealth(ctx context.Context) error {
	if h := s.db.HealthSnapshot(); !h.IsHealthy {
		return fmt.Errorf("vector search data store unhealthy")
	}
	return nil
}

// SimilarGrants embeds the query text and returns the closest grants by
// cosine similarity, best match first.
func (s *PostgresSearcher) SimilarGrants(ctx context.Context, text string, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > 50 {
		limit = defaultSearchLimit
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var matches []entity.ScoredGrant
	err = s.db.WithSession(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, title, agency, description, amount, deadline,
			        1 - (embedding <=> $1) AS score
			 FROM grants
			 WHERE embedding IS NOT NULL
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			pgvector.NewVector(embedding), limit)
		if err != nil {
			return fmt.Errorf("similarity query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var sg entity.ScoredGrant
			if err := rows.Scan(&sg.Grant.ID, &sg.Grant.Title, &sg.Grant.Agency,
				&sg.Grant.Description, &sg.Grant.Amount, &sg.Grant.Deadline, &sg.Score); err != nil {
				return err
			}
			matches = append(matches, sg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return &SearchResult{Matches: matches}, nil
}
