// Package grantstore provides access to stored grants. The Postgres-backed
// store runs through the managed connection pool; the fallback store keeps
// the feature alive with labeled empty results when the data store is out.
package grantstore

import (
	"context"
	"time"

	"grant-scout/internal/domain/entity"
)

// Query narrows a grant listing.
type Query struct {
	Keyword    string
	Agency     string
	Category   string
	OpenAfter  time.Time
	MaxResults int
}

// SearchResult carries grants plus degradation markers so handlers can
// surface partial answers honestly.
type SearchResult struct {
	Grants   []entity.Grant `json:"grants"`
	Total    int            `json:"total"`
	Fallback bool           `json:"fallback,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Store is the grant persistence capability.
type Store interface {
	Search(ctx context.Context, q Query) (*SearchResult, error)
	GetByID(ctx context.Context, id int64) (*entity.Grant, error)
	Upsert(ctx context.Context, grant *entity.Grant) error
}
