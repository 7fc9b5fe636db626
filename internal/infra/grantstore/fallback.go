package grantstore

import (
	"context"
	"log/slog"
	"time"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
)

// FallbackStore answers every query with labeled empty results. It never
// reports unavailable; its whole job is to keep the search surface up when
// the data store is not.
type FallbackStore struct {
	delay time.Duration
}

// NewFallbackStore creates the fallback. delay simulates a small amount of
// work so downstream timing assumptions stay realistic; zero or negative
// picks the default.
func NewFallbackStore(delay time.Duration) *FallbackStore {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &FallbackStore{delay: delay}
}

func (s *FallbackStore) Initialize(context.Context) error { return nil }

func (s *FallbackStore) CheckHealth(context.Context) error { return nil }

func (s *FallbackStore) Search(ctx context.Context, q Query) (*SearchResult, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	slog.Debug("fallback grant store served empty search",
		slog.String("keyword", q.Keyword))
	return &SearchResult{
		Grants:   []entity.Grant{},
		Total:    0,
		Fallback: true,
		Message:  "grant search is temporarily limited, showing no results",
	}, nil
}

func (s *FallbackStore) GetByID(ctx context.Context, id int64) (*entity.Grant, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return nil, apperr.New(apperr.KindNotFound, "grant details are temporarily unavailable")
}

func (s *FallbackStore) Upsert(ctx context.Context, _ *entity.Grant) error {
	if err := s.pause(ctx); err != nil {
		return err
	}
	slog.Warn("fallback grant store dropped a write")
	return nil
}

func (s *FallbackStore) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}
