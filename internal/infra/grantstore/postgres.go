package grantstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
	"grant-scout/internal/infra/db"
)

const defaultMaxResults = 50

// PostgresStore persists grants in Postgres through the managed pool.
type PostgresStore struct {
	db *db.Manager
}

// NewPostgresStore creates a store over the given connection manager.
func NewPostgresStore(manager *db.Manager) *PostgresStore {
	return &PostgresStore{db: manager}
}

// Initialize brings up the underlying pool.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	return s.db.Initialize(ctx)
}

// CheckHealth reports the pool's current health.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	if h := s.db.HealthSnapshot(); !h.IsHealthy {
		return apperr.New(apperr.KindUnavailable, "data store unhealthy")
	}
	return nil
}

// buildSearchQuery renders the filtered listing statement. Categories are
// stored comma-joined (see joinCategories), so the filter splits the
// column rather than assuming an array type.
func buildSearchQuery(q Query, limit int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	addCond := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Keyword != "" {
		args = append(args, q.Keyword)
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')",
			len(args), len(args)))
	}
	if q.Agency != "" {
		addCond("agency = $%d", q.Agency)
	}
	if q.Category != "" {
		addCond("$%d = ANY(string_to_array(categories, ','))", q.Category)
	}
	if !q.OpenAfter.IsZero() {
		addCond("deadline > $%d", q.OpenAfter)
	}

	query := `SELECT id, title, agency, description, amount, deadline, categories, source_url, created_at, updated_at
		FROM grants`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY deadline ASC LIMIT $%d", len(args))
	return query, args
}

// Search lists grants matching the query, soonest deadline first.
func (s *PostgresStore) Search(ctx context.Context, q Query) (*SearchResult, error) {
	limit := q.MaxResults
	if limit <= 0 || limit > 200 {
		limit = defaultMaxResults
	}
	query, args := buildSearchQuery(q, limit)

	var grants []entity.Grant
	err := s.db.WithSession(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("search grants: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			g, err := scanGrant(rows)
			if err != nil {
				return err
			}
			grants = append(grants, *g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return &SearchResult{Grants: grants, Total: len(grants)}, nil
}

// GetByID fetches a single grant.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*entity.Grant, error) {
	var grant *entity.Grant
	err := s.db.WithSession(ctx, func(ctx context.Context, conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT id, title, agency, description, amount, deadline, categories, source_url, created_at, updated_at
			 FROM grants WHERE id = $1`, id)
		g, err := scanGrant(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("grant %d", id), apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get grant %d: %w", id, err)
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Upsert inserts or refreshes a grant keyed by source URL, inside a
// transaction so partial writes never land.
func (s *PostgresStore) Upsert(ctx context.Context, grant *entity.Grant) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO grants (title, agency, description, amount, deadline, categories, source_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			 ON CONFLICT (source_url) DO UPDATE SET
			   title = EXCLUDED.title,
			   agency = EXCLUDED.agency,
			   description = EXCLUDED.description,
			   amount = EXCLUDED.amount,
			   deadline = EXCLUDED.deadline,
			   categories = EXCLUDED.categories,
			   updated_at = NOW()`,
			grant.Title, grant.Agency, grant.Description, grant.Amount,
			grant.Deadline, joinCategories(grant.Categories), grant.SourceURL)
		if err != nil {
			return fmt.Errorf("upsert grant: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*entity.Grant, error) {
	var (
		g          entity.Grant
		categories sql.NullString
		sourceURL  sql.NullString
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Agency, &g.Description, &g.Amount,
		&g.Deadline, &categories, &sourceURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if categories.Valid && categories.String != "" {
		g.Categories = splitCategories(categories.String)
	}
	g.SourceURL = sourceURL.String
	return &g, nil
}

// Categories are stored as a comma-joined text column to keep the scan path
// driver-agnostic.
func joinCategories(cats []string) string {
	return strings.Join(cats, ",")
}

func splitCategories(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
