package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// SearchHistoryStore implements store.SearchHistoryStore using PostgreSQL.
type SearchHistoryStore struct {
	pool *pgxpool.Pool
}

var _ store.SearchHistoryStore = (*SearchHistoryStore)(nil)

// NewSearchHistoryStore creates a new PostgreSQL-backed search history store.
func NewSearchHistoryStore(pool *pgxpool.Pool) *SearchHistoryStore {
	return &SearchHistoryStore{pool: pool}
}

// List returns the user's searches, newest first.
func (s *SearchHistoryStore) List(ctx context.Context, userID string) ([]models.SearchEntry, error) {
	return listSearches(ctx, s.pool, userID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSearches(ctx context.Context, q querier, userID string) ([]models.SearchEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT query, searched_at FROM search_history
		WHERE user_id = $1
		ORDER BY searched_at DESC
		LIMIT $2
	`, userID, models.SearchHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", mapPostgresError(err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SearchEntry, error) {
		var e models.SearchEntry
		err := row.Scan(&e.Query, &e.SearchedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan searches: %w", err)
	}
	return entries, nil
}

// Record upserts the query and trims the history in one transaction.
func (s *SearchHistoryStore) Record(ctx context.Context, userID string, entry models.SearchEntry) ([]models.SearchEntry, error) {
	var entries []models.SearchEntry
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO search_history (user_id, query, searched_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, lower(query)) DO UPDATE SET
				query = EXCLUDED.query,
				searched_at = EXCLUDED.searched_at
		`, userID, entry.Query, entry.SearchedAt); err != nil {
			return fmt.Errorf("failed to record search: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM search_history
			WHERE user_id = $1 AND ctid NOT IN (
				SELECT ctid FROM search_history
				WHERE user_id = $1
				ORDER BY searched_at DESC
				LIMIT $2
			)
		`, userID, models.SearchHistoryLimit); err != nil {
			return fmt.Errorf("failed to trim search history: %w", mapPostgresError(err))
		}

		var err error
		entries, err = listSearches(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Clear forgets every search by userID.
func (s *SearchHistoryStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM search_history WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear search history: %w", mapPostgresError(err))
	}
	return nil
}
