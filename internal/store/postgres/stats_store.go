package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// StatsStore implements store.StatsStore using PostgreSQL. Views live in
// their own table so the (day, viewer, recipe) key deduplicates them.
type StatsStore struct {
	pool *pgxpool.Pool
}

var _ store.StatsStore = (*StatsStore)(nil)

// NewStatsStore creates a new PostgreSQL-backed stats store.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// RecordView adds a view unless the viewer already saw the recipe on day.
func (s *StatsStore) RecordView(ctx context.Context, day string, view models.View) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_views (day, viewer_id, recipe_id, viewed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT daily_views_pkey DO NOTHING
	`, day, view.ViewerID, view.RecipeID, view.ViewedAt)
	if err != nil {
		return fmt.Errorf("failed to record view: %w", mapPostgresError(err))
	}
	return nil
}

// RecordNewUser adds userID to the day's sign-ups.
func (s *StatsStore) RecordNewUser(ctx context.Context, day, userID string) error {
	return s.addToDay(ctx, "new_users", day, userID)
}

// RecordActiveUser adds userID to the day's active users.
func (s *StatsStore) RecordActiveUser(ctx context.Context, day, userID string) error {
	return s.addToDay(ctx, "active_users", day, userID)
}

// addToDay appends userID to column unless present. column is never user input.
func (s *StatsStore) addToDay(ctx context.Context, column, day, userID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO daily_stats (day, %[1]s) VALUES ($1, ARRAY[$2::text])
		ON CONFLICT (day) DO UPDATE SET
			%[1]s = CASE
				WHEN $2 = ANY(daily_stats.%[1]s) THEN daily_stats.%[1]s
				ELSE array_append(daily_stats.%[1]s, $2)
			END,
			updated_at = now()
	`, column), day, userID)
	if err != nil {
		return fmt.Errorf("failed to update daily stats: %w", mapPostgresError(err))
	}
	return nil
}

// List returns the days on or after sinceDay, newest first.
func (s *StatsStore) List(ctx context.Context, sinceDay string) ([]*models.DailyStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.day,
			COALESCE(st.new_users, '{}'),
			COALESCE(st.active_users, '{}')
		FROM (
			SELECT day FROM daily_stats WHERE day >= $1
			UNION
			SELECT day FROM daily_views WHERE day >= $1
		) d
		LEFT JOIN daily_stats st ON st.day = d.day
		ORDER BY d.day DESC
	`, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", mapPostgresError(err))
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.DailyStat, error) {
		stat := &models.DailyStat{Views: []models.View{}}
		err := row.Scan(&stat.Date, &stat.NewUsers, &stat.ActiveUsers)
		return stat, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily stats: %w", err)
	}

	byDay := make(map[string]*models.DailyStat, len(stats))
	for _, stat := range stats {
		byDay[stat.Date] = stat
	}

	viewRows, err := s.pool.Query(ctx, `
		SELECT day, viewer_id, recipe_id, viewed_at FROM daily_views
		WHERE day >= $1
		ORDER BY viewed_at
	`, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily views: %w", mapPostgresError(err))
	}
	defer viewRows.Close()

	for viewRows.Next() {
		var day string
		var v models.View
		if err := viewRows.Scan(&day, &v.ViewerID, &v.RecipeID, &v.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily view: %w", err)
		}
		if stat, ok := byDay[day]; ok {
			stat.Views = append(stat.Views, v)
		}
	}

	if err := viewRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily views: %w", err)
	}

	return stats, nil
}

// RemoveUser drops userID from every day.
func (s *StatsStore) RemoveUser(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE daily_stats SET
				new_users = array_remove(new_users, $1),
				active_users = array_remove(active_users, $1),
				updated_at = now()
			WHERE $1 = ANY(new_users) OR $1 = ANY(active_users)
		`, userID); err != nil {
			return fmt.Errorf("failed to remove user from daily stats: %w", mapPostgresError(err))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM daily_views WHERE viewer_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to remove user views: %w", mapPostgresError(err))
		}
		return nil
	})
}
