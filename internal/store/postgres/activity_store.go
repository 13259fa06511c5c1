package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// ActivityStore implements store.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

var _ store.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a new PostgreSQL-backed activity store.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Create inserts an entry.
func (s *ActivityStore) Create(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.ActivityID == "" {
		entry.ActivityID = models.NewID("activity")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity (activity_id, user_id, type, message, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ActivityID, entry.UserID, entry.Type, entry.Message, entry.TargetID, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", mapPostgresError(err))
	}
	return nil
}

// List returns one page of entries, newest first.
func (s *ActivityStore) List(ctx context.Context, page, limit int) ([]*models.ActivityEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity: %w", mapPostgresError(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT activity_id, user_id, type, message, target_id, metadata, created_at
		FROM activity
		ORDER BY created_at DESC, activity_id DESC
		LIMIT $1 OFFSET $2
	`, limit, max((page-1)*limit, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity: %w", mapPostgresError(err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.ActivityEntry, error) {
		var e models.ActivityEntry
		var metadata []byte
		if err := row.Scan(&e.ActivityID, &e.UserID, &e.Type, &e.Message, &e.TargetID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		return &e, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan activity: %w", err)
	}

	return entries, total, nil
}

// DeleteByUser removes every entry recorded for userID.
func (s *ActivityStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM activity WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete activity: %w", mapPostgresError(err))
	}
	return nil
}

// Prune removes entries older than cutoff.
func (s *ActivityStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activity WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", mapPostgresError(err))
	}
	return int(tag.RowsAffected()), nil
}
