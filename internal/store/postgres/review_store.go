package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// ReviewStore implements store.ReviewStore using PostgreSQL.
type ReviewStore struct {
	pool *pgxpool.Pool
}

var _ store.ReviewStore = (*ReviewStore)(nil)

// NewReviewStore creates a new PostgreSQL-backed review store.
func NewReviewStore(pool *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{pool: pool}
}

const reviewColumns = `review_id, recipe_id, user_id, rating, comment, created_at, updated_at`

func scanReview(row pgx.Row) (*models.Review, error) {
	var r models.Review
	if err := row.Scan(&r.ReviewID, &r.RecipeID, &r.UserID, &r.Rating, &r.Comment, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Upsert creates a review or updates the author's existing review for the recipe.
func (s *ReviewStore) Upsert(ctx context.Context, review *models.Review) (*models.Review, error) {
	id := review.ReviewID
	if id == "" {
		id = models.NewID("review")
	}
	now := time.Now()

	r, err := scanReview(s.pool.QueryRow(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT ON CONSTRAINT reviews_recipe_user_key DO UPDATE SET
			rating = EXCLUDED.rating,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
		RETURNING `+reviewColumns,
		id, review.RecipeID, review.UserID, review.Rating, review.Comment, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert review: %w", mapPostgresError(err))
	}
	return r, nil
}

// Get retrieves a review by ID.
func (s *ReviewStore) Get(ctx context.Context, reviewID string) (*models.Review, error) {
	r, err := scanReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE review_id = $1`, reviewID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", mapPostgresError(err))
	}
	return r, nil
}

// Delete removes a review.
func (s *ReviewStore) Delete(ctx context.Context, reviewID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reviews WHERE review_id = $1`, reviewID)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrReviewNotFound
	}
	return nil
}

// ListByRecipe returns one page of a recipe's reviews, newest first.
func (s *ReviewStore) ListByRecipe(ctx context.Context, recipeID string, page, limit int) ([]*models.Review, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE recipe_id = $1`, recipeID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", mapPostgresError(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE recipe_id = $1
		ORDER BY created_at DESC, review_id DESC
		LIMIT $2 OFFSET $3
	`, recipeID, limit, max((page-1)*limit, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", mapPostgresError(err))
	}
	defer rows.Close()

	reviews := make([]*models.Review, 0, limit)
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate reviews: %w", err)
	}

	return reviews, total, nil
}

// DeleteByRecipe removes every review of a recipe.
func (s *ReviewStore) DeleteByRecipe(ctx context.Context, recipeID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reviews WHERE recipe_id = $1`, recipeID); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", mapPostgresError(err))
	}
	return nil
}

// DeleteByUser removes every review written by userID.
func (s *ReviewStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reviews WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", mapPostgresError(err))
	}
	return nil
}

// Rating returns the average rating and review count of a recipe.
func (s *ReviewStore) Rating(ctx context.Context, recipeID string) (float64, int, error) {
	var avg float64
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(*)::int
		FROM reviews WHERE recipe_id = $1
	`, recipeID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute rating: %w", mapPostgresError(err))
	}
	return avg, count, nil
}
