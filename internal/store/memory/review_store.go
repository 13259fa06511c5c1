package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// ReviewStore implements store.ReviewStore using in-memory storage.
type ReviewStore struct {
	mu sync.RWMutex

	reviews map[string]*models.Review // review_id -> Review
	byOwner map[ownerKey]string       // (recipe_id, user_id) -> review_id
}

type ownerKey struct {
	recipeID string
	userID   string
}

var _ store.ReviewStore = (*ReviewStore)(nil)

// NewReviewStore creates a new in-memory review store.
func NewReviewStore() *ReviewStore {
	return &ReviewStore{
		reviews: make(map[string]*models.Review),
		byOwner: make(map[ownerKey]string),
	}
}

// Upsert creates a review or updates the author's existing one for the recipe.
func (s *ReviewStore) Upsert(ctx context.Context, review *models.Review) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := ownerKey{recipeID: review.RecipeID, userID: review.UserID}

	if id, exists := s.byOwner[key]; exists {
		existing := s.reviews[id]
		existing.Rating = review.Rating
		existing.Comment = review.Comment
		existing.UpdatedAt = now
		clone := *existing
		return &clone, nil
	}

	clone := *review
	if clone.ReviewID == "" {
		clone.ReviewID = models.NewID("review")
	}
	clone.CreatedAt = now
	clone.UpdatedAt = now

	s.reviews[clone.ReviewID] = &clone
	s.byOwner[key] = clone.ReviewID

	out := clone
	return &out, nil
}

// Get retrieves a review by ID.
func (s *ReviewStore) Get(ctx context.Context, reviewID string) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	review, exists := s.reviews[reviewID]
	if !exists {
		return nil, store.ErrReviewNotFound
	}

	clone := *review
	return &clone, nil
}

// Delete removes a review.
func (s *ReviewStore) Delete(ctx context.Context, reviewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, exists := s.reviews[reviewID]
	if !exists {
		return store.ErrReviewNotFound
	}

	delete(s.byOwner, ownerKey{recipeID: review.RecipeID, userID: review.UserID})
	delete(s.reviews, reviewID)

	return nil
}

// ListByRecipe returns one page of a recipe's reviews, newest first.
func (s *ReviewStore) ListByRecipe(ctx context.Context, recipeID string, page, limit int) ([]*models.Review, int, error) {
	s.mu.RLock()
	matched := make([]*models.Review, 0)
	for _, review := range s.reviews {
		if review.RecipeID == recipeID {
			clone := *review
			matched = append(matched, &clone)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Review) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return paginate(matched, page, limit), len(matched), nil
}

// DeleteByRecipe removes every review of a recipe.
func (s *ReviewStore) DeleteByRecipe(ctx context.Context, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, review := range s.reviews {
		if review.RecipeID == recipeID {
			delete(s.byOwner, ownerKey{recipeID: review.RecipeID, userID: review.UserID})
			delete(s.reviews, id)
		}
	}

	return nil
}

// DeleteByUser removes every review written by userID.
func (s *ReviewStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, review := range s.reviews {
		if review.UserID == userID {
			delete(s.byOwner, ownerKey{recipeID: review.RecipeID, userID: review.UserID})
			delete(s.reviews, id)
		}
	}

	return nil
}

// Rating returns the average rating and review count of a recipe.
func (s *ReviewStore) Rating(ctx context.Context, recipeID string) (float64, int, error) {
	avg, count := s.ratingFor(recipeID)
	return avg, count, nil
}

// ratingFor returns the average rating and review count of a recipe.
func (s *ReviewStore) ratingFor(recipeID string) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, count := 0, 0
	for _, review := range s.reviews {
		if review.RecipeID == recipeID {
			sum += review.Rating
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}

	return float64(sum) / float64(count), count
}
