package memory

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// RecipeStore implements store.RecipeStore using in-memory storage.
type RecipeStore struct {
	mu sync.RWMutex

	recipes map[string]*models.Recipe // recipe_id -> Recipe

	// reviews supplies ratings for SortRating; nil means every recipe is unrated.
	reviews *ReviewStore
}

var _ store.RecipeStore = (*RecipeStore)(nil)

// NewRecipeStore creates a new in-memory recipe store. reviews may be nil.
func NewRecipeStore(reviews *ReviewStore) *RecipeStore {
	return &RecipeStore{
		recipes: make(map[string]*models.Recipe),
		reviews: reviews,
	}
}

// Create stores a new recipe.
func (s *RecipeStore) Create(ctx context.Context, recipe *models.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	clone := recipe.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.recipes[clone.RecipeID] = clone

	return nil
}

// Get retrieves a recipe by ID.
func (s *RecipeStore) Get(ctx context.Context, recipeID string) (*models.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipe, exists := s.recipes[recipeID]
	if !exists {
		return nil, store.ErrRecipeNotFound
	}

	return recipe.Clone(), nil
}

// Update replaces the editable fields of a recipe. Likes and views are kept.
func (s *RecipeStore) Update(ctx context.Context, recipe *models.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.recipes[recipe.RecipeID]
	if !exists {
		return store.ErrRecipeNotFound
	}

	clone := recipe.Clone()
	clone.LikedBy = existing.LikedBy
	clone.ViewedBy = existing.ViewedBy
	clone.AuthorID = existing.AuthorID
	clone.ImageStoragePath = existing.ImageStoragePath
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	s.recipes[clone.RecipeID] = clone

	return nil
}

// Delete removes a recipe.
func (s *RecipeStore) Delete(ctx context.Context, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recipes[recipeID]; !exists {
		return store.ErrRecipeNotFound
	}
	delete(s.recipes, recipeID)

	return nil
}

// List returns one page of recipes matching opts and the total match count.
func (s *RecipeStore) List(ctx context.Context, opts store.ListRecipesOptions) ([]*models.Recipe, int, error) {
	s.mu.RLock()
	matched := make([]*models.Recipe, 0, len(s.recipes))
	for _, recipe := range s.recipes {
		if matchesRecipe(recipe, opts) {
			matched = append(matched, recipe.Clone())
		}
	}
	s.mu.RUnlock()

	if opts.Sort == store.SortRating && s.reviews != nil {
		for _, recipe := range matched {
			recipe.AverageRating, recipe.ReviewCount = s.reviews.ratingFor(recipe.RecipeID)
		}
	}

	sortRecipes(matched, opts.Sort)

	return paginate(matched, opts.Page, opts.Limit), len(matched), nil
}

func matchesRecipe(recipe *models.Recipe, opts store.ListRecipesOptions) bool {
	if opts.Status != "" && recipe.Status != opts.Status {
		return false
	}
	if opts.Category != "" && recipe.Category != opts.Category {
		return false
	}
	if opts.Difficulty != "" && recipe.Difficulty != opts.Difficulty {
		return false
	}
	if opts.AuthorID != "" && recipe.AuthorID != opts.AuthorID {
		return false
	}
	if opts.Search != "" {
		needle := strings.ToLower(opts.Search)
		if !strings.Contains(strings.ToLower(recipe.Title), needle) &&
			!strings.Contains(strings.ToLower(recipe.Description), needle) {
			return false
		}
	}
	return true
}

func sortRecipes(recipes []*models.Recipe, sort store.RecipeSort) {
	newest := func(a, b *models.Recipe) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	}

	switch sort {
	case store.SortTitle:
		slices.SortStableFunc(recipes, func(a, b *models.Recipe) int {
			return cmp.Compare(a.Title, b.Title)
		})
	case store.SortTrending:
		slices.SortStableFunc(recipes, func(a, b *models.Recipe) int {
			return cmp.Or(cmp.Compare(b.LikeCount(), a.LikeCount()), newest(a, b))
		})
	case store.SortRating:
		slices.SortStableFunc(recipes, func(a, b *models.Recipe) int {
			return cmp.Or(
				cmp.Compare(b.AverageRating, a.AverageRating),
				cmp.Compare(b.ReviewCount, a.ReviewCount),
				cmp.Compare(b.LikeCount(), a.LikeCount()),
				newest(a, b),
			)
		})
	default:
		slices.SortStableFunc(recipes, newest)
	}
}

// SetStatus sets the moderation status of a recipe.
func (s *RecipeStore) SetStatus(ctx context.Context, recipeID string, status models.RecipeStatus) (*models.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, exists := s.recipes[recipeID]
	if !exists {
		return nil, store.ErrRecipeNotFound
	}

	recipe.Status = status
	recipe.UpdatedAt = time.Now()

	return recipe.Clone(), nil
}

// ToggleLike adds or removes userID from the recipe's likes.
func (s *RecipeStore) ToggleLike(ctx context.Context, recipeID, userID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, exists := s.recipes[recipeID]
	if !exists {
		return false, 0, store.ErrRecipeNotFound
	}

	if idx := slices.Index(recipe.LikedBy, userID); idx >= 0 {
		recipe.LikedBy = slices.Delete(recipe.LikedBy, idx, idx+1)
		return false, len(recipe.LikedBy), nil
	}

	recipe.LikedBy = append(recipe.LikedBy, userID)
	return true, len(recipe.LikedBy), nil
}

// AddView records a unique view.
func (s *RecipeStore) AddView(ctx context.Context, recipeID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, exists := s.recipes[recipeID]
	if !exists {
		return 0, store.ErrRecipeNotFound
	}

	if !slices.Contains(recipe.ViewedBy, userID) {
		recipe.ViewedBy = append(recipe.ViewedBy, userID)
	}

	return len(recipe.ViewedBy), nil
}

// Random picks a published recipe meeting the like and review thresholds.
func (s *RecipeStore) Random(ctx context.Context, minLikes, minReviews int) (*models.Recipe, error) {
	s.mu.RLock()
	var pool []*models.Recipe
	for _, recipe := range s.recipes {
		if recipe.Status == models.RecipeStatusPublished && recipe.LikeCount() >= minLikes {
			pool = append(pool, recipe.Clone())
		}
	}
	s.mu.RUnlock()

	if minReviews > 0 {
		pool = slices.DeleteFunc(pool, func(recipe *models.Recipe) bool {
			if s.reviews == nil {
				return true
			}
			_, count := s.reviews.ratingFor(recipe.RecipeID)
			return count < minReviews
		})
	}

	if len(pool) == 0 {
		return nil, store.ErrRecipeNotFound
	}
	return pool[rand.IntN(len(pool))], nil
}

// SetImage replaces the recipe image and returns the previous storage path.
func (s *RecipeStore) SetImage(ctx context.Context, recipeID, url, storagePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, exists := s.recipes[recipeID]
	if !exists {
		return "", store.ErrRecipeNotFound
	}

	previous := recipe.ImageStoragePath
	recipe.ImageURL = &url
	recipe.ImageStoragePath = storagePath
	recipe.UpdatedAt = time.Now()

	return previous, nil
}

// DeleteByAuthor removes and returns every recipe written by authorID.
func (s *RecipeStore) DeleteByAuthor(ctx context.Context, authorID string) ([]*models.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []*models.Recipe
	for id, recipe := range s.recipes {
		if recipe.AuthorID == authorID {
			deleted = append(deleted, recipe)
			delete(s.recipes, id)
		}
	}
	return deleted, nil
}
