package store

import (
	"context"
	"errors"
	"time"

	"github.com/kookbook/kookbook/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrRecipeNotFound = errors.New("recipe not found")
	ErrReviewNotFound = errors.New("review not found")
)

// ListUsersOptions specifies filters for the user directory.
type ListUsersOptions struct {
	Status        models.UserStatus // empty = all
	ExcludeStatus models.UserStatus // empty = none
	Role          models.Role
	Search        string // case-insensitive match on username, email or name
	Page          int    // 1-based
	Limit         int
}

// UserCounts summarizes account activity since a point in time.
type UserCounts struct {
	Joined             int // accounts created
	JoinedContributors int // accounts created with the user role
	Active             int // accounts with LastActive at or after the cutoff
}

// UserStore manages user accounts.
type UserStore interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetMany returns the users that exist among userIDs, keyed by ID.
	GetMany(ctx context.Context, userIDs []string) (map[string]*models.User, error)

	// Create returns ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, user *models.User) error

	// Update persists profile fields, status and last active time.
	// Email, TokenVersion, Favorites and the avatar are never written by
	// Update; they have their own targeted operations.
	Update(ctx context.Context, user *models.User) error

	// RecordLogin stamps LastActive with at and promotes an active or
	// inactive account to active. Other fields are left alone.
	RecordLogin(ctx context.Context, userID string, at time.Time) (*models.User, error)

	// List returns one page of users ordered by join date, newest first,
	// and the total number of matches.
	List(ctx context.Context, opts ListUsersOptions) ([]*models.User, int, error)

	// SetAvatar stores the avatar URL and storage path, returning the
	// storage path it replaced.
	SetAvatar(ctx context.Context, userID, url, storagePath string) (string, error)

	Delete(ctx context.Context, userID string) error

	Counts(ctx context.Context, since time.Time) (UserCounts, error)

	SetStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error)

	// IncrementTokenVersion atomically bumps the user's token version, revoking
	// every token issued before the call. Returns the new version.
	IncrementTokenVersion(ctx context.Context, userID string) (int, error)

	// ToggleFavorite adds or removes recipeID and reports whether it is now a favorite.
	ToggleFavorite(ctx context.Context, userID, recipeID string) (bool, error)

	// RemoveFavoriteEverywhere drops recipeID from every user's favorites.
	RemoveFavoriteEverywhere(ctx context.Context, recipeID string) error

	Ping(ctx context.Context) error
}

// RecipeSort selects the ordering of ListRecipes.
type RecipeSort string

const (
	SortNewest   RecipeSort = "newest"
	SortTitle    RecipeSort = "title"
	SortTrending RecipeSort = "trending"
	SortRating   RecipeSort = "rating"
)

// ListRecipesOptions specifies filters for listing recipes
type ListRecipesOptions struct {
	Status     models.RecipeStatus // empty = all
	Category   string
	Difficulty string
	AuthorID   string
	Search     string // case-insensitive match on title or description
	Sort       RecipeSort
	Page       int // 1-based
	Limit      int
}

// RecipeStore manages recipes.
type RecipeStore interface {
	Create(ctx context.Context, recipe *models.Recipe) error
	Get(ctx context.Context, recipeID string) (*models.Recipe, error)
	Update(ctx context.Context, recipe *models.Recipe) error
	Delete(ctx context.Context, recipeID string) error
	List(ctx context.Context, opts ListRecipesOptions) ([]*models.Recipe, int, error)
	SetStatus(ctx context.Context, recipeID string, status models.RecipeStatus) (*models.Recipe, error)

	// ToggleLike adds or removes userID and returns the resulting state and like count.
	ToggleLike(ctx context.Context, recipeID, userID string) (liked bool, count int, err error)

	// AddView records a unique view by userID and returns the view count.
	AddView(ctx context.Context, recipeID, userID string) (int, error)

	// Random returns a random published recipe with at least minLikes likes
	// and minReviews reviews, or ErrRecipeNotFound when none qualifies.
	Random(ctx context.Context, minLikes, minReviews int) (*models.Recipe, error)

	// SetImage stores the image URL and storage path, returning the storage
	// path it replaced.
	SetImage(ctx context.Context, recipeID, url, storagePath string) (string, error)

	// DeleteByAuthor removes every recipe by authorID and returns them.
	DeleteByAuthor(ctx context.Context, authorID string) ([]*models.Recipe, error)
}

// ReviewStore manages recipe reviews.
type ReviewStore interface {
	// Upsert creates the review or replaces the rating and comment of the
	// caller's existing review for the same recipe.
	Upsert(ctx context.Context, review *models.Review) (*models.Review, error)
	Get(ctx context.Context, reviewID string) (*models.Review, error)
	Delete(ctx context.Context, reviewID string) error
	ListByRecipe(ctx context.Context, recipeID string, page, limit int) ([]*models.Review, int, error)
	DeleteByRecipe(ctx context.Context, recipeID string) error
	DeleteByUser(ctx context.Context, userID string) error

	// Rating returns the mean rating and number of reviews for recipeID.
	Rating(ctx context.Context, recipeID string) (float64, int, error)
}

// SearchHistoryStore keeps each user's most recent searches.
type SearchHistoryStore interface {
	// List returns the user's searches, most recent first.
	List(ctx context.Context, userID string) ([]models.SearchEntry, error)

	// Record moves query to the front of the user's history, dropping any
	// earlier copy and trimming to models.SearchHistoryLimit entries.
	Record(ctx context.Context, userID string, entry models.SearchEntry) ([]models.SearchEntry, error)

	Clear(ctx context.Context, userID string) error
}

// ActivityStore keeps the admin activity feed.
type ActivityStore interface {
	Create(ctx context.Context, entry *models.ActivityEntry) error

	// List returns one page of entries, newest first, and the total count.
	List(ctx context.Context, page, limit int) ([]*models.ActivityEntry, int, error)

	DeleteByUser(ctx context.Context, userID string) error

	// Prune removes entries created before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// StatsStore aggregates daily site statistics.
type StatsStore interface {
	// RecordView adds a view for day unless the viewer already viewed the
	// recipe that day.
	RecordView(ctx context.Context, day string, view models.View) error
	RecordNewUser(ctx context.Context, day, userID string) error
	RecordActiveUser(ctx context.Context, day, userID string) error

	// List returns the days from sinceDay onwards, newest first.
	List(ctx context.Context, sinceDay string) ([]*models.DailyStat, error)

	// RemoveUser drops userID from every day.
	RemoveUser(ctx context.Context, userID string) error
}

// Stores bundles the stores used by the HTTP server.
type Stores struct {
	Users         UserStore
	Recipes       RecipeStore
	Reviews       ReviewStore
	SearchHistory SearchHistoryStore
	Activity      ActivityStore
	Stats         StatsStore
}

// Validate checks that every store is set.
func (s Stores) Validate() error {
	if s.Users == nil || s.Recipes == nil || s.Reviews == nil {
		return errors.New("all stores (users, recipes, reviews) are required")
	}
	if s.SearchHistory == nil || s.Activity == nil || s.Stats == nil {
		return errors.New("search history, activity and stats stores are required")
	}
	return nil
}
