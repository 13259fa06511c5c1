package models

import (
	"slices"
	"time"
)

// RecipeStatus is the moderation state of a recipe.
type RecipeStatus string

const (
	RecipeStatusPublished RecipeStatus = "published"
	RecipeStatusPending   RecipeStatus = "pending"
	RecipeStatusRejected  RecipeStatus = "rejected"
	RecipeStatusDraft     RecipeStatus = "draft"
)

// RecipeStatuses lists every moderation state.
var RecipeStatuses = []RecipeStatus{
	RecipeStatusPublished,
	RecipeStatusPending,
	RecipeStatusRejected,
	RecipeStatusDraft,
}

// Valid reports whether s is a known moderation state.
func (s RecipeStatus) Valid() bool {
	return slices.Contains(RecipeStatuses, s)
}

// Difficulties lists the accepted difficulty values.
var Difficulties = []string{"Easy", "Medium", "Hard"}

type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// Recipe is a user-submitted recipe.
type Recipe struct {
	RecipeID     string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     string       `json:"category"`
	PrepTime     int          `json:"prepTime"`
	CookTime     int          `json:"cookTime"`
	Servings     int          `json:"servings"`
	Difficulty   string       `json:"difficulty"`
	Ingredients  []Ingredient `json:"ingredients"`
	Instructions []string     `json:"instructions"`
	ImageURL     *string      `json:"imageUrl"`
	AuthorID     string       `json:"authorId"`
	Status       RecipeStatus `json:"status"`
	LikedBy      []string     `json:"likedBy"`
	ViewedBy     []string     `json:"viewedBy"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	// Populated by list queries that sort by rating.
	AverageRating float64 `json:"averageRating,omitempty"`
	ReviewCount   int     `json:"reviewCount,omitempty"`

	// ImageStoragePath is the upload path relative to the upload root.
	ImageStoragePath string `json:"-"`
}

// LikeCount returns the number of distinct users that liked the recipe.
func (r *Recipe) LikeCount() int { return len(r.LikedBy) }

// ViewCount returns the number of distinct users that viewed the recipe.
func (r *Recipe) ViewCount() int { return len(r.ViewedBy) }

// Clone returns a deep copy of the recipe.
func (r *Recipe) Clone() *Recipe {
	clone := *r
	clone.Ingredients = slices.Clone(r.Ingredients)
	clone.Instructions = slices.Clone(r.Instructions)
	clone.LikedBy = slices.Clone(r.LikedBy)
	clone.ViewedBy = slices.Clone(r.ViewedBy)
	return &clone
}

// RecipeView is the JSON shape returned to clients.
type RecipeView struct {
	*Recipe
	LikeCount int `json:"likeCount"`
	ViewCount int `json:"viewCount"`
}

// View wraps r with its derived counters.
func (r *Recipe) View() RecipeView {
	if r.LikedBy == nil {
		r.LikedBy = []string{}
	}
	if r.ViewedBy == nil {
		r.ViewedBy = []string{}
	}
	return RecipeView{Recipe: r, LikeCount: r.LikeCount(), ViewCount: r.ViewCount()}
}
