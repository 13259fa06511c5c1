package models

import "time"

// Review is a rating left by a user on a recipe. At most one review exists per
// (RecipeID, UserID) pair.
type Review struct {
	ReviewID  string    `json:"id"`
	RecipeID  string    `json:"recipeId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
