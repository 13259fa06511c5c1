package memory

import "github.com/kookbook/kookbook/internal/store"

// NewStores returns a fresh set of in-memory stores. The recipe store reads
// ratings from the review store for rating-sorted listings.
func NewStores() store.Stores {
	reviews := NewReviewStore()
	return store.Stores{
		Users:         NewUserStore(),
		Recipes:       NewRecipeStore(reviews),
		Reviews:       reviews,
		SearchHistory: NewSearchHistoryStore(),
		Activity:      NewActivityStore(),
		Stats:         NewStatsStore(),
	}
}
