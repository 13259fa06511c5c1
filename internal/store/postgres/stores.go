package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kookbook/kookbook/internal/store"
)

// NewStores returns PostgreSQL-backed stores sharing pool.
func NewStores(pool *pgxpool.Pool) store.Stores {
	return store.Stores{
		Users:         NewUserStore(pool),
		Recipes:       NewRecipeStore(pool),
		Reviews:       NewReviewStore(pool),
		SearchHistory: NewSearchHistoryStore(pool),
		Activity:      NewActivityStore(pool),
		Stats:         NewStatsStore(pool),
	}
}
