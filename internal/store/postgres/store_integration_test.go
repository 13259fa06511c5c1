//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (store.Stores, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, pool))
	// a second run must be a no-op
	require.NoError(t, RunMigrations(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return NewStores(pool), cleanup
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	author := &models.User{
		UserID:       models.NewID("user"),
		Username:     "chef",
		FirstName:    "Ada",
		LastName:     "Baker",
		Email:        "Ada@Example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Status:       models.UserStatusActive,
		CookingLevel: "Beginner",
	}

	t.Run("users", func(t *testing.T) {
		require.NoError(t, stores.Users.Create(ctx, author))

		dup := *author
		dup.UserID = models.NewID("user")
		require.ErrorIs(t, stores.Users.Create(ctx, &dup), store.ErrEmailTaken)

		got, err := stores.Users.GetByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		require.Equal(t, author.UserID, got.UserID)
		require.Zero(t, got.TokenVersion)
		require.Empty(t, got.Favorites)

		version, err := stores.Users.IncrementTokenVersion(ctx, author.UserID)
		require.NoError(t, err)
		require.Equal(t, 1, version)

		got.Bio = "Bakes bread"
		got.TokenVersion = 0
		require.NoError(t, stores.Users.Update(ctx, got))

		got, err = stores.Users.Get(ctx, author.UserID)
		require.NoError(t, err)
		require.Equal(t, 1, got.TokenVersion)
		require.Equal(t, "Bakes bread", got.Bio)

		_, err = stores.Users.Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	recipeID := models.NewID("recipe")

	t.Run("recipes", func(t *testing.T) {
		recipe := &models.Recipe{
			RecipeID:     recipeID,
			Title:        "Sourdough 100%",
			Description:  "Crusty loaf",
			Category:     "Bread",
			PrepTime:     30,
			CookTime:     45,
			Servings:     8,
			Difficulty:   "Hard",
			Ingredients:  []models.Ingredient{{Name: "Flour", Quantity: "500", Unit: "g"}},
			Instructions: []string{"Mix", "Bake"},
			AuthorID:     author.UserID,
			Status:       models.RecipeStatusPublished,
		}
		require.NoError(t, stores.Recipes.Create(ctx, recipe))

		got, err := stores.Recipes.Get(ctx, recipeID)
		require.NoError(t, err)
		require.Equal(t, recipe.Ingredients, got.Ingredients)
		require.Equal(t, []string{"Mix", "Bake"}, got.Instructions)

		liked, count, err := stores.Recipes.ToggleLike(ctx, recipeID, "user-x")
		require.NoError(t, err)
		require.True(t, liked)
		require.Equal(t, 1, count)

		views, err := stores.Recipes.AddView(ctx, recipeID, "user-x")
		require.NoError(t, err)
		require.Equal(t, 1, views)
		views, err = stores.Recipes.AddView(ctx, recipeID, "user-x")
		require.NoError(t, err)
		require.Equal(t, 1, views)

		list, total, err := stores.Recipes.List(ctx, store.ListRecipesOptions{
			Status: models.RecipeStatusPublished,
			Search: "100%",
			Sort:   store.SortTrending,
			Page:   1,
			Limit:  10,
		})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Len(t, list, 1)

		stale, err := stores.Users.Get(ctx, author.UserID)
		require.NoError(t, err)

		favorited, err := stores.Users.ToggleFavorite(ctx, author.UserID, recipeID)
		require.NoError(t, err)
		require.True(t, favorited)

		// A profile update from an older snapshot must not drop the favorite.
		stale.Location = "Leeds"
		require.NoError(t, stores.Users.Update(ctx, stale))
		fresh, err := stores.Users.Get(ctx, author.UserID)
		require.NoError(t, err)
		require.True(t, fresh.IsFavorite(recipeID))
		require.Equal(t, "Leeds", fresh.Location)
	})

	t.Run("reviews", func(t *testing.T) {
		first, err := stores.Reviews.Upsert(ctx, &models.Review{RecipeID: recipeID, UserID: "user-x", Rating: 3})
		require.NoError(t, err)
		second, err := stores.Reviews.Upsert(ctx, &models.Review{RecipeID: recipeID, UserID: "user-x", Rating: 5, Comment: "great"})
		require.NoError(t, err)
		require.Equal(t, first.ReviewID, second.ReviewID)
		require.Equal(t, 5, second.Rating)

		list, _, err := stores.Recipes.List(ctx, store.ListRecipesOptions{Sort: store.SortRating, Page: 1, Limit: 10})
		require.NoError(t, err)
		require.InDelta(t, 5.0, list[0].AverageRating, 0.001)
		require.Equal(t, 1, list[0].ReviewCount)

		_, err = stores.Reviews.Upsert(ctx, &models.Review{RecipeID: "missing", UserID: "user-x", Rating: 1})
		require.ErrorIs(t, err, store.ErrRecipeNotFound)
	})

	t.Run("directory and suggestions", func(t *testing.T) {
		user, err := stores.Users.RecordLogin(ctx, author.UserID, time.Now())
		require.NoError(t, err)
		require.Equal(t, models.UserStatusActive, user.Status)
		require.NotNil(t, user.LastActive)

		users, total, err := stores.Users.List(ctx, store.ListUsersOptions{Search: "baker", Page: 1, Limit: 20})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, author.UserID, users[0].UserID)

		_, total, err = stores.Users.List(ctx, store.ListUsersOptions{ExcludeStatus: models.UserStatusActive, Page: 1, Limit: 20})
		require.NoError(t, err)
		require.Zero(t, total)

		counts, err := stores.Users.Counts(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, store.UserCounts{Joined: 1, JoinedContributors: 1, Active: 1}, counts)

		previous, err := stores.Users.SetAvatar(ctx, author.UserID, "/uploads/avatars/a.png", "avatars/a.png")
		require.NoError(t, err)
		require.Empty(t, previous)
		previous, err = stores.Users.SetAvatar(ctx, author.UserID, "/uploads/avatars/b.png", "avatars/b.png")
		require.NoError(t, err)
		require.Equal(t, "avatars/a.png", previous)

		avg, count, err := stores.Reviews.Rating(ctx, recipeID)
		require.NoError(t, err)
		require.InDelta(t, 5.0, avg, 0.001)
		require.Equal(t, 1, count)

		picked, err := stores.Recipes.Random(ctx, 1, 1)
		require.NoError(t, err)
		require.Equal(t, recipeID, picked.RecipeID)

		_, err = stores.Recipes.Random(ctx, 5, 1)
		require.ErrorIs(t, err, store.ErrRecipeNotFound)

		previous, err = stores.Recipes.SetImage(ctx, recipeID, "/uploads/recipes/r.webp", "recipes/r.webp")
		require.NoError(t, err)
		require.Empty(t, previous)
		recipe, err := stores.Recipes.Get(ctx, recipeID)
		require.NoError(t, err)
		require.Equal(t, "recipes/r.webp", recipe.ImageStoragePath)
	})

	t.Run("search history", func(t *testing.T) {
		for _, q := range []string{"bread", "soup", "Bread"} {
			_, err := stores.SearchHistory.Record(ctx, author.UserID, models.SearchEntry{Query: q, SearchedAt: time.Now()})
			require.NoError(t, err)
		}
		entries, err := stores.SearchHistory.List(ctx, author.UserID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "Bread", entries[0].Query)

		for i := range models.SearchHistoryLimit + 3 {
			_, err := stores.SearchHistory.Record(ctx, author.UserID, models.SearchEntry{
				Query:      fmt.Sprintf("query %d", i),
				SearchedAt: time.Now().Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}
		entries, err = stores.SearchHistory.List(ctx, author.UserID)
		require.NoError(t, err)
		require.Len(t, entries, models.SearchHistoryLimit)

		require.NoError(t, stores.SearchHistory.Clear(ctx, author.UserID))
		entries, err = stores.SearchHistory.List(ctx, author.UserID)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("activity and stats", func(t *testing.T) {
		old := &models.ActivityEntry{UserID: author.UserID, Type: "user-recipe", Message: "old", CreatedAt: time.Now().Add(-100 * 24 * time.Hour)}
		require.NoError(t, stores.Activity.Create(ctx, old))
		require.NoError(t, stores.Activity.Create(ctx, &models.ActivityEntry{
			UserID: author.UserID, Type: "user-recipe", Message: "new", Metadata: map[string]any{"action": "create"},
		}))

		pruned, err := stores.Activity.Prune(ctx, time.Now().Add(-models.ActivityRetention))
		require.NoError(t, err)
		require.Equal(t, 1, pruned)

		entries, total, err := stores.Activity.List(ctx, 1, 20)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, "create", entries[0].Metadata["action"])

		today := models.DayKey(time.Now())
		require.NoError(t, stores.Stats.RecordNewUser(ctx, today, author.UserID))
		require.NoError(t, stores.Stats.RecordActiveUser(ctx, today, author.UserID))
		require.NoError(t, stores.Stats.RecordActiveUser(ctx, today, author.UserID))
		view := models.View{ViewerID: author.UserID, RecipeID: recipeID, ViewedAt: time.Now()}
		require.NoError(t, stores.Stats.RecordView(ctx, today, view))
		require.NoError(t, stores.Stats.RecordView(ctx, today, view))

		stats, err := stores.Stats.List(ctx, today)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		require.Equal(t, []string{author.UserID}, stats[0].ActiveUsers)
		require.Len(t, stats[0].Views, 1)

		require.NoError(t, stores.Stats.RemoveUser(ctx, author.UserID))
		require.NoError(t, stores.Activity.DeleteByUser(ctx, author.UserID))
		stats, err = stores.Stats.List(ctx, today)
		require.NoError(t, err)
		require.Empty(t, stats[0].NewUsers)
		require.Empty(t, stats[0].Views)
	})

	t.Run("delete cascades", func(t *testing.T) {
		require.NoError(t, stores.Users.RemoveFavoriteEverywhere(ctx, recipeID))
		require.NoError(t, stores.Recipes.Delete(ctx, recipeID))

		_, total, err := stores.Reviews.ListByRecipe(ctx, recipeID, 1, 20)
		require.NoError(t, err)
		require.Zero(t, total)

		user, err := stores.Users.Get(ctx, author.UserID)
		require.NoError(t, err)
		require.False(t, user.IsFavorite(recipeID))

		require.ErrorIs(t, stores.Recipes.Delete(ctx, recipeID), store.ErrRecipeNotFound)
	})

	t.Run("delete user", func(t *testing.T) {
		other := models.NewID("recipe")
		require.NoError(t, stores.Recipes.Create(ctx, &models.Recipe{
			RecipeID: other, Title: "Soup", Category: "Soup", Servings: 2,
			Difficulty: "Easy", AuthorID: author.UserID, Status: models.RecipeStatusDraft,
		}))

		deleted, err := stores.Recipes.DeleteByAuthor(ctx, author.UserID)
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		require.NoError(t, stores.Reviews.DeleteByUser(ctx, author.UserID))
		require.NoError(t, stores.Users.Delete(ctx, author.UserID))
		require.ErrorIs(t, stores.Users.Delete(ctx, author.UserID), store.ErrUserNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, stores.Users.Ping(ctx))
	})
}
