package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kookbook/kookbook/internal/models"
)

func validRecipe(title string) map[string]any {
	return map[string]any{
		"title":        title,
		"description":  "A <b>simple</b> dish",
		"category":     "Soup",
		"prepTime":     10,
		"cookTime":     -5,
		"servings":     0,
		"difficulty":   "Medium",
		"ingredients":  []map[string]string{{"name": "Tomato", "quantity": "4", "unit": "pcs"}},
		"instructions": []string{"Chop", "Simmer"},
	}
}

type recipeFixture struct {
	env    *testEnv
	author *models.User
	other  *models.User
	admin  *models.User

	authorClient *testClient
	otherClient  *testClient
	adminClient  *testClient
}

func newRecipeFixture(t *testing.T) *recipeFixture {
	t.Helper()
	env := newTestEnv(t)
	f := &recipeFixture{
		env:    env,
		author: env.seedUser(t, "author", models.RoleUser, models.UserStatusActive),
		other:  env.seedUser(t, "other", models.RoleUser, models.UserStatusActive),
		admin:  env.seedUser(t, "admin", models.RoleAdmin, models.UserStatusActive),
	}
	f.authorClient = env.newClient(t)
	f.authorClient.login(f.author.Email)
	f.otherClient = env.newClient(t)
	f.otherClient.login(f.other.Email)
	f.adminClient = env.newClient(t)
	f.adminClient.login(f.admin.Email)
	return f
}

func (f *recipeFixture) createRecipe(t *testing.T, title string) models.RecipeView {
	t.Helper()
	resp, body := f.authorClient.do(http.MethodPost, "/api/v1/recipes", validRecipe(title))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.code())
	return decodeData[recipeResponse](t, body).Recipe
}

func (f *recipeFixture) publish(t *testing.T, recipeID string) {
	t.Helper()
	resp, body := f.adminClient.do(http.MethodPatch, "/api/v1/admin/recipes/"+recipeID+"/status",
		map[string]string{"status": "published"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body.code())
}

func TestCreateRecipe(t *testing.T) {
	f := newRecipeFixture(t)

	recipe := f.createRecipe(t, "Tomato soup")
	require.Equal(t, models.RecipeStatusPending, recipe.Status)
	require.Equal(t, f.author.UserID, recipe.AuthorID)
	require.Equal(t, "A simple dish", recipe.Description)
	require.Equal(t, 0, recipe.CookTime)
	require.Equal(t, 1, recipe.Servings)
	require.Zero(t, recipe.LikeCount)
	require.NotNil(t, recipe.LikedBy)

	t.Run("validation", func(t *testing.T) {
		body := validRecipe("ab")
		body["difficulty"] = "Impossible"
		body["ingredients"] = []map[string]string{}
		resp, env := f.authorClient.do(http.MethodPost, "/api/v1/recipes", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, env.Error.Details, 3)
	})

	t.Run("pending account", func(t *testing.T) {
		pending := f.env.seedUser(t, "pending", models.RoleUser, models.UserStatusPending)
		c := f.env.newClient(t)
		c.login(pending.Email)
		resp, body := c.do(http.MethodPost, "/api/v1/recipes", validRecipe("Pending soup"))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "FORBIDDEN", body.code())
	})

	t.Run("anonymous", func(t *testing.T) {
		c := f.env.newClient(t)
		c.noCSRF = true
		resp, _ := c.do(http.MethodPost, "/api/v1/recipes", validRecipe("Anon soup"))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestRecipeVisibility(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Secret stew")
	path := "/api/v1/recipes/" + recipe.RecipeID

	anon := f.env.newClient(t)

	resp, _ := anon.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.otherClient.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.authorClient.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.adminClient.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := func(c *testClient, query string) recipeListResponse {
		resp, body := c.do(http.MethodGet, "/api/v1/recipes"+query, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decodeData[recipeListResponse](t, body)
	}

	require.Empty(t, list(anon, "").Recipes)
	require.Empty(t, list(f.otherClient, "?authorId="+f.author.UserID).Recipes)
	require.Len(t, list(f.authorClient, "?authorId="+f.author.UserID).Recipes, 1)
	require.Len(t, list(f.adminClient, "").Recipes, 1)
	require.Len(t, list(f.adminClient, "?status=pending").Recipes, 1)
	require.Empty(t, list(f.adminClient, "?status=published").Recipes)

	f.publish(t, recipe.RecipeID)

	page := list(anon, "?limit=500")
	require.Len(t, page.Recipes, 1)
	require.Equal(t, 100, page.Pagination.Limit)
	require.Equal(t, 1, page.Pagination.TotalPages)
	resp, _ = anon.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateRecipe(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Plain rice")
	path := "/api/v1/recipes/" + recipe.RecipeID

	resp, _ := f.otherClient.do(http.MethodPatch, path, map[string]any{"title": "Stolen rice"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Owners cannot publish their own recipes.
	resp, body := f.authorClient.do(http.MethodPatch, path, map[string]any{"title": "Fried rice", "status": "published"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeData[recipeResponse](t, body).Recipe
	require.Equal(t, "Fried rice", updated.Title)
	require.Equal(t, models.RecipeStatusPending, updated.Status)
	require.Equal(t, "Medium", updated.Difficulty)

	resp, body = f.adminClient.do(http.MethodPatch, path, map[string]any{"status": "rejected"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.RecipeStatusRejected, decodeData[recipeResponse](t, body).Recipe.Status)

	resp, body = f.adminClient.do(http.MethodPatch, path, map[string]any{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", body.code())
}

func TestLikeFavoriteAndView(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Pancakes")
	f.publish(t, recipe.RecipeID)
	path := "/api/v1/recipes/" + recipe.RecipeID

	resp, body := f.otherClient.do(http.MethodPost, path+"/like", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, likeResponse{Liked: true, Count: 1}, decodeData[likeResponse](t, body))

	resp, body = f.otherClient.do(http.MethodPost, path+"/like", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, likeResponse{Liked: false, Count: 0}, decodeData[likeResponse](t, body))

	resp, body = f.adminClient.do(http.MethodPost, path+"/like", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", body.code())

	resp, body = f.otherClient.do(http.MethodPost, path+"/favorite", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decodeData[favoriteResponse](t, body).Favorited)

	resp, _ = f.otherClient.do(http.MethodPost, "/api/v1/recipes/recipe-missing/favorite", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Views are CSRF exempt and unique per user; anonymous callers only read the count.
	anon := f.env.newClient(t)
	for range 2 {
		resp, body = f.otherClient.do(http.MethodPost, path+"/view", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, decodeData[viewResponse](t, body).ViewCount)
	}
	resp, body = anon.do(http.MethodPost, path+"/view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, decodeData[viewResponse](t, body).ViewCount)
}

func TestDeleteRecipeCascades(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Lasagne")
	f.publish(t, recipe.RecipeID)
	path := "/api/v1/recipes/" + recipe.RecipeID

	resp, _ := f.otherClient.do(http.MethodPost, path+"/favorite", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.otherClient.do(http.MethodPost, path+"/reviews", map[string]any{"rating": 5, "comment": "Great"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.otherClient.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.authorClient.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Recipe deleted", body.Message)

	ctx := context.Background()
	other, err := f.env.stores.Users.Get(ctx, f.other.UserID)
	require.NoError(t, err)
	require.Empty(t, other.Favorites)

	_, total, err := f.env.stores.Reviews.ListByRecipe(ctx, recipe.RecipeID, 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)

	resp, _ = f.adminClient.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReviews(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Curry")
	f.publish(t, recipe.RecipeID)
	path := "/api/v1/recipes/" + recipe.RecipeID + "/reviews"

	resp, body := f.otherClient.do(http.MethodPost, path, map[string]any{"rating": 6})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_ERROR", body.code())

	resp, body = f.otherClient.do(http.MethodPost, path, map[string]any{"rating": 3, "comment": "<i>ok</i>"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decodeData[reviewResponse](t, body).Review
	require.Equal(t, "ok", first.Comment)
	require.Equal(t, "other", first.Username)

	// A second review from the same user replaces the first.
	resp, body = f.otherClient.do(http.MethodPost, path, map[string]any{"rating": 5, "comment": "better"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decodeData[reviewResponse](t, body).Review
	require.Equal(t, first.ReviewID, second.ReviewID)
	require.Equal(t, 5, second.Rating)

	resp, _ = f.adminClient.do(http.MethodPost, path, map[string]any{"rating": 1})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	anon := f.env.newClient(t)
	resp, body = anon.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeData[reviewListResponse](t, body)
	require.Len(t, list.Reviews, 1)
	require.Equal(t, "other", list.Reviews[0].Username)
	require.Equal(t, pagination{Page: 1, Limit: 20, Total: 1, TotalPages: 1}, list.Pagination)

	reviewPath := "/api/v1/reviews/" + second.ReviewID
	resp, _ = f.authorClient.do(http.MethodDelete, reviewPath, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.adminClient.do(http.MethodDelete, reviewPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.adminClient.do(http.MethodDelete, reviewPath, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRatingSort(t *testing.T) {
	f := newRecipeFixture(t)
	low := f.createRecipe(t, "Low rated")
	high := f.createRecipe(t, "High rated")
	f.publish(t, low.RecipeID)
	f.publish(t, high.RecipeID)

	resp, _ := f.otherClient.do(http.MethodPost, "/api/v1/recipes/"+low.RecipeID+"/reviews", map[string]any{"rating": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.otherClient.do(http.MethodPost, "/api/v1/recipes/"+high.RecipeID+"/reviews", map[string]any{"rating": 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.otherClient.do(http.MethodGet, "/api/v1/recipes?sort=rating", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeData[recipeListResponse](t, body)
	require.Len(t, list.Recipes, 2)
	require.Equal(t, high.RecipeID, list.Recipes[0].RecipeID)
	require.InDelta(t, 5.0, list.Recipes[0].AverageRating, 0.001)
}

func TestRecipeRating(t *testing.T) {
	f := newRecipeFixture(t)
	recipe := f.createRecipe(t, "Gazpacho")
	f.publish(t, recipe.RecipeID)
	path := "/api/v1/recipes/" + recipe.RecipeID

	anon := f.env.newClient(t)
	resp, body := anon.do(http.MethodGet, path+"/rating", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, ratingResponse{}, decodeData[ratingResponse](t, body))

	reviewers := []*testClient{f.otherClient}
	for _, name := range []string{"carol", "dave"} {
		user := f.env.seedUser(t, name, models.RoleUser, models.UserStatusActive)
		c := f.env.newClient(t)
		c.login(user.Email)
		reviewers = append(reviewers, c)
	}
	for i, rating := range []int{4, 4, 5} {
		resp, _ = reviewers[i].do(http.MethodPost, path+"/reviews", map[string]any{"rating": rating})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body = anon.do(http.MethodGet, path+"/rating", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, ratingResponse{Average: 4.3, Count: 3}, decodeData[ratingResponse](t, body))
}

func TestRandomSuggestion(t *testing.T) {
	f := newRecipeFixture(t)
	anon := f.env.newClient(t)
	const path = "/api/v1/recipes/random-suggestion"

	pending := f.createRecipe(t, "Not yet")

	resp, body := anon.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "No recipes available", body.Message)
	require.Equal(t, "null", string(body.Data))

	published := f.createRecipe(t, "Risotto")
	f.publish(t, published.RecipeID)

	// Nothing meets the quality bar, so any published recipe qualifies.
	for range 3 {
		resp, body = anon.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "Random suggestion", body.Message)
		suggestion := decodeData[recipeResponse](t, body).Recipe
		require.Equal(t, published.RecipeID, suggestion.RecipeID)
		require.NotEqual(t, pending.RecipeID, suggestion.RecipeID)
	}
}
