package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	"github.com/kookbook/kookbook/internal/auth"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

const (
	defaultRecipePageSize = 30
	maxRecipePageSize     = 100
)

var recipeSorts = []store.RecipeSort{store.SortNewest, store.SortTitle, store.SortTrending, store.SortRating}

type recipeResponse struct {
	Recipe models.RecipeView `json:"recipe"`
}

type recipeListResponse struct {
	Recipes    []models.RecipeView `json:"recipes"`
	Pagination pagination          `json:"pagination"`
}

func (s *Server) loadRecipe(r *http.Request, recipeID string) (*models.Recipe, error) {
	recipe, err := s.recipes.Get(r.Context(), recipeID)
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return nil, apierr.NotFound("Recipe not found")
		}
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return recipe, nil
}

// canManage reports whether identity may edit or delete recipe.
func canManage(identity *auth.Identity, authorID string) bool {
	return identity.UserID == authorID || identity.IsAdmin()
}

func (s *Server) listRecipes(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	page, limit := pageParams(r, defaultRecipePageSize, maxRecipePageSize)

	sort := store.RecipeSort(q.Get("sort"))
	if !oneOf(sort, recipeSorts) {
		sort = store.SortNewest
	}

	opts := store.ListRecipesOptions{
		Category: q.Get("category"),
		AuthorID: q.Get("authorId"),
		Search:   sanitize(q.Get("search"), maxSearchLength),
		Sort:     sort,
		Page:     page,
		Limit:    limit,
	}
	if difficulty := q.Get("difficulty"); oneOf(difficulty, models.Difficulties) {
		opts.Difficulty = difficulty
	}

	// Non-admins only see published recipes, except when listing their own.
	status := models.RecipeStatus(q.Get("status"))
	identity, _ := s.guard.ResolveIdentity(r)
	switch {
	case identity != nil && identity.IsAdmin():
		opts.Status = status
	case identity != nil && opts.AuthorID != "" && opts.AuthorID == identity.UserID:
		opts.Status = status
	default:
		opts.Status = models.RecipeStatusPublished
	}

	recipes, total, err := s.recipes.List(r.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to list recipes: %w", err)
	}

	views := make([]models.RecipeView, 0, len(recipes))
	for _, recipe := range recipes {
		views = append(views, recipe.View())
	}

	httpx.WriteSuccess(w, http.StatusOK, recipeListResponse{
		Recipes:    views,
		Pagination: newPagination(page, limit, total),
	}, "")
	return nil
}

type recipeRequest struct {
	Title        *string              `json:"title"`
	Description  *string              `json:"description"`
	Category     *string              `json:"category"`
	PrepTime     *int                 `json:"prepTime"`
	CookTime     *int                 `json:"cookTime"`
	Servings     *int                 `json:"servings"`
	Difficulty   *string              `json:"difficulty"`
	Ingredients  []models.Ingredient  `json:"ingredients"`
	Instructions []string             `json:"instructions"`
	ImageURL     *string              `json:"imageUrl"`
	Status       *models.RecipeStatus `json:"status"`
}

// apply copies the fields present in req onto recipe, sanitizing free text.
func (req *recipeRequest) apply(recipe *models.Recipe, errs *validationErrors) {
	if req.Title != nil {
		recipe.Title = sanitize(*req.Title, maxTitleLength)
	}
	if req.Description != nil {
		recipe.Description = sanitize(*req.Description, maxDescriptionLength)
	}
	if req.Category != nil {
		recipe.Category = sanitize(*req.Category, maxCategoryLength)
	}
	if req.PrepTime != nil {
		recipe.PrepTime = max(*req.PrepTime, 0)
	}
	if req.CookTime != nil {
		recipe.CookTime = max(*req.CookTime, 0)
	}
	if req.Servings != nil {
		recipe.Servings = max(*req.Servings, 1)
	}
	if req.Difficulty != nil {
		errs.check(oneOf(*req.Difficulty, models.Difficulties), "Difficulty must be one of: Easy, Medium, Hard")
		recipe.Difficulty = *req.Difficulty
	}
	if req.Ingredients != nil {
		ingredients := make([]models.Ingredient, 0, len(req.Ingredients))
		for _, item := range req.Ingredients {
			ingredient := models.Ingredient{
				Name:     sanitize(item.Name, maxIngredientName),
				Quantity: sanitize(item.Quantity, maxIngredientQty),
				Unit:     sanitize(item.Unit, maxIngredientUnit),
			}
			if ingredient.Name != "" {
				ingredients = append(ingredients, ingredient)
			}
		}
		recipe.Ingredients = ingredients
	}
	if req.Instructions != nil {
		steps := make([]string, 0, len(req.Instructions))
		for _, step := range req.Instructions {
			if step = sanitize(step, maxInstructionLength); step != "" {
				steps = append(steps, step)
			}
		}
		recipe.Instructions = steps
	}
	if req.ImageURL != nil {
		if url := strings.TrimSpace(*req.ImageURL); url != "" {
			recipe.ImageURL = &url
		} else {
			recipe.ImageURL = nil
		}
	}
}

func validateRecipe(recipe *models.Recipe, errs *validationErrors) {
	errs.check(len([]rune(recipe.Title)) >= minTitleLength, "Title must be 3-100 characters")
	errs.check(len(recipe.Ingredients) > 0, "At least one ingredient is required")
	errs.check(len(recipe.Instructions) > 0, "At least one instruction is required")
}

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}
	if identity.Status != models.UserStatusActive {
		return apierr.Forbidden("Account must be active to create recipes")
	}

	var req recipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	recipe := &models.Recipe{
		RecipeID:   models.NewID("recipe"),
		Difficulty: "Easy",
		Servings:   1,
		AuthorID:   identity.UserID,
		Status:     models.RecipeStatusPending,
		LikedBy:    []string{},
		ViewedBy:   []string{},
	}

	var errs validationErrors
	req.apply(recipe, &errs)
	validateRecipe(recipe, &errs)
	if len(errs) > 0 {
		return apierr.Validation("Validation failed", errs...)
	}

	if err := s.recipes.Create(r.Context(), recipe); err != nil {
		return fmt.Errorf("failed to create recipe: %w", err)
	}

	zerolog.Ctx(r.Context()).Info().
		Str("recipe_id", recipe.RecipeID).
		Str("author_id", recipe.AuthorID).
		Msg("recipe submitted")

	s.logActivity(r, &models.ActivityEntry{
		UserID:   identity.UserID,
		Type:     "user-recipe",
		Message:  fmt.Sprintf("%s submitted a new recipe %q", identity.User.Username, recipe.Title),
		TargetID: recipe.RecipeID,
		Metadata: map[string]any{"action": "create"},
	})

	created, err := s.loadRecipe(r, recipe.RecipeID)
	if err != nil {
		return err
	}

	httpx.WriteSuccess(w, http.StatusCreated, recipeResponse{Recipe: created.View()}, "Recipe created")
	return nil
}

func (s *Server) getRecipe(w http.ResponseWriter, r *http.Request) error {
	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	// Unpublished recipes are reported as missing to everyone but the owner and admins.
	if recipe.Status != models.RecipeStatusPublished {
		identity, ok := s.guard.ResolveIdentity(r)
		if !ok || !canManage(identity, recipe.AuthorID) {
			return apierr.NotFound("Recipe not found")
		}
	}

	httpx.WriteSuccess(w, http.StatusOK, recipeResponse{Recipe: recipe.View()}, "")
	return nil
}

func (s *Server) updateRecipe(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}
	if !canManage(identity, recipe.AuthorID) {
		return apierr.Forbidden("")
	}

	var req recipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	var errs validationErrors
	req.apply(recipe, &errs)
	validateRecipe(recipe, &errs)
	if req.Status != nil && identity.IsAdmin() {
		errs.check(req.Status.Valid(), "status must be one of: published, pending, rejected, draft")
		recipe.Status = *req.Status
	}
	if len(errs) > 0 {
		return apierr.Validation("Validation failed", errs...)
	}

	if err := s.recipes.Update(r.Context(), recipe); err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to update recipe: %w", err)
	}

	updated, err := s.loadRecipe(r, recipe.RecipeID)
	if err != nil {
		return err
	}

	httpx.WriteSuccess(w, http.StatusOK, recipeResponse{Recipe: updated.View()}, "Recipe updated")
	return nil
}

func (s *Server) deleteRecipe(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}
	if !canManage(identity, recipe.AuthorID) {
		return apierr.Forbidden("")
	}

	ctx := r.Context()
	if err := s.reviews.DeleteByRecipe(ctx, recipe.RecipeID); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	if err := s.users.RemoveFavoriteEverywhere(ctx, recipe.RecipeID); err != nil {
		return fmt.Errorf("failed to remove favorites: %w", err)
	}
	if err := s.recipes.Delete(ctx, recipe.RecipeID); err != nil && !errors.Is(err, store.ErrRecipeNotFound) {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("recipe_id", recipe.RecipeID).
		Str("deleted_by", identity.UserID).
		Msg("recipe deleted")

	httpx.WriteSuccess(w, http.StatusOK, nil, "Recipe deleted")
	return nil
}

type likeResponse struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

func (s *Server) toggleLike(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireActiveNonAdmin(r)
	if err != nil {
		return err
	}

	liked, count, err := s.recipes.ToggleLike(r.Context(), r.PathValue("id"), identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to toggle like: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, likeResponse{Liked: liked, Count: count}, "")
	return nil
}

type favoriteResponse struct {
	Favorited bool `json:"favorited"`
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireActiveNonAdmin(r)
	if err != nil {
		return err
	}

	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	favorited, err := s.users.ToggleFavorite(r.Context(), identity.UserID, recipe.RecipeID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return apierr.NotFound("User not found")
		}
		return fmt.Errorf("failed to toggle favorite: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, favoriteResponse{Favorited: favorited}, "")
	return nil
}

type viewResponse struct {
	ViewCount int `json:"viewCount"`
}

// recordView counts a unique view for signed-in users. Guests and anonymous
// callers only get the current count back.
func (s *Server) recordView(w http.ResponseWriter, r *http.Request) error {
	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	identity, ok := s.guard.ResolveIdentity(r)
	if !ok {
		httpx.WriteSuccess(w, http.StatusOK, viewResponse{ViewCount: recipe.ViewCount()}, "")
		return nil
	}

	ctx := r.Context()
	count, err := s.recipes.AddView(ctx, recipe.RecipeID, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to record view: %w", err)
	}

	now := time.Now()
	s.recordDaily(ctx, now, func(day string) error {
		return s.stats.RecordView(ctx, day, models.View{
			ViewerID: identity.UserID,
			RecipeID: recipe.RecipeID,
			ViewedAt: now,
		})
	})

	httpx.WriteSuccess(w, http.StatusOK, viewResponse{ViewCount: count}, "")
	return nil
}

func (s *Server) setRecipeStatus(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.guard.RequireRole(r, models.RoleAdmin); err != nil {
		return err
	}

	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	status := models.RecipeStatus(req.Status)
	if !status.Valid() {
		return apierr.Validation("status must be one of: published, pending, rejected, draft")
	}

	recipe, err := s.recipes.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to set recipe status: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, recipeResponse{Recipe: recipe.View()}, "Recipe status updated")
	return nil
}

type ratingResponse struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

func (s *Server) getRating(w http.ResponseWriter, r *http.Request) error {
	average, count, err := s.reviews.Rating(r.Context(), r.PathValue("id"))
	if err != nil {
		return fmt.Errorf("failed to compute rating: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, ratingResponse{
		Average: math.Round(average*10) / 10,
		Count:   count,
	}, "")
	return nil
}

// Recipes with at least this many likes and reviews are suggested first.
const (
	suggestionMinLikes   = 5
	suggestionMinReviews = 1
)

// randomSuggestion picks a well received published recipe, falling back to
// any published recipe.
func (s *Server) randomSuggestion(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	recipe, err := s.recipes.Random(ctx, suggestionMinLikes, suggestionMinReviews)
	if errors.Is(err, store.ErrRecipeNotFound) {
		recipe, err = s.recipes.Random(ctx, 0, 0)
	}
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			httpx.WriteSuccess(w, http.StatusOK, nil, "No recipes available")
			return nil
		}
		return fmt.Errorf("failed to pick a recipe: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, recipeResponse{Recipe: recipe.View()}, "Random suggestion")
	return nil
}
