package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kookbook/kookbook/internal/apierr"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

const (
	defaultReviewPageSize = 20
	maxReviewPageSize     = 50

	unknownUsername = "Unknown User"
)

// reviewView is a review enriched with the author's username.
type reviewView struct {
	*models.Review
	Username string `json:"username"`
}

type reviewListResponse struct {
	Reviews    []reviewView `json:"reviews"`
	Pagination pagination   `json:"pagination"`
}

type reviewResponse struct {
	Review reviewView `json:"review"`
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) error {
	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	page, limit := pageParams(r, defaultReviewPageSize, maxReviewPageSize)

	reviews, total, err := s.reviews.ListByRecipe(r.Context(), recipe.RecipeID, page, limit)
	if err != nil {
		return fmt.Errorf("failed to list reviews: %w", err)
	}

	userIDs := make([]string, 0, len(reviews))
	for _, review := range reviews {
		userIDs = append(userIDs, review.UserID)
	}
	authors, err := s.users.GetMany(r.Context(), userIDs)
	if err != nil {
		return fmt.Errorf("failed to load review authors: %w", err)
	}

	views := make([]reviewView, 0, len(reviews))
	for _, review := range reviews {
		username := unknownUsername
		if author, ok := authors[review.UserID]; ok {
			username = author.Username
		}
		views = append(views, reviewView{Review: review, Username: username})
	}

	httpx.WriteSuccess(w, http.StatusOK, reviewListResponse{
		Reviews:    views,
		Pagination: newPagination(page, limit, total),
	}, "")
	return nil
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) upsertReview(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireActiveNonAdmin(r)
	if err != nil {
		return err
	}

	recipe, err := s.loadRecipe(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	if req.Rating < 1 || req.Rating > 5 {
		return apierr.Validation("Rating must be between 1 and 5")
	}

	review, err := s.reviews.Upsert(r.Context(), &models.Review{
		ReviewID: models.NewID("review"),
		RecipeID: recipe.RecipeID,
		UserID:   identity.UserID,
		Rating:   req.Rating,
		Comment:  sanitize(req.Comment, maxCommentLength),
	})
	if err != nil {
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to save review: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusCreated, reviewResponse{
		Review: reviewView{Review: review, Username: identity.User.Username},
	}, "Review saved")
	return nil
}

func (s *Server) deleteReview(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	review, err := s.reviews.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrReviewNotFound) {
			return apierr.NotFound("Review not found")
		}
		return fmt.Errorf("failed to load review: %w", err)
	}

	if review.UserID != identity.UserID && !identity.IsAdmin() {
		return apierr.Forbidden("")
	}

	if err := s.reviews.Delete(r.Context(), review.ReviewID); err != nil && !errors.Is(err, store.ErrReviewNotFound) {
		return fmt.Errorf("failed to delete review: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, nil, "Review deleted")
	return nil
}
