package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// publicProfile hides the email of users other than the caller.
type publicProfile struct {
	models.UserProfile
	Email string `json:"email,omitempty"`
}

func (s *Server) loadUser(r *http.Request, userID string) (*models.User, error) {
	user, err := s.users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, apierr.NotFound("User not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
	maxUserSearchLength = 120
)

type userListResponse struct {
	Users      []publicProfile `json:"users"`
	Pagination pagination      `json:"pagination"`
}

// listUsers serves the user directory. Admins can filter by any status and
// see emails; everyone else sees profiles of accounts that are not suspended.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	page, limit := pageParams(r, defaultUserPageSize, maxUserPageSize)

	opts := store.ListUsersOptions{
		Role:   models.Role(q.Get("role")),
		Search: sanitize(q.Get("search"), maxUserSearchLength),
		Page:   page,
		Limit:  limit,
	}

	identity, _ := s.guard.ResolveIdentity(r)
	isAdmin := identity != nil && identity.IsAdmin()
	if isAdmin {
		opts.Status = models.UserStatus(q.Get("status"))
	} else {
		opts.ExcludeStatus = models.UserStatusSuspended
	}

	users, total, err := s.users.List(r.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	profiles := make([]publicProfile, 0, len(users))
	for _, user := range users {
		profile := publicProfile{UserProfile: user.Profile()}
		if isAdmin {
			profile.Email = user.Email
		}
		profiles = append(profiles, profile)
	}

	httpx.WriteSuccess(w, http.StatusOK, userListResponse{
		Users:      profiles,
		Pagination: newPagination(page, limit, total),
	}, "")
	return nil
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) error {
	userID := r.PathValue("id")
	user, err := s.loadUser(r, userID)
	if err != nil {
		return err
	}

	if identity, ok := s.guard.ResolveIdentity(r); ok && (identity.UserID == userID || identity.IsAdmin()) {
		httpx.WriteSuccess(w, http.StatusOK, userResponse{User: user.Profile()}, "")
		return nil
	}

	httpx.WriteSuccess(w, http.StatusOK, map[string]publicProfile{
		"user": {UserProfile: user.Profile()},
	}, "")
	return nil
}

type updateUserRequest struct {
	Username     *string `json:"username"`
	FirstName    *string `json:"firstName"`
	LastName     *string `json:"lastName"`
	Bio          *string `json:"bio"`
	Location     *string `json:"location"`
	CookingLevel *string `json:"cookingLevel"`
	Birthday     *string `json:"birthday"`

	// Admin only.
	Role   *models.Role       `json:"role"`
	Status *models.UserStatus `json:"status"`
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	userID := r.PathValue("id")
	if identity.UserID != userID && !identity.IsAdmin() {
		return apierr.Forbidden("")
	}

	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	user, err := s.loadUser(r, userID)
	if err != nil {
		return err
	}

	var errs validationErrors
	if req.Username != nil {
		username, msg := validateUsername(*req.Username)
		errs.add(msg)
		user.Username = username
	}
	if req.FirstName != nil {
		user.FirstName = sanitize(*req.FirstName, maxNameLength)
		errs.check(user.FirstName != "", "First name cannot be empty")
	}
	if req.LastName != nil {
		user.LastName = sanitize(*req.LastName, maxNameLength)
		errs.check(user.LastName != "", "Last name cannot be empty")
	}
	if req.Bio != nil {
		user.Bio = sanitize(*req.Bio, maxBioLength)
	}
	if req.Location != nil {
		user.Location = sanitize(*req.Location, maxLocationLength)
	}
	if req.CookingLevel != nil {
		errs.check(oneOf(*req.CookingLevel, models.CookingLevels), "Invalid cooking level")
		user.CookingLevel = *req.CookingLevel
	}
	if req.Birthday != nil {
		user.Birthday = req.Birthday
	}

	if identity.IsAdmin() {
		if req.Role != nil {
			errs.check(req.Role.Valid(), "Invalid role")
			user.Role = *req.Role
		}
		if req.Status != nil {
			errs.check(req.Status.Valid(), "Invalid status")
			user.Status = *req.Status
		}
	}

	if len(errs) > 0 {
		return apierr.Validation("Validation failed", errs...)
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return apierr.NotFound("User not found")
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, userResponse{User: user.Profile()}, "Profile updated")
	return nil
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setUserStatus(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.guard.RequireRole(r, models.RoleAdmin); err != nil {
		return err
	}

	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	status := models.UserStatus(req.Status)
	if !status.Valid() {
		return apierr.Validation("status must be one of: active, inactive, suspended, pending")
	}

	user, err := s.users.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return apierr.NotFound("User not found")
		}
		return fmt.Errorf("failed to set user status: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, userResponse{User: user.Profile()}, "User status updated")
	return nil
}

// deleteUser removes an account together with its recipes, reviews, stats,
// activity, search history and uploaded images.
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireRole(r, models.RoleAdmin)
	if err != nil {
		return err
	}

	user, err := s.loadUser(r, r.PathValue("id"))
	if err != nil {
		return err
	}

	ctx := r.Context()

	recipes, err := s.recipes.DeleteByAuthor(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("failed to delete recipes: %w", err)
	}
	for _, recipe := range recipes {
		if err := s.reviews.DeleteByRecipe(ctx, recipe.RecipeID); err != nil {
			return fmt.Errorf("failed to delete reviews: %w", err)
		}
		if err := s.users.RemoveFavoriteEverywhere(ctx, recipe.RecipeID); err != nil {
			return fmt.Errorf("failed to remove favorites: %w", err)
		}
	}

	if err := s.reviews.DeleteByUser(ctx, user.UserID); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	if err := s.stats.RemoveUser(ctx, user.UserID); err != nil {
		return fmt.Errorf("failed to remove user from stats: %w", err)
	}
	if err := s.activity.DeleteByUser(ctx, user.UserID); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	if err := s.searches.Clear(ctx, user.UserID); err != nil {
		return fmt.Errorf("failed to clear search history: %w", err)
	}
	if err := s.users.Delete(ctx, user.UserID); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.uploads.RemoveQuietly(user.AvatarStoragePath)
	for _, recipe := range recipes {
		s.uploads.RemoveQuietly(recipe.ImageStoragePath)
	}

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.UserID).
		Str("deleted_by", identity.UserID).
		Int("recipes", len(recipes)).
		Msg("user deleted")

	httpx.WriteSuccess(w, http.StatusOK, nil, "User deleted")
	return nil
}
