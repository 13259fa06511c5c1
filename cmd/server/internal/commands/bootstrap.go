package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kookbook/kookbook/internal/auth"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// bootstrapAdmin creates an active administrator with the given credentials
// unless an account with that email already exists. Existing accounts are
// never modified.
func bootstrapAdmin(ctx context.Context, users store.UserStore, hasher *auth.Hasher, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		log.Info().Str("user_id", existing.UserID).Str("role", string(existing.Role)).Msg("Bootstrap admin already exists")
		return nil
	case !errors.Is(err, store.ErrUserNotFound):
		return fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		UserID:       models.NewID("user"),
		Username:     "admin",
		FirstName:    "Site",
		LastName:     "Admin",
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
		JoinedDate:   time.Now(),
		CookingLevel: "Professional",
		Favorites:    []string{},
	}

	if err := users.Create(ctx, admin); err != nil {
		// Another instance may have won the race.
		if errors.Is(err, store.ErrEmailTaken) {
			return nil
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}

	log.Info().Str("user_id", admin.UserID).Str("email", email).Msg("Created bootstrap admin")
	return nil
}
