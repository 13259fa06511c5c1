package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	"github.com/kookbook/kookbook/internal/models"
)

// UserFinder is the slice of the user store the guard depends on.
type UserFinder interface {
	Get(ctx context.Context, userID string) (*models.User, error)
}

// Identity is the caller resolved from a valid, unrevoked access token.
type Identity struct {
	UserID string
	Role   models.Role
	Status models.UserStatus

	// User is the record loaded while resolving the identity.
	User *models.User
}

// IsAdmin reports whether the identity has the admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

// Guard resolves and enforces request identity.
type Guard struct {
	codec *TokenCodec
	users UserFinder
}

// NewGuard returns a Guard verifying tokens with codec against users.
func NewGuard(codec *TokenCodec, users UserFinder) *Guard {
	return &Guard{codec: codec, users: users}
}

// ResolveIdentity returns the caller's identity, or false when the request carries no
// valid session. Missing cookie, bad token, wrong kind, unknown user and token
// version mismatch are all reported the same way.
func (g *Guard) ResolveIdentity(r *http.Request) (*Identity, bool) {
	token := AccessTokenFromRequest(r)
	if token == "" {
		return nil, false
	}

	claims, ok := g.codec.VerifyKind(token, TokenKindAccess)
	if !ok {
		return nil, false
	}

	user, err := g.users.Get(r.Context(), claims.Subject)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Str("user_id", claims.Subject).Msg("session user lookup failed")
		return nil, false
	}

	if user.TokenVersion != claims.TokenVersion {
		return nil, false
	}

	return &Identity{
		UserID: user.UserID,
		Role:   user.Role,
		Status: user.Status,
		User:   user,
	}, true
}

// RequireIdentity is ResolveIdentity failing with Unauthenticated.
func (g *Guard) RequireIdentity(r *http.Request) (*Identity, error) {
	identity, ok := g.ResolveIdentity(r)
	if !ok {
		return nil, apierr.Unauthenticated()
	}
	return identity, nil
}

// RequireRole requires an identity with the given role.
func (g *Guard) RequireRole(r *http.Request, role models.Role) (*Identity, error) {
	identity, err := g.RequireIdentity(r)
	if err != nil {
		return nil, err
	}
	if identity.Role != role {
		return nil, apierr.Forbidden("Insufficient permissions")
	}
	return identity, nil
}

// RequireActiveNonAdmin requires an active end-user account. Admin accounts are
// refused so moderation identities cannot like, favorite or review.
func (g *Guard) RequireActiveNonAdmin(r *http.Request) (*Identity, error) {
	identity, err := g.RequireIdentity(r)
	if err != nil {
		return nil, err
	}
	if identity.Role == models.RoleAdmin {
		return nil, apierr.Forbidden("Administrators cannot perform this action")
	}
	if identity.Status != models.UserStatusActive {
		return nil, apierr.Forbidden("Account is not active")
	}
	return identity, nil
}

// AccessTokenFromRequest returns the access token from the session cookie, falling
// back to an Authorization bearer token for non-browser clients.
func AccessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieAccess); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
