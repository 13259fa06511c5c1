package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kookbook/kookbook/internal/models"
)

const (
	// MinSecretLength is the shortest signing secret NewTokenCodec accepts.
	MinSecretLength = 32

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	issuer = "kookbook"
)

// ErrSecretTooShort is returned when the signing secret is missing or shorter than MinSecretLength.
var ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims are the claims carried by every session token.
type Claims struct {
	jwt.RegisteredClaims

	Role         models.Role `json:"role,omitempty"`
	Kind         TokenKind   `json:"typ"`
	TokenVersion int         `json:"tv"`
}

// TokenCodec issues and verifies HS256 session tokens.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec returns a codec signing with secret. Zero TTLs fall back to the defaults.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the lifetime of access tokens.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken returns a short-lived token carrying the user's role and token version.
func (c *TokenCodec) IssueAccessToken(user *models.User) (string, error) {
	return c.issue(user.UserID, user.Role, TokenKindAccess, user.TokenVersion, c.accessTTL)
}

// IssueRefreshToken returns a long-lived token usable only to mint access tokens.
func (c *TokenCodec) IssueRefreshToken(user *models.User) (string, error) {
	return c.issue(user.UserID, "", TokenKindRefresh, user.TokenVersion, c.refreshTTL)
}

func (c *TokenCodec) issue(subject string, role models.Role, kind TokenKind, version int, ttl time.Duration) (string, error) {
	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:         role,
		Kind:         kind,
		TokenVersion: version,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token. It never returns an error:
// any malformed, tampered or expired input yields ok == false.
func (c *TokenCodec) Verify(token string) (*Claims, bool) {
	if token == "" {
		return nil, false
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, false
	}

	return claims, true
}

// VerifyKind verifies token and additionally requires it to be of the given kind.
func (c *TokenCodec) VerifyKind(token string, kind TokenKind) (*Claims, bool) {
	claims, ok := c.Verify(token)
	if !ok || claims.Kind != kind {
		return nil, false
	}
	return claims, true
}
