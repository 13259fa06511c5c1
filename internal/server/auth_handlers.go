package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	"github.com/kookbook/kookbook/internal/auth"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

type userResponse struct {
	User models.UserProfile `json:"user"`
}

type signupRequest struct {
	Username     string  `json:"username"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	Birthday     *string `json:"birthday"`
	Bio          string  `json:"bio"`
	Location     string  `json:"location"`
	CookingLevel string  `json:"cookingLevel"`
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) error {
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	var errs validationErrors
	username, msg := validateUsername(req.Username)
	errs.add(msg)
	firstName := sanitize(req.FirstName, maxNameLength)
	errs.check(firstName != "", "First name is required")
	lastName := sanitize(req.LastName, maxNameLength)
	errs.check(lastName != "", "Last name is required")
	email, msg := normalizeEmail(req.Email)
	errs.add(msg)
	errs.add(validatePassword(req.Password))

	cookingLevel := req.CookingLevel
	if cookingLevel == "" {
		cookingLevel = "Beginner"
	}
	errs.check(oneOf(cookingLevel, models.CookingLevels), "Invalid cooking level")

	if len(errs) > 0 {
		return apierr.Validation("Validation failed", errs...)
	}

	if _, err := s.users.GetByEmail(r.Context(), email); err == nil {
		return apierr.Conflict("Email already registered")
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("failed to look up email: %w", err)
	}

	hash, err := s.cfg.Hasher.Hash(req.Password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := &models.User{
		UserID:       models.NewID("user"),
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: hash,
		Birthday:     req.Birthday,
		Role:         models.RoleUser,
		Status:       models.UserStatusPending,
		JoinedDate:   now,
		Bio:          sanitize(req.Bio, maxBioLength),
		Location:     sanitize(req.Location, maxLocationLength),
		CookingLevel: cookingLevel,
		Favorites:    []string{},
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return apierr.Conflict("Email already registered")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	ctx := r.Context()
	s.recordDaily(ctx, now, func(day string) error { return s.stats.RecordNewUser(ctx, day, user.UserID) })

	if err := s.startSession(w, r, user); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("user signed up")

	httpx.WriteSuccess(w, http.StatusCreated, userResponse{User: user.Profile()}, "Account created successfully")
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func invalidCredentials() *apierr.Error {
	return apierr.WithCode(apierr.KindInvalidCredentials, "INVALID_CREDENTIALS", "Invalid email or password")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	email, msg := normalizeEmail(req.Email)
	if msg != "" {
		return apierr.Validation(msg)
	}
	if req.Password == "" {
		return apierr.Validation("Password is required")
	}

	ctx := r.Context()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.metrics.RecordLogin(ctx, "invalid_credentials")
			return invalidCredentials()
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if !s.cfg.Hasher.Matches(user.PasswordHash, req.Password) {
		s.metrics.RecordLogin(ctx, "invalid_credentials")
		return invalidCredentials()
	}

	now := time.Now()
	user, err = s.users.RecordLogin(ctx, user.UserID, now)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	s.recordDaily(ctx, now, func(day string) error { return s.stats.RecordActiveUser(ctx, day, user.UserID) })

	if err := s.startSession(w, r, user); err != nil {
		return err
	}

	s.metrics.RecordLogin(ctx, "success")
	zerolog.Ctx(ctx).Info().Str("user_id", user.UserID).Msg("user logged in")

	httpx.WriteSuccess(w, http.StatusOK, userResponse{User: user.Profile()}, "Login successful")
	return nil
}

// startSession issues a fresh token pair for user and sets the session cookies.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *models.User) error {
	access, err := s.cfg.Codec.IssueAccessToken(user)
	if err != nil {
		return fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.cfg.Codec.IssueRefreshToken(user)
	if err != nil {
		return fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.cfg.Cookies.IssueSessionCookies(w, r, access, refresh)
	return nil
}

// invalidRefreshToken is returned for every refresh token that is present but
// unusable, so malformed, expired, orphaned and revoked tokens look the same.
func invalidRefreshToken() *apierr.Error {
	return apierr.WithCode(apierr.KindUnauthenticated, "INVALID_TOKEN", "Invalid refresh token")
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(auth.CookieRefresh)
	if err != nil || cookie.Value == "" {
		return apierr.WithCode(apierr.KindUnauthenticated, "NO_REFRESH_TOKEN", "Refresh token not found")
	}

	claims, ok := s.cfg.Codec.VerifyKind(cookie.Value, auth.TokenKindRefresh)
	if !ok {
		return invalidRefreshToken()
	}

	user, err := s.users.Get(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return invalidRefreshToken()
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if user.TokenVersion != claims.TokenVersion {
		zerolog.Ctx(r.Context()).Info().Str("user_id", user.UserID).Msg("revoked refresh token presented")
		return invalidRefreshToken()
	}

	access, err := s.cfg.Codec.IssueAccessToken(user)
	if err != nil {
		return fmt.Errorf("failed to issue access token: %w", err)
	}

	// The refresh token is reused until it expires; only the access token and
	// the CSRF value rotate.
	s.cfg.Cookies.IssueSessionCookies(w, r, access, cookie.Value)

	httpx.WriteSuccess(w, http.StatusOK, userResponse{User: user.Profile()}, "Token refreshed")
	return nil
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		if apierr.Is(err, apierr.KindUnauthenticated) {
			s.cfg.Cookies.ClearSessionCookies(w, r)
			httpx.WriteSuccess(w, http.StatusOK, nil, "Logged out")
			return nil
		}
		return err
	}

	// Suspended and pending accounts keep their status so logging out cannot
	// be used to escape moderation.
	if identity.Status == models.UserStatusActive || identity.Status == models.UserStatusInactive {
		if _, err := s.users.SetStatus(r.Context(), identity.UserID, models.UserStatusInactive); err != nil {
			return fmt.Errorf("failed to update user status: %w", err)
		}
	}

	s.cfg.Cookies.ClearSessionCookies(w, r)
	httpx.WriteSuccess(w, http.StatusOK, nil, "Logged out successfully")
	return nil
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		if apierr.Is(err, apierr.KindUnauthenticated) {
			s.cfg.Cookies.ClearSessionCookies(w, r)
			httpx.WriteSuccess(w, http.StatusOK, nil, "Logged out")
			return nil
		}
		return err
	}

	version, err := s.users.IncrementTokenVersion(r.Context(), identity.UserID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.metrics.RecordSessionsRevoked(r.Context())
	zerolog.Ctx(r.Context()).Info().
		Str("user_id", identity.UserID).
		Int("token_version", version).
		Msg("all sessions revoked")

	s.cfg.Cookies.ClearSessionCookies(w, r)
	httpx.WriteSuccess(w, http.StatusOK, nil, "All sessions invalidated")
	return nil
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	httpx.WriteSuccess(w, http.StatusOK, userResponse{User: identity.User.Profile()}, "")
	return nil
}

type guestSessionResponse struct {
	GuestID string `json:"guestId"`
	Role    string `json:"role"`
}

func (s *Server) guestSession(w http.ResponseWriter, r *http.Request) error {
	httpx.WriteSuccess(w, http.StatusOK, guestSessionResponse{
		GuestID: "guest-" + uuid.NewString(),
		Role:    "guest",
	}, "Guest session ready")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	if err := s.users.Ping(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		return apierr.New(apierr.KindUnavailable, "Service unavailable")
	}

	httpx.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, "")
	return nil
}
