package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
// This implementation is for development and tests - data is lost on restart.
type UserStore struct {
	mu sync.RWMutex

	users        map[string]*models.User // user_id -> User
	usersByEmail map[string]*models.User // email -> User
}

var _ store.UserStore = (*UserStore)(nil)

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users:        make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
	}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	return user.Clone(), nil
}

// GetByEmail retrieves a user by (case-insensitive) email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByEmail[strings.ToLower(email)]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	return user.Clone(), nil
}

// GetMany returns the users that exist among userIDs.
func (s *UserStore) GetMany(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]*models.User, len(userIDs))
	for _, id := range userIDs {
		if user, exists := s.users[id]; exists {
			found[id] = user.Clone()
		}
	}
	return found, nil
}

// Create creates a new user in memory.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return store.ErrEmailTaken
	}

	now := time.Now()
	clone := user.Clone()
	clone.Email = email
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	s.users[clone.UserID] = clone
	s.usersByEmail[email] = clone

	return nil
}

// Update persists the profile. Email, token version, favorites and avatar
// keep their stored values.
func (s *UserStore) Update(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.users[user.UserID]
	if !exists {
		return store.ErrUserNotFound
	}

	clone := user.Clone()
	clone.Email = existing.Email
	clone.TokenVersion = existing.TokenVersion
	clone.Favorites = slices.Clone(existing.Favorites)
	clone.AvatarURL = existing.AvatarURL
	clone.AvatarStoragePath = existing.AvatarStoragePath
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()

	s.users[clone.UserID] = clone
	s.usersByEmail[clone.Email] = clone

	return nil
}

// RecordLogin stamps the last active time and reactivates idle accounts.
func (s *UserStore) RecordLogin(ctx context.Context, userID string, at time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	if user.Status == models.UserStatusActive || user.Status == models.UserStatusInactive {
		user.Status = models.UserStatusActive
	}
	user.LastActive = &at
	user.UpdatedAt = time.Now()

	return user.Clone(), nil
}

// List returns one page of matching users, newest first.
func (s *UserStore) List(ctx context.Context, opts store.ListUsersOptions) ([]*models.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(opts.Search)

	var matches []*models.User
	for _, user := range s.users {
		if opts.Status != "" && user.Status != opts.Status {
			continue
		}
		if opts.ExcludeStatus != "" && user.Status == opts.ExcludeStatus {
			continue
		}
		if opts.Role != "" && user.Role != opts.Role {
			continue
		}
		if search != "" && !userMatches(user, search) {
			continue
		}
		matches = append(matches, user)
	}

	slices.SortFunc(matches, func(a, b *models.User) int {
		if c := b.JoinedDate.Compare(a.JoinedDate); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})

	total := len(matches)
	page := paginate(matches, opts.Page, opts.Limit)

	result := make([]*models.User, len(page))
	for i, user := range page {
		result[i] = user.Clone()
	}
	return result, total, nil
}

func userMatches(user *models.User, search string) bool {
	for _, field := range []string{user.Username, user.Email, user.FirstName, user.LastName} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

// SetAvatar replaces the user's avatar and returns the previous storage path.
func (s *UserStore) SetAvatar(ctx context.Context, userID, url, storagePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return "", store.ErrUserNotFound
	}

	previous := user.AvatarStoragePath
	user.AvatarURL = &url
	user.AvatarStoragePath = storagePath
	user.UpdatedAt = time.Now()

	return previous, nil
}

// Delete removes a user.
func (s *UserStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return store.ErrUserNotFound
	}

	delete(s.users, userID)
	delete(s.usersByEmail, user.Email)
	return nil
}

// Counts reports joins and activity at or after since.
func (s *UserStore) Counts(ctx context.Context, since time.Time) (store.UserCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts store.UserCounts
	for _, user := range s.users {
		if !user.JoinedDate.Before(since) {
			counts.Joined++
			if user.Role == models.RoleUser {
				counts.JoinedContributors++
			}
		}
		if user.LastActive != nil && !user.LastActive.Before(since) {
			counts.Active++
		}
	}
	return counts, nil
}

// SetStatus sets a user's status and returns the updated user.
func (s *UserStore) SetStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	user.Status = status
	user.UpdatedAt = time.Now()

	return user.Clone(), nil
}

// IncrementTokenVersion bumps the user's token version under the write lock.
func (s *UserStore) IncrementTokenVersion(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return 0, store.ErrUserNotFound
	}

	user.TokenVersion++
	user.UpdatedAt = time.Now()

	return user.TokenVersion, nil
}

// ToggleFavorite adds or removes recipeID from the user's favorites.
func (s *UserStore) ToggleFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return false, store.ErrUserNotFound
	}

	user.UpdatedAt = time.Now()
	if idx := slices.Index(user.Favorites, recipeID); idx >= 0 {
		user.Favorites = slices.Delete(user.Favorites, idx, idx+1)
		return false, nil
	}

	user.Favorites = append(user.Favorites, recipeID)
	return true, nil
}

// RemoveFavoriteEverywhere drops recipeID from every user's favorites.
func (s *UserStore) RemoveFavoriteEverywhere(ctx context.Context, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, user := range s.users {
		if !slices.Contains(user.Favorites, recipeID) {
			continue
		}
		user.Favorites = slices.DeleteFunc(user.Favorites, func(id string) bool {
			return id == recipeID
		})
		user.UpdatedAt = now
	}

	return nil
}

// Ping always succeeds for the in-memory store.
func (s *UserStore) Ping(ctx context.Context) error {
	return nil
}
