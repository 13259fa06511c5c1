package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

var _ store.UserStore = (*UserStore)(nil)

// NewUserStore creates a new PostgreSQL-backed user store.
// It shares the connection pool with other stores.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `
	user_id, username, first_name, last_name, email, password_hash,
	birthday, role, status, joined_date, last_active, bio, location,
	cooking_level, favorites, avatar_url, avatar_storage_path,
	token_version, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.UserID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.PasswordHash,
		&u.Birthday,
		&u.Role,
		&u.Status,
		&u.JoinedDate,
		&u.LastActive,
		&u.Bio,
		&u.Location,
		&u.CookingLevel,
		&u.Favorites,
		&u.AvatarURL,
		&u.AvatarStoragePath,
		&u.TokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}
	return u, nil
}

// GetByEmail retrieves a user by (case-insensitive) email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", mapPostgresError(err))
	}
	return u, nil
}

// GetMany returns the users that exist among userIDs.
func (s *UserStore) GetMany(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	found := make(map[string]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", mapPostgresError(err))
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		found[u.UserID] = u
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return found, nil
}

// Create inserts a new user. Returns store.ErrEmailTaken on duplicate email.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.JoinedDate.IsZero() {
		user.JoinedDate = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(user.Email)

	favorites := user.Favorites
	if favorites == nil {
		favorites = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		user.UserID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		user.Birthday,
		user.Role,
		user.Status,
		user.JoinedDate,
		user.LastActive,
		user.Bio,
		user.Location,
		user.CookingLevel,
		favorites,
		user.AvatarURL,
		user.AvatarStoragePath,
		user.TokenVersion,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrEmailTaken) {
			return store.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", mapPostgresError(err))
	}

	log.Debug().Str("user_id", user.UserID).Msg("Created user")
	return nil
}

// Update persists profile fields, status and last active time. Email,
// token_version, favorites and the avatar are never written here.
func (s *UserStore) Update(ctx context.Context, user *models.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			username = $2,
			first_name = $3,
			last_name = $4,
			password_hash = $5,
			birthday = $6,
			role = $7,
			status = $8,
			last_active = $9,
			bio = $10,
			location = $11,
			cooking_level = $12,
			updated_at = now()
		WHERE user_id = $1
	`,
		user.UserID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Birthday,
		user.Role,
		user.Status,
		user.LastActive,
		user.Bio,
		user.Location,
		user.CookingLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// RecordLogin stamps last_active and reactivates idle accounts in one statement.
func (s *UserStore) RecordLogin(ctx context.Context, userID string, at time.Time) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users SET
			status = CASE WHEN status IN ('active', 'inactive') THEN 'active' ELSE status END,
			last_active = $2,
			updated_at = now()
		WHERE user_id = $1
		RETURNING `+userColumns, userID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to record login: %w", mapPostgresError(err))
	}
	return u, nil
}

// List returns one page of matching users, newest first.
func (s *UserStore) List(ctx context.Context, opts store.ListUsersOptions) ([]*models.User, int, error) {
	var where whereBuilder
	if opts.Status != "" {
		where.add("status = ?", opts.Status)
	}
	if opts.ExcludeStatus != "" {
		where.add("status <> ?", opts.ExcludeStatus)
	}
	if opts.Role != "" {
		where.add("role = ?", opts.Role)
	}
	if opts.Search != "" {
		where.add("(username ILIKE ? OR email ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ?)",
			"%"+likeEscaper.Replace(opts.Search)+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", mapPostgresError(err))
	}

	args := append(where.args, opts.Limit, max((opts.Page-1)*opts.Limit, 0))
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM users%s
		ORDER BY joined_date DESC, user_id ASC
		LIMIT $%d OFFSET $%d
	`, userColumns, where.String(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", mapPostgresError(err))
	}
	defer rows.Close()

	users := make([]*models.User, 0, opts.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, total, nil
}

// SetAvatar replaces the avatar and returns the previous storage path.
func (s *UserStore) SetAvatar(ctx context.Context, userID, url, storagePath string) (string, error) {
	var previous string
	err := s.pool.QueryRow(ctx, `
		UPDATE users u SET avatar_url = $2, avatar_storage_path = $3, updated_at = now()
		FROM (SELECT avatar_storage_path FROM users WHERE user_id = $1 FOR UPDATE) old
		WHERE u.user_id = $1
		RETURNING old.avatar_storage_path
	`, userID, url, storagePath).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to set avatar: %w", mapPostgresError(err))
	}
	return previous, nil
}

// Delete removes a user.
func (s *UserStore) Delete(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}

	log.Info().Str("user_id", userID).Msg("Deleted user")
	return nil
}

// Counts reports joins and activity at or after since.
func (s *UserStore) Counts(ctx context.Context, since time.Time) (store.UserCounts, error) {
	var counts store.UserCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE joined_date >= $1),
			COUNT(*) FILTER (WHERE joined_date >= $1 AND role = 'user'),
			COUNT(*) FILTER (WHERE last_active >= $1)
		FROM users
	`, since).Scan(&counts.Joined, &counts.JoinedContributors, &counts.Active)
	if err != nil {
		return store.UserCounts{}, fmt.Errorf("failed to count users: %w", mapPostgresError(err))
	}
	return counts, nil
}

// SetStatus sets a user's status and returns the updated user.
func (s *UserStore) SetStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users SET status = $2, updated_at = now()
		WHERE user_id = $1
		RETURNING `+userColumns, userID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to set user status: %w", mapPostgresError(err))
	}
	return u, nil
}

// IncrementTokenVersion atomically bumps the user's token version.
func (s *UserStore) IncrementTokenVersion(ctx context.Context, userID string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET token_version = token_version + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING token_version
	`, userID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to increment token version: %w", mapPostgresError(err))
	}

	log.Info().Str("user_id", userID).Int("token_version", version).Msg("Revoked user sessions")
	return version, nil
}

// ToggleFavorite adds or removes recipeID from the user's favorites in one statement.
func (s *UserStore) ToggleFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	var favorited bool
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET favorites = CASE
				WHEN $2 = ANY(favorites) THEN array_remove(favorites, $2)
				ELSE array_append(favorites, $2)
			END,
			updated_at = now()
		WHERE user_id = $1
		RETURNING $2 = ANY(favorites)
	`, userID, recipeID).Scan(&favorited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, store.ErrUserNotFound
		}
		return false, fmt.Errorf("failed to toggle favorite: %w", mapPostgresError(err))
	}
	return favorited, nil
}

// RemoveFavoriteEverywhere drops recipeID from every user's favorites.
func (s *UserStore) RemoveFavoriteEverywhere(ctx context.Context, recipeID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET favorites = array_remove(favorites, $1), updated_at = now()
		WHERE $1 = ANY(favorites)
	`, recipeID)
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", mapPostgresError(err))
	}
	return nil
}

// Ping checks database connectivity.
func (s *UserStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
