package models

import (
	"slices"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusPending   UserStatus = "pending"
)

// UserStatuses lists every status an admin may assign.
var UserStatuses = []UserStatus{
	UserStatusActive,
	UserStatusInactive,
	UserStatusSuspended,
	UserStatusPending,
}

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return slices.Contains(UserStatuses, s)
}

// CookingLevels lists the accepted self-reported skill levels.
var CookingLevels = []string{"Beginner", "Intermediate", "Advanced", "Professional"}

// User is an account record. PasswordHash and TokenVersion never leave the server;
// use Profile for anything that is serialized to a client.
type User struct {
	UserID       string
	Username     string
	FirstName    string
	LastName     string
	Email        string // lowercased, unique
	PasswordHash string
	Birthday     *string
	Role         Role
	Status       UserStatus
	JoinedDate   time.Time
	LastActive   *time.Time
	Bio          string
	Location     string
	CookingLevel string
	Favorites    []string // recipe IDs

	// AvatarURL is the public URL of the uploaded avatar, if any.
	AvatarURL         *string
	AvatarStoragePath string

	// TokenVersion is bumped to revoke every token issued for this user.
	TokenVersion int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFavorite reports whether recipeID is in the user's favorites.
func (u *User) IsFavorite(recipeID string) bool {
	return slices.Contains(u.Favorites, recipeID)
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	clone := *u
	clone.Favorites = slices.Clone(u.Favorites)
	return &clone
}

// UserProfile is the client-facing view of a user.
type UserProfile struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	FullName     string     `json:"fullName"`
	Email        string     `json:"email"`
	Birthday     *string    `json:"birthday"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	JoinedDate   time.Time  `json:"joinedDate"`
	LastActive   *time.Time `json:"lastActive"`
	Bio          string     `json:"bio"`
	Location     string     `json:"location"`
	CookingLevel string     `json:"cookingLevel"`
	Favorites    []string   `json:"favorites"`
	Avatar       *string    `json:"avatar"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Profile returns the serializable view of u.
func (u *User) Profile() UserProfile {
	favorites := u.Favorites
	if favorites == nil {
		favorites = []string{}
	}
	return UserProfile{
		ID:           u.UserID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		FullName:     u.FirstName + " " + u.LastName,
		Email:        u.Email,
		Birthday:     u.Birthday,
		Role:         u.Role,
		Status:       u.Status,
		JoinedDate:   u.JoinedDate,
		LastActive:   u.LastActive,
		Bio:          u.Bio,
		Location:     u.Location,
		CookingLevel: u.CookingLevel,
		Favorites:    favorites,
		Avatar:       u.AvatarURL,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
