package server

import (
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kookbook/kookbook/internal/auth"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{2,30}$`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// Free text length caps, in characters.
const (
	maxNameLength        = 50
	maxBioLength         = 500
	maxLocationLength    = 100
	maxTitleLength       = 100
	maxDescriptionLength = 1000
	maxCategoryLength    = 100
	maxIngredientName    = 100
	maxIngredientQty     = 50
	maxIngredientUnit    = 30
	maxInstructionLength = 1000
	maxCommentLength     = 2000
	maxSearchLength      = 200

	minTitleLength = 3

	// bcrypt only reads the first 72 bytes of a password.
	maxPasswordBytes = 72
)

// sanitize strips HTML tags, trims whitespace and truncates to maxLength runes.
func sanitize(s string, maxLength int) string {
	s = strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxLength]))
}

// normalizeEmail lowercases and validates an email address.
func normalizeEmail(email string) (string, string) {
	v := strings.ToLower(strings.TrimSpace(email))
	if v == "" {
		return "", "Email is required"
	}
	if !emailPattern.MatchString(v) {
		return "", "Invalid email format"
	}
	return v, ""
}

func validateUsername(username string) (string, string) {
	v := strings.TrimSpace(username)
	if !usernamePattern.MatchString(v) {
		return "", "Username must be 2-30 characters (letters, numbers, underscores)"
	}
	return v, ""
}

func validatePassword(password string) string {
	if password == "" {
		return "Password is required"
	}
	if utf8.RuneCountInString(password) < auth.MinPasswordLength {
		return "Password must be at least 4 characters"
	}
	if len(password) > maxPasswordBytes {
		return "Password must be at most 72 bytes"
	}
	return ""
}

// validationErrors collects field messages for a single VALIDATION_ERROR response.
type validationErrors []string

func (v *validationErrors) add(msg string) {
	if msg != "" {
		*v = append(*v, msg)
	}
}

func (v *validationErrors) check(ok bool, msg string) {
	if !ok {
		*v = append(*v, msg)
	}
}

func oneOf[T comparable](value T, allowed []T) bool {
	return slices.Contains(allowed, value)
}

// pageParams reads page and limit from the query string. Missing or malformed
// values fall back to the defaults; limit is clamped to [1, maxLimit].
func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	q := r.URL.Query()

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = defaultLimit
	}
	limit = min(max(limit, 1), maxLimit)

	return page, limit
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) pagination {
	return pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}
