package models

import "time"

// ActivityRetention is how long activity entries are kept.
const ActivityRetention = 90 * 24 * time.Hour

// ActivityEntry is one line of the admin activity feed.
type ActivityEntry struct {
	ActivityID string         `json:"id"`
	UserID     string         `json:"userId"`
	Type       string         `json:"type"`
	Message    string         `json:"message"`
	TargetID   string         `json:"targetId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// SearchHistoryLimit caps the number of searches kept per user.
const SearchHistoryLimit = 10

// SearchEntry is a query a user ran, most recent first when listed.
type SearchEntry struct {
	Query      string    `json:"query"`
	SearchedAt time.Time `json:"searchedAt"`
}

// DailyStat aggregates one UTC day of site activity.
type DailyStat struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	NewUsers    []string `json:"newUsers"`
	ActiveUsers []string `json:"activeUsers"`
	Views       []View   `json:"views"`
}

// View is a recipe view by an authenticated user on a given day.
type View struct {
	ViewerID string    `json:"viewerKey"`
	RecipeID string    `json:"recipeId"`
	ViewedAt time.Time `json:"viewedAt"`
}

// DayKey formats t as the UTC date used to bucket daily stats.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
