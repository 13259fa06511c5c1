package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
)

const (
	defaultActivityPageSize = 20
	maxActivityPageSize     = 100

	maxActivityTypeLength    = 80
	maxActivityMessageLength = 500

	defaultStatsDays = 30
	maxStatsDays     = 90
)

// recordDaily applies fn to the stats bucket of at. Stats are best effort and
// never fail the request that produced them.
func (s *Server) recordDaily(ctx context.Context, at time.Time, fn func(day string) error) {
	day := models.DayKey(at)
	if err := fn(day); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("day", day).Msg("failed to update daily stats")
	}
}

// logActivity appends entry to the activity feed, logging failures.
func (s *Server) logActivity(r *http.Request, entry *models.ActivityEntry) {
	if entry.ActivityID == "" {
		entry.ActivityID = models.NewID("activity")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.activity.Create(r.Context(), entry); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("type", entry.Type).Msg("failed to record activity")
	}
}

func (s *Server) listSearchHistory(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	entries, err := s.searches.List(r.Context(), identity.UserID)
	if err != nil {
		return fmt.Errorf("failed to list search history: %w", err)
	}
	if entries == nil {
		entries = []models.SearchEntry{}
	}

	httpx.WriteSuccess(w, http.StatusOK, entries, "Search history")
	return nil
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) recordSearch(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	var req searchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	entry := models.SearchEntry{
		Query:      sanitize(req.Query, maxSearchLength),
		SearchedAt: time.Now(),
	}
	if entry.Query == "" {
		return apierr.Validation("query is required")
	}

	if _, err := s.searches.Record(r.Context(), identity.UserID, entry); err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusCreated, entry, "Search recorded")
	return nil
}

func (s *Server) clearSearchHistory(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	if err := s.searches.Clear(r.Context(), identity.UserID); err != nil {
		return fmt.Errorf("failed to clear search history: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusOK, nil, "Search history cleared")
	return nil
}

type activityListResponse struct {
	Items      []*models.ActivityEntry `json:"items"`
	Pagination pagination              `json:"pagination"`
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.guard.RequireRole(r, models.RoleAdmin); err != nil {
		return err
	}

	page, limit := pageParams(r, defaultActivityPageSize, maxActivityPageSize)
	entries, total, err := s.activity.List(r.Context(), page, limit)
	if err != nil {
		return fmt.Errorf("failed to list activity: %w", err)
	}
	if entries == nil {
		entries = []*models.ActivityEntry{}
	}

	httpx.WriteSuccess(w, http.StatusOK, activityListResponse{
		Items:      entries,
		Pagination: newPagination(page, limit, total),
	}, "Activity log")
	return nil
}

type activityRequest struct {
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	TargetID string         `json:"targetId"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) createActivity(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireIdentity(r)
	if err != nil {
		return err
	}

	var req activityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	entry := &models.ActivityEntry{
		ActivityID: models.NewID("activity"),
		UserID:     identity.UserID,
		Type:       sanitize(req.Type, maxActivityTypeLength),
		Message:    sanitize(req.Message, maxActivityMessageLength),
		TargetID:   sanitize(req.TargetID, maxTitleLength),
		Metadata:   req.Metadata,
		CreatedAt:  time.Now(),
	}
	if entry.Type == "" || entry.Message == "" {
		return apierr.Validation("type and message are required")
	}

	if err := s.activity.Create(r.Context(), entry); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	httpx.WriteSuccess(w, http.StatusCreated, entry, "Activity recorded")
	return nil
}

type statsRange struct {
	Days  int    `json:"days"`
	Since string `json:"since"`
}

type todayStats struct {
	NewUsers        int `json:"newUsers"`
	NewContributors int `json:"newContributors"`
	ActiveUsers     int `json:"activeUsers"`
	Views           int `json:"views"`
}

type dailyStatsResponse struct {
	Range statsRange          `json:"range"`
	Today todayStats          `json:"today"`
	Daily []*models.DailyStat `json:"daily"`
}

func (s *Server) dailyStats(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.guard.RequireRole(r, models.RoleAdmin); err != nil {
		return err
	}

	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		days = defaultStatsDays
	}
	days = min(days, maxStatsDays)

	ctx := r.Context()
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := models.DayKey(midnight.AddDate(0, 0, -days))

	daily, err := s.stats.List(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list daily stats: %w", err)
	}
	if daily == nil {
		daily = []*models.DailyStat{}
	}

	counts, err := s.users.Counts(ctx, midnight)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}

	today := todayStats{
		NewUsers:        counts.Joined,
		NewContributors: counts.JoinedContributors,
		ActiveUsers:     counts.Active,
	}
	todayKey := models.DayKey(midnight)
	for _, stat := range daily {
		if stat.Date == todayKey {
			today.Views = len(stat.Views)
			break
		}
	}

	httpx.WriteSuccess(w, http.StatusOK, dailyStatsResponse{
		Range: statsRange{Days: days, Since: since},
		Today: today,
		Daily: daily,
	}, "Daily stats")
	return nil
}
