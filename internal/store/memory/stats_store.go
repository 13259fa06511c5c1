package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// StatsStore implements store.StatsStore using in-memory storage.
type StatsStore struct {
	mu   sync.RWMutex
	days map[string]*models.DailyStat // YYYY-MM-DD -> stat
}

var _ store.StatsStore = (*StatsStore)(nil)

// NewStatsStore creates a new in-memory stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{days: make(map[string]*models.DailyStat)}
}

func cloneStat(stat *models.DailyStat) *models.DailyStat {
	return &models.DailyStat{
		Date:        stat.Date,
		NewUsers:    slices.Clone(stat.NewUsers),
		ActiveUsers: slices.Clone(stat.ActiveUsers),
		Views:       slices.Clone(stat.Views),
	}
}

// dayLocked returns the stat for day, creating it. Callers hold mu.
func (s *StatsStore) dayLocked(day string) *models.DailyStat {
	stat, ok := s.days[day]
	if !ok {
		stat = &models.DailyStat{
			Date:        day,
			NewUsers:    []string{},
			ActiveUsers: []string{},
			Views:       []models.View{},
		}
		s.days[day] = stat
	}
	return stat
}

// RecordView adds a view unless the viewer already saw the recipe on day.
func (s *StatsStore) RecordView(ctx context.Context, day string, view models.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat := s.dayLocked(day)
	seen := slices.ContainsFunc(stat.Views, func(v models.View) bool {
		return v.ViewerID == view.ViewerID && v.RecipeID == view.RecipeID
	})
	if !seen {
		stat.Views = append(stat.Views, view)
	}
	return nil
}

// RecordNewUser adds userID to the day's sign-ups.
func (s *StatsStore) RecordNewUser(ctx context.Context, day, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat := s.dayLocked(day)
	if !slices.Contains(stat.NewUsers, userID) {
		stat.NewUsers = append(stat.NewUsers, userID)
	}
	return nil
}

// RecordActiveUser adds userID to the day's active users.
func (s *StatsStore) RecordActiveUser(ctx context.Context, day, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat := s.dayLocked(day)
	if !slices.Contains(stat.ActiveUsers, userID) {
		stat.ActiveUsers = append(stat.ActiveUsers, userID)
	}
	return nil
}

// List returns the days on or after sinceDay, newest first.
func (s *StatsStore) List(ctx context.Context, sinceDay string) ([]*models.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := []*models.DailyStat{}
	for day, stat := range s.days {
		if day >= sinceDay {
			stats = append(stats, cloneStat(stat))
		}
	}
	slices.SortFunc(stats, func(a, b *models.DailyStat) int {
		return strings.Compare(b.Date, a.Date)
	})
	return stats, nil
}

// RemoveUser drops userID from every day.
func (s *StatsStore) RemoveUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := func(id string) bool { return id == userID }
	for _, stat := range s.days {
		stat.NewUsers = slices.DeleteFunc(stat.NewUsers, drop)
		stat.ActiveUsers = slices.DeleteFunc(stat.ActiveUsers, drop)
		stat.Views = slices.DeleteFunc(stat.Views, func(v models.View) bool {
			return v.ViewerID == userID
		})
	}
	return nil
}
