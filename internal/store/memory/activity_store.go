package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// ActivityStore implements store.ActivityStore using in-memory storage.
type ActivityStore struct {
	mu      sync.RWMutex
	entries []*models.ActivityEntry // append order
}

var _ store.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

func cloneActivity(entry *models.ActivityEntry) *models.ActivityEntry {
	clone := *entry
	clone.Metadata = maps.Clone(entry.Metadata)
	return &clone
}

// Create appends an entry.
func (s *ActivityStore) Create(ctx context.Context, entry *models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneActivity(entry)
	if clone.ActivityID == "" {
		clone.ActivityID = models.NewID("activity")
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, clone)
	entry.ActivityID = clone.ActivityID
	entry.CreatedAt = clone.CreatedAt

	return nil
}

// List returns one page of entries, newest first.
func (s *ActivityStore) List(ctx context.Context, page, limit int) ([]*models.ActivityEntry, int, error) {
	s.mu.RLock()
	all := make([]*models.ActivityEntry, len(s.entries))
	for i, entry := range s.entries {
		all[i] = cloneActivity(entry)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(all, func(a, b *models.ActivityEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ActivityID, a.ActivityID)
	})

	return paginate(all, page, limit), len(all), nil
}

// DeleteByUser removes every entry recorded for userID.
func (s *ActivityStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = slices.DeleteFunc(s.entries, func(e *models.ActivityEntry) bool {
		return e.UserID == userID
	})
	return nil
}

// Prune removes entries older than cutoff.
func (s *ActivityStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e *models.ActivityEntry) bool {
		return e.CreatedAt.Before(cutoff)
	})
	return before - len(s.entries), nil
}
