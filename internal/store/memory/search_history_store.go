package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// SearchHistoryStore implements store.SearchHistoryStore using in-memory storage.
type SearchHistoryStore struct {
	mu      sync.RWMutex
	history map[string][]models.SearchEntry // user_id -> newest first
}

var _ store.SearchHistoryStore = (*SearchHistoryStore)(nil)

// NewSearchHistoryStore creates a new in-memory search history store.
func NewSearchHistoryStore() *SearchHistoryStore {
	return &SearchHistoryStore{history: make(map[string][]models.SearchEntry)}
}

// List returns the user's searches, newest first.
func (s *SearchHistoryStore) List(ctx context.Context, userID string) ([]models.SearchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := slices.Clone(s.history[userID])
	if entries == nil {
		entries = []models.SearchEntry{}
	}
	return entries, nil
}

// Record pushes entry to the front, deduplicating case-insensitively.
func (s *SearchHistoryStore) Record(ctx context.Context, userID string, entry models.SearchEntry) ([]models.SearchEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := slices.DeleteFunc(s.history[userID], func(e models.SearchEntry) bool {
		return strings.EqualFold(e.Query, entry.Query)
	})
	entries = append([]models.SearchEntry{entry}, entries...)
	if len(entries) > models.SearchHistoryLimit {
		entries = entries[:models.SearchHistoryLimit]
	}
	s.history[userID] = entries

	return slices.Clone(entries), nil
}

// Clear forgets every search by userID.
func (s *SearchHistoryStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, userID)
	return nil
}
