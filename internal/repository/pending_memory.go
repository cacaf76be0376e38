package repository

import (
	"context"
	"sync"
	"time"

	"SignalBridge/internal/domain/models"
	"SignalBridge/internal/domain/repository"
)

// MemoryPendingStore is a process-local pending set. Entries do not survive restarts.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]models.PendingEntry
}

var _ repository.PendingStore = (*MemoryPendingStore)(nil)

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string]models.PendingEntry)}
}

func (s *MemoryPendingStore) Put(_ context.Context, e models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.SignalID] = e
	return nil
}

func (s *MemoryPendingStore) Due(_ context.Context, now time.Time) ([]models.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingEntry
	for _, e := range s.entries {
		if e.IsDue(now) {
			out = append(out, e)
		}
	}
	sortByDue(out)
	return out, nil
}

func (s *MemoryPendingStore) Update(_ context.Context, e models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.SignalID]; ok {
		s.entries[e.SignalID] = e
	}
	return nil
}

func (s *MemoryPendingStore) Remove(_ context.Context, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, signalID)
	return nil
}

func (s *MemoryPendingStore) List(_ context.Context) ([]models.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortByDue(out)
	return out, nil
}

func (s *MemoryPendingStore) Close() error { return nil }
