package repository

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"SignalBridge/internal/domain/repository"
)

// FileIntervalStore persists the sampling interval as plain text.
type FileIntervalStore struct {
	mu       sync.Mutex
	path     string
	fallback string
}

var _ repository.IntervalStore = (*FileIntervalStore)(nil)

// NewFileIntervalStore returns a store reading path; fallback is used while the
// file is missing or holds an unknown interval.
func NewFileIntervalStore(path, fallback string) *FileIntervalStore {
	return &FileIntervalStore{path: path, fallback: repository.NormalizeInterval(fallback)}
}

func (s *FileIntervalStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.fallback, nil
	}
	if err != nil {
		return s.fallback, fmt.Errorf("read interval: %w", err)
	}
	v := strings.TrimSpace(string(b))
	if !repository.IsValidInterval(v) {
		return s.fallback, nil
	}
	return v, nil
}

func (s *FileIntervalStore) Set(interval string) error {
	interval = strings.TrimSpace(interval)
	if !repository.IsValidInterval(interval) {
		return fmt.Errorf("invalid interval %q", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, []byte(interval))
}
