package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SignalBridge/internal/domain/models"
	"SignalBridge/internal/domain/repository"
)

// slotFile is the on-disk layout: {node_id, timestamp} plus optional retry state.
type slotFile struct {
	NodeID        string              `json:"node_id"`
	Timestamp     int64               `json:"timestamp"`
	Attempts      int                 `json:"attempts,omitempty"`
	NextAttemptAt int64               `json:"next_attempt_at,omitempty"`
	State         models.PendingState `json:"state,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
}

// FilePendingStore is the single-slot store: one JSON file naming the most
// recent signal. Put overwrites whatever was there, so an unsettled earlier
// signal is dropped.
type FilePendingStore struct {
	mu      sync.Mutex
	path    string
	holding time.Duration
}

var _ repository.PendingStore = (*FilePendingStore)(nil)

func NewFilePendingStore(path string, holding time.Duration) *FilePendingStore {
	return &FilePendingStore{path: path, holding: holding}
}

func (s *FilePendingStore) Put(_ context.Context, e models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(e)
}

func (s *FilePendingStore) Due(_ context.Context, now time.Time) ([]models.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok, err := s.read()
	if err != nil || !ok {
		return nil, err
	}
	if !e.IsDue(now) {
		return nil, nil
	}
	return []models.PendingEntry{e}, nil
}

func (s *FilePendingStore) Update(_ context.Context, e models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if !ok || cur.SignalID != e.SignalID {
		return nil
	}
	return s.write(e)
}

// Remove clears the slot only if it still names signalID.
func (s *FilePendingStore) Remove(_ context.Context, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if !ok || cur.SignalID != signalID {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear slot: %w", err)
	}
	return nil
}

func (s *FilePendingStore) List(_ context.Context) ([]models.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok, err := s.read()
	if err != nil || !ok {
		return nil, err
	}
	return []models.PendingEntry{e}, nil
}

func (s *FilePendingStore) Close() error { return nil }

func (s *FilePendingStore) read() (models.PendingEntry, bool, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return models.PendingEntry{}, false, nil
	}
	if err != nil {
		return models.PendingEntry{}, false, fmt.Errorf("read slot: %w", err)
	}

	var f slotFile
	if err := json.Unmarshal(b, &f); err != nil || f.NodeID == "" {
		_ = os.Rename(s.path, s.path+".corrupt")
		if err == nil {
			err = errors.New("missing node_id")
		}
		return models.PendingEntry{}, false, fmt.Errorf("%w: %v", repository.ErrSlotCorrupt, err)
	}

	e := models.NewPendingEntry(f.NodeID, time.Unix(f.Timestamp, 0), s.holding)
	e.Attempts = f.Attempts
	e.LastError = f.LastError
	if f.NextAttemptAt > 0 {
		e.NextAttemptAt = time.Unix(f.NextAttemptAt, 0)
	}
	if f.State != "" {
		e.State = f.State
	}
	return e, true, nil
}

func (s *FilePendingStore) write(e models.PendingEntry) error {
	f := slotFile{
		NodeID:    e.SignalID,
		Timestamp: e.CreatedAt.Unix(),
		Attempts:  e.Attempts,
		LastError: e.LastError,
	}
	if e.Attempts > 0 || e.State != models.PendingExit {
		f.NextAttemptAt = e.NextAttemptAt.Unix()
		f.State = e.State
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal slot: %w", err)
	}
	return writeFileAtomic(s.path, b)
}

// writeFileAtomic writes data to a temp file beside path and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
