package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"SignalBridge/internal/domain/models"
	"SignalBridge/internal/domain/repository"
	applogger "SignalBridge/pkg/logger"

	bolt "go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending")

// BoltPendingStore keeps pending entries in a single bbolt bucket keyed by signal id.
// Entries that no longer decode are skipped and logged so one bad record
// cannot stall settlement of the rest.
type BoltPendingStore struct {
	db *bolt.DB
	l  *applogger.Logger
}

// BoltOption configures BoltPendingStore.
type BoltOption func(*BoltPendingStore)

// WithBoltLogger sets the logger used to report undecodable entries.
func WithBoltLogger(l *applogger.Logger) BoltOption {
	return func(s *BoltPendingStore) {
		if l != nil {
			s.l = l
		}
	}
}

var _ repository.PendingStore = (*BoltPendingStore)(nil)

// NewBoltPendingStore opens (or creates) the database file at path.
func NewBoltPendingStore(path string, opts ...BoltOption) (*BoltPendingStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("pending dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open pending db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pending bucket: %w", err)
	}
	s := &BoltPendingStore{db: db, l: applogger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BoltPendingStore) Put(_ context.Context, e models.PendingEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Put([]byte(e.SignalID), data)
	})
}

func (s *BoltPendingStore) Due(ctx context.Context, now time.Time) ([]models.PendingEntry, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, e := range all {
		if e.IsDue(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (s *BoltPendingStore) Update(_ context.Context, e models.PendingEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		if b.Get([]byte(e.SignalID)) == nil {
			return nil
		}
		return b.Put([]byte(e.SignalID), data)
	})
}

func (s *BoltPendingStore) Remove(_ context.Context, signalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete([]byte(signalID))
	})
}

func (s *BoltPendingStore) List(_ context.Context) ([]models.PendingEntry, error) {
	var out []models.PendingEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(k, v []byte) error {
			var e models.PendingEntry
			if err := json.Unmarshal(v, &e); err != nil {
				s.l.Warn("skip undecodable pending entry", applogger.String("id", string(k)), applogger.Error(err))
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByDue(out)
	return out, nil
}

func (s *BoltPendingStore) Close() error {
	return s.db.Close()
}

func sortByDue(entries []models.PendingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DueAt.Equal(entries[j].DueAt) {
			return entries[i].SignalID < entries[j].SignalID
		}
		return entries[i].DueAt.Before(entries[j].DueAt)
	})
}
