package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SignalBridge/internal/domain/models"
	"SignalBridge/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// RedisPendingStore keeps entries in a hash (id -> JSON) and schedules them in a
// sorted set scored by the next time they are eligible for settlement.
// Failed entries stay in the hash but leave the schedule.
type RedisPendingStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ repository.PendingStore = (*RedisPendingStore)(nil)

func NewRedisPendingStore(client *redis.Client, prefix string) *RedisPendingStore {
	if prefix == "" {
		prefix = "signalbridge"
	}
	return &RedisPendingStore{client: client, keyPrefix: prefix + ":pending"}
}

func (s *RedisPendingStore) Put(ctx context.Context, e models.PendingEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.entriesKey(), e.SignalID, data)
	s.schedule(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pending put: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Due(ctx context.Context, now time.Time) ([]models.PendingEntry, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pending due: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("pending due: %w", err)
	}
	var out []models.PendingEntry
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e models.PendingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.IsDue(now) {
			out = append(out, e)
		}
	}
	sortByDue(out)
	return out, nil
}

func (s *RedisPendingStore) Update(ctx context.Context, e models.PendingEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, s.entriesKey(), e.SignalID).Result()
		if err != nil || !exists {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.entriesKey(), e.SignalID, data)
			s.schedule(ctx, pipe, e)
			return nil
		})
		return err
	}, s.entriesKey())
	if errors.Is(err, redis.TxFailedErr) {
		// a concurrent Put/Remove won; the newer state stands
		return nil
	}
	if err != nil {
		return fmt.Errorf("pending update: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Remove(ctx context.Context, signalID string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.entriesKey(), signalID)
	pipe.ZRem(ctx, s.scheduleKey(), signalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pending remove: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) List(ctx context.Context) ([]models.PendingEntry, error) {
	all, err := s.client.HGetAll(ctx, s.entriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("pending list: %w", err)
	}
	out := make([]models.PendingEntry, 0, len(all))
	for id, raw := range all {
		var e models.PendingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode pending %s: %w", id, err)
		}
		out = append(out, e)
	}
	sortByDue(out)
	return out, nil
}

// Close is a no-op; the client is shared and closed by its owner.
func (s *RedisPendingStore) Close() error { return nil }

func (s *RedisPendingStore) schedule(ctx context.Context, pipe redis.Pipeliner, e models.PendingEntry) {
	if e.State != models.PendingExit {
		pipe.ZRem(ctx, s.scheduleKey(), e.SignalID)
		return
	}
	at := e.DueAt
	if e.NextAttemptAt.After(at) {
		at = e.NextAttemptAt
	}
	pipe.ZAdd(ctx, s.scheduleKey(), redis.Z{Score: float64(at.Unix()), Member: e.SignalID})
}

func (s *RedisPendingStore) entriesKey() string {
	return fmt.Sprintf("%s:entries", s.keyPrefix)
}

func (s *RedisPendingStore) scheduleKey() string {
	return fmt.Sprintf("%s:schedule", s.keyPrefix)
}
