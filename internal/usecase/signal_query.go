package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"SignalBridge/internal/domain/models"
	drepo "SignalBridge/internal/domain/repository"
	dsvc "SignalBridge/internal/domain/service"
)

// SignalQuery is the read side: stored signals, pending entries, the current
// feature vector and the sampling interval.
type SignalQuery struct {
	store     drepo.RecordStore
	pending   drepo.PendingStore
	features  dsvc.FeatureProvider
	intervals drepo.IntervalStore
	symbol    string
}

func NewSignalQuery(store drepo.RecordStore, pending drepo.PendingStore, features dsvc.FeatureProvider, intervals drepo.IntervalStore, symbol string) *SignalQuery {
	return &SignalQuery{store: store, pending: pending, features: features, intervals: intervals, symbol: symbol}
}

// List returns every stored signal, newest first.
func (q *SignalQuery) List(ctx context.Context) ([]models.Signal, error) {
	raw, err := q.store.Get(ctx, drepo.SignalsRoot)
	if err != nil {
		return nil, newSignalError(StoreUnavailable, "list", err)
	}
	out := []models.Signal{}
	if raw == nil {
		return out, nil
	}

	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, newSignalError(StoreUnavailable, "list", fmt.Errorf("decode signals: %w", err))
	}
	for id, doc := range byID {
		var s models.Signal
		if err := json.Unmarshal(doc, &s); err != nil {
			continue
		}
		if s.ID == "" {
			s.ID = id
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

// Get returns one signal or a NotFound SignalError.
func (q *SignalQuery) Get(ctx context.Context, id string) (*models.Signal, error) {
	raw, err := q.store.Get(ctx, drepo.SignalPath(id))
	if err != nil {
		return nil, newSignalError(StoreUnavailable, "get", err)
	}
	if raw == nil {
		return nil, newSignalError(NotFound, "get", fmt.Errorf("signal %s", id))
	}
	var s models.Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, newSignalError(StoreUnavailable, "get", fmt.Errorf("decode signal: %w", err))
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

// Pending returns all tracked entries, failed ones included.
func (q *SignalQuery) Pending(ctx context.Context) ([]models.PendingEntry, error) {
	entries, err := q.pending.List(ctx)
	if err != nil {
		return nil, newSignalError(PendingUnavailable, "pending", err)
	}
	if entries == nil {
		entries = []models.PendingEntry{}
	}
	return entries, nil
}

// Features samples the current feature vector without predicting or storing anything.
func (q *SignalQuery) Features(ctx context.Context, symbol, interval string) (models.FeaturesResponse, error) {
	if symbol == "" {
		symbol = q.symbol
	}
	if interval == "" {
		interval, _ = q.intervals.Get()
	}
	f, err := q.features.Features(ctx, symbol, interval)
	if err != nil {
		return models.FeaturesResponse{}, newSignalError(FeatureUnavailable, "features", err)
	}
	return models.FeaturesResponse{Symbol: symbol, Interval: interval, Features: f[:]}, nil
}

// Interval returns the persisted sampling interval.
func (q *SignalQuery) Interval() (string, error) {
	return q.intervals.Get()
}

// SetInterval persists a new sampling interval.
func (q *SignalQuery) SetInterval(interval string) error {
	return q.intervals.Set(interval)
}
