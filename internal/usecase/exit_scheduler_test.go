package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"SignalBridge/internal/domain/models"
	drepo "SignalBridge/internal/domain/repository"
	"SignalBridge/internal/repository"
	"SignalBridge/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const holdingPeriod = 30 * time.Minute

type schedulerFixture struct {
	pending drepo.PendingStore
	store   *memStore
	price   *mockPrice
	sink    *recordingSink
	reqLog  *memRequestLog
	metrics *recordingMetrics
	sched   *ExitScheduler
	now     time.Time
}

func newSchedulerFixture(t *testing.T, pending drepo.PendingStore, cfg SchedulerConfig) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		pending: pending,
		store:   newMemStore(),
		price:   &mockPrice{},
		sink:    &recordingSink{},
		reqLog:  &memRequestLog{},
		metrics: newRecordingMetrics(),
		now:     scenarioNow,
	}
	if cfg.Location == nil {
		cfg.Location = utcPlus3
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC/USD"
	}
	f.sched = NewExitScheduler(f.pending, f.store, f.price, f.sink, f.reqLog, f.metrics, nil, nil, cfg)
	f.sched.nowFn = func() time.Time { return f.now }
	return f
}

func slotStore(t *testing.T) *repository.FilePendingStore {
	return repository.NewFilePendingStore(filepath.Join(t.TempDir(), "shared_preferences.json"), holdingPeriod)
}

func TestClearPolicySettlesDueEntry(t *testing.T) {
	f := newSchedulerFixture(t, slotStore(t), SchedulerConfig{Policy: PolicyClear})
	ctx := context.Background()
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil)

	f.sched.PollOnce(ctx)

	require.Equal(t, 1, f.store.patchCount())
	p := f.store.patches[0]
	assert.Equal(t, "signals/04217", p.path)
	assert.Equal(t, 61500.0, p.fields["price_exit"])
	assert.Equal(t, "2024-05-01 15:00:00", p.fields["datetime_exit"])
	assert.Equal(t, models.SettleSettled, p.fields["settle_status"])

	entries, err := f.pending.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	logs, _ := f.reqLog.Read()
	require.Len(t, logs, 1)
	assert.Equal(t, drepo.RequestLogEntry{
		Timestamp: "2024-05-01 15:00:00",
		IP:        "local:0",
		Method:    "PATCH",
		Path:      "/firebase/signals/04217",
		Status:    200,
	}, logs[0])
	assert.Equal(t, 1, f.metrics.settlements[resultSettled])
}

func TestClearPolicyRemovesEntryWhenPatchFails(t *testing.T) {
	f := newSchedulerFixture(t, slotStore(t), SchedulerConfig{Policy: PolicyClear})
	ctx := context.Background()
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil)
	f.store.patchErr = repository.ErrStoreUnavailable

	f.sched.PollOnce(ctx)

	assert.Equal(t, 1, f.store.patchCount())
	entries, err := f.pending.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	logs, _ := f.reqLog.Read()
	require.Len(t, logs, 1)
	assert.Equal(t, 502, logs[0].Status)
	assert.Equal(t, 1, f.metrics.settlements[resultDropped])
}

func TestEntryNotYetDueIsUntouched(t *testing.T) {
	f := newSchedulerFixture(t, slotStore(t), SchedulerConfig{})
	ctx := context.Background()
	e := models.NewPendingEntry("04217", f.now.Add(-(holdingPeriod - time.Second)), holdingPeriod)
	require.NoError(t, f.pending.Put(ctx, e))

	f.sched.PollOnce(ctx)
	assert.Equal(t, 1, f.metrics.pending)

	assert.Equal(t, 0, f.store.patchCount())
	f.price.AssertNotCalled(t, "Price", mock.Anything)
	entries, err := f.pending.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "04217", entries[0].SignalID)
	assert.Equal(t, 0, entries[0].Attempts)
}

// stuckPending keeps every entry because Remove always fails.
type stuckPending struct {
	*repository.MemoryPendingStore
}

func (stuckPending) Remove(context.Context, string) error { return errors.New("disk full") }

func TestSettledRecordIsNeverPatchedTwice(t *testing.T) {
	pending := stuckPending{repository.NewMemoryPendingStore()}
	f := newSchedulerFixture(t, pending, SchedulerConfig{})
	ctx := context.Background()
	f.store.docs["signals/04217"] = map[string]interface{}{"id": "04217", "price_exit": nil}
	require.NoError(t, pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil).Once()
	f.price.On("Price", mock.Anything).Return(62000.0, nil)

	f.sched.PollOnce(ctx)
	f.now = f.now.Add(10 * time.Second)
	f.sched.PollOnce(ctx)

	assert.Equal(t, 1, f.store.patchCount())
	assert.Equal(t, 61500.0, f.store.doc("signals/04217")["price_exit"])
	f.price.AssertNumberOfCalls(t, "Price", 1)
	assert.Equal(t, 1, f.metrics.settlements[resultSettled])
}

func TestEmptyPendingMakesNoCalls(t *testing.T) {
	for name, store := range map[string]drepo.PendingStore{
		"slot":   slotStore(t),
		"memory": repository.NewMemoryPendingStore(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newSchedulerFixture(t, store, SchedulerConfig{})
			f.sched.PollOnce(context.Background())

			f.price.AssertNotCalled(t, "Price", mock.Anything)
			assert.Equal(t, 0, f.store.patchCount())
			assert.Equal(t, 0, f.store.gets)
			logs, _ := f.reqLog.Read()
			assert.Empty(t, logs)
		})
	}
}

func TestRetryPolicyBacksOffThenFails(t *testing.T) {
	f := newSchedulerFixture(t, repository.NewMemoryPendingStore(), SchedulerConfig{
		Policy:      PolicyRetry,
		MaxAttempts: 3,
		BackoffMin:  30 * time.Second,
		BackoffMax:  45 * time.Second,
	})
	ctx := context.Background()
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil)
	f.store.patchErr = repository.ErrStoreUnavailable

	f.sched.PollOnce(ctx)

	entries, _ := f.pending.List(ctx)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, models.PendingExit, e.State)
	assert.True(t, e.NextAttemptAt.Equal(f.now.Add(30*time.Second)))
	assert.Contains(t, e.LastError, "StoreUnavailable")

	// not retried before next_attempt_at
	f.now = f.now.Add(10 * time.Second)
	f.sched.PollOnce(ctx)
	assert.Equal(t, 1, f.store.patchCount())

	f.now = f.now.Add(20 * time.Second)
	f.sched.PollOnce(ctx)
	entries, _ = f.pending.List(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.True(t, entries[0].NextAttemptAt.Equal(f.now.Add(45*time.Second)), "backoff is capped")

	f.now = f.now.Add(45 * time.Second)
	f.sched.PollOnce(ctx)
	entries, _ = f.pending.List(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, models.PendingFailed, entries[0].State)
	assert.Equal(t, 3, entries[0].Attempts)

	// three settlement patches plus the best-effort failed status
	require.Equal(t, 4, f.store.patchCount())
	assert.Equal(t, map[string]interface{}{"settle_status": "failed"}, f.store.patches[3].fields)
	assert.Equal(t, 2, f.metrics.settlements[resultRetry])
	assert.Equal(t, 1, f.metrics.settlements[resultFailed])
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, models.EventSignalFailed, f.sink.events[0].Type)

	// failed entries are never attempted again
	f.now = f.now.Add(24 * time.Hour)
	f.sched.PollOnce(ctx)
	assert.Equal(t, 4, f.store.patchCount())
}

func TestRetryPolicySettlesAfterTransientFailure(t *testing.T) {
	f := newSchedulerFixture(t, repository.NewMemoryPendingStore(), SchedulerConfig{
		Policy:      PolicyRetry,
		MaxAttempts: 5,
		BackoffMin:  time.Minute,
		BackoffMax:  time.Hour,
	})
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "signals/04217", models.Signal{ID: "04217", Decision: "buy", SettleStatus: models.SettlePending}))
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(0.0, errors.New("timeout")).Once()
	f.price.On("Price", mock.Anything).Return(61500.0, nil)

	f.sched.PollOnce(ctx)
	assert.Equal(t, 0, f.store.patchCount())
	assert.Equal(t, 1, f.metrics.errs[string(PriceUnavailable)])

	f.now = f.now.Add(time.Minute)
	f.sched.PollOnce(ctx)

	entries, _ := f.pending.List(ctx)
	assert.Empty(t, entries)
	doc := f.store.doc("signals/04217")
	assert.Equal(t, 61500.0, doc["price_exit"])
	assert.Equal(t, "buy", doc["decision"])
	assert.Equal(t, "settled", doc["settle_status"])

	require.Len(t, f.sink.events, 1)
	ev := f.sink.events[0]
	assert.Equal(t, models.EventSignalSettled, ev.Type)
	require.NotNil(t, ev.Signal.PriceExit)
	assert.Equal(t, 61500.0, *ev.Signal.PriceExit)
}

// Two signals created back to back: the single slot keeps only the second,
// the pending set settles both.
func TestBackToBackCreations(t *testing.T) {
	boltStore, err := repository.NewBoltPendingStore(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	defer boltStore.Close()

	tests := []struct {
		name    string
		pending drepo.PendingStore
		settled []string
	}{
		{"legacy slot", slotStore(t), []string{"00002"}},
		{"bolt set", boltStore, []string{"00001", "00002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cf := newCreatorFixture(sequenceIDs("00001", "00002"))
			cf.creator.pending = tt.pending
			cf.features.On("Features", mock.Anything, mock.Anything, mock.Anything).Return(scenarioFeatures, nil)
			cf.price.On("Price", mock.Anything).Return(61234.5, nil)
			cf.predictor.On("Predict", mock.Anything, mock.Anything).Return(models.Prediction{Decision: "buy", Confidence: "0.82"}, nil)

			_, err := cf.creator.Create(ctx, "", "")
			require.NoError(t, err)
			cf.creator.nowFn = func() time.Time { return scenarioNow.Add(time.Second) }
			_, err = cf.creator.Create(ctx, "", "")
			require.NoError(t, err)

			sched := NewExitScheduler(tt.pending, cf.store, cf.price, nil, nil, nil, nil, nil,
				SchedulerConfig{Policy: PolicyRetry, Location: utcPlus3})
			sched.nowFn = func() time.Time { return scenarioNow.Add(holdingPeriod + time.Second) }
			sched.PollOnce(ctx)

			var settled []string
			for _, p := range cf.store.patches {
				settled = append(settled, p.path[len("signals/"):])
			}
			assert.Equal(t, tt.settled, settled)

			entries, err := tt.pending.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestCorruptSlotIsTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared_preferences.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	f := newSchedulerFixture(t, repository.NewFilePendingStore(path, holdingPeriod), SchedulerConfig{})

	f.sched.PollOnce(context.Background())

	f.price.AssertNotCalled(t, "Price", mock.Anything)
	assert.Equal(t, 1, f.metrics.errs[string(SlotCorruption)])
}

func TestHeldLockSkipsSettlement(t *testing.T) {
	locks := cache.NewMemoryCache()
	defer locks.Close()
	f := newSchedulerFixture(t, repository.NewMemoryPendingStore(), SchedulerConfig{})
	f.sched.locker = locks
	ctx := context.Background()
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil)

	ok, err := locks.TryLock(ctx, "settle:04217", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	f.sched.PollOnce(ctx)
	assert.Equal(t, 0, f.store.patchCount())

	require.NoError(t, locks.Unlock(ctx, "settle:04217"))
	f.sched.PollOnce(ctx)
	assert.Equal(t, 1, f.store.patchCount())
}

func TestBackoff(t *testing.T) {
	s := NewExitScheduler(nil, nil, nil, nil, nil, nil, nil, nil, SchedulerConfig{
		BackoffMin: 30 * time.Second,
		BackoffMax: 10 * time.Minute,
	})
	assert.Equal(t, 30*time.Second, s.backoff(1))
	assert.Equal(t, time.Minute, s.backoff(2))
	assert.Equal(t, 4*time.Minute, s.backoff(4))
	assert.Equal(t, 10*time.Minute, s.backoff(6))
	assert.Equal(t, 10*time.Minute, s.backoff(60))
}

func TestStartStop(t *testing.T) {
	f := newSchedulerFixture(t, repository.NewMemoryPendingStore(), SchedulerConfig{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, f.pending.Put(ctx, models.NewPendingEntry("04217", f.now.Add(-holdingPeriod), holdingPeriod)))
	f.price.On("Price", mock.Anything).Return(61500.0, nil)

	f.sched.Start(ctx)
	f.sched.Start(ctx)

	require.Eventually(t, func() bool { return f.store.patchCount() == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.sched.Stop(stopCtx))
	require.NoError(t, f.sched.Stop(stopCtx))
}
