package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"SignalBridge/internal/domain/models"
	drepo "SignalBridge/internal/domain/repository"
	dsvc "SignalBridge/internal/domain/service"
	applogger "SignalBridge/pkg/logger"
)

// Settlement policies.
const (
	// PolicyRetry removes an entry only after a confirmed patch and backs off otherwise.
	PolicyRetry = "retry"
	// PolicyClear removes an entry after one attempt whatever the outcome.
	PolicyClear = "clear"
)

// Settlement results reported to metrics.
const (
	resultSettled = "settled"
	resultRetry   = "retry"
	resultFailed  = "failed"
	resultDropped = "dropped"
)

// Locker guards a signal against concurrent settlement by several instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// SchedulerConfig holds the knobs of the exit scheduler.
type SchedulerConfig struct {
	Symbol       string
	PollInterval time.Duration
	Policy       string
	MaxAttempts  int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	RequirePrice bool
	Location     *time.Location
	LockTTL      time.Duration
}

// ExitScheduler periodically records exit prices on signals whose holding
// period has elapsed.
type ExitScheduler struct {
	pending drepo.PendingStore
	store   drepo.RecordStore
	price   dsvc.PriceOracle
	events  drepo.EventSink
	reqLog  drepo.RequestLog
	metrics drepo.Metrics
	locker  Locker
	l       *applogger.Logger
	cfg     SchedulerConfig
	nowFn   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExitScheduler(
	pending drepo.PendingStore,
	store drepo.RecordStore,
	price dsvc.PriceOracle,
	events drepo.EventSink,
	reqLog drepo.RequestLog,
	metrics drepo.Metrics,
	locker Locker,
	l *applogger.Logger,
	cfg SchedulerConfig,
) *ExitScheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyRetry
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = cfg.PollInterval
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if events == nil {
		events = nopSink{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ExitScheduler{
		pending: pending,
		store:   store,
		price:   price,
		events:  events,
		reqLog:  reqLog,
		metrics: metrics,
		locker:  locker,
		l:       l.With(applogger.String("component", "exit_scheduler")),
		cfg:     cfg,
		nowFn:   time.Now,
	}
}

// Start launches the polling loop. Calling Start on a running scheduler is a no-op.
func (s *ExitScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.l.Info("exit scheduler started",
		applogger.Duration("poll_ms", s.cfg.PollInterval),
		applogger.String("policy", s.cfg.Policy))
}

// Stop cancels the loop and waits for the in-flight cycle, bounded by ctx.
func (s *ExitScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.l.Info("exit scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("exit scheduler stop: %w", ctx.Err())
	}
}

func (s *ExitScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs one settlement cycle over every due entry.
func (s *ExitScheduler) PollOnce(ctx context.Context) {
	now := s.nowFn()
	due, err := s.pending.Due(ctx, now)
	if err != nil {
		if errors.Is(err, drepo.ErrSlotCorrupt) {
			s.metrics.RecordError(string(SlotCorruption))
			s.l.Warn("pending slot unreadable, treating as empty", applogger.Error(err))
		} else {
			s.metrics.RecordError(string(PendingUnavailable))
			s.l.Error("read due signals", applogger.Error(err))
		}
		return
	}

	for _, e := range due {
		if ctx.Err() != nil {
			return
		}
		s.settle(ctx, e, now)
	}

	if all, err := s.pending.List(ctx); err == nil {
		s.metrics.RecordPending(len(all))
	}
}

func (s *ExitScheduler) settle(ctx context.Context, e models.PendingEntry, now time.Time) {
	if s.locker != nil {
		key := "settle:" + e.SignalID
		ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.l.Warn("settle lock", applogger.String("id", e.SignalID), applogger.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() { _ = s.locker.Unlock(context.WithoutCancel(ctx), key) }()
	}

	start := time.Now()
	defer func() { s.metrics.RecordLatency("settle_signal", time.Since(start).Seconds()) }()

	// Exit fields are written once. An entry that outlived its settlement
	// (a failed Remove) is only dropped.
	settled, err := s.alreadySettled(ctx, e.SignalID)
	if err != nil {
		s.metrics.RecordError(string(StoreUnavailable))
		s.onFailure(ctx, e, now, newSignalError(StoreUnavailable, "read", err))
		return
	}
	if settled {
		if err := s.pending.Remove(ctx, e.SignalID); err != nil {
			s.metrics.RecordError(string(PendingUnavailable))
			s.l.Error("remove settled entry", applogger.String("id", e.SignalID), applogger.Error(err))
			return
		}
		s.l.Info("signal already settled, entry dropped", applogger.String("id", e.SignalID))
		return
	}

	price, err := s.price.Price(ctx)
	if err == nil && price == 0 && s.cfg.RequirePrice {
		err = errors.New("price source returned no value")
	}
	if err != nil {
		s.metrics.RecordError(string(PriceUnavailable))
		s.onFailure(ctx, e, now, newSignalError(PriceUnavailable, "exit_price", err))
		return
	}

	patch := models.NewSettlementPatch(price, now, s.cfg.Location)
	path := drepo.SignalPath(e.SignalID)
	err = s.store.Patch(ctx, path, patch)
	s.logPatch(e.SignalID, now, err)
	if err != nil {
		s.metrics.RecordError(string(StoreUnavailable))
		s.onFailure(ctx, e, now, newSignalError(StoreUnavailable, "patch", err))
		return
	}

	if err := s.pending.Remove(ctx, e.SignalID); err != nil {
		s.metrics.RecordError(string(PendingUnavailable))
		s.l.Error("remove settled entry", applogger.String("id", e.SignalID), applogger.Error(err))
	}
	s.metrics.RecordSettlement(resultSettled)
	s.metrics.RecordLastPrice(s.cfg.Symbol, price)
	s.l.Info("signal settled",
		applogger.String("id", e.SignalID),
		applogger.Float64("price_exit", price),
		applogger.String("datetime_exit", patch.DateTimeExit),
		applogger.Int("attempts", e.Attempts+1),
	)
	s.publish(ctx, models.EventSignalSettled, e.SignalID, now)
}

func (s *ExitScheduler) onFailure(ctx context.Context, e models.PendingEntry, now time.Time, cause error) {
	if s.cfg.Policy == PolicyClear {
		if err := s.pending.Remove(ctx, e.SignalID); err != nil {
			s.l.Error("clear pending entry", applogger.String("id", e.SignalID), applogger.Error(err))
		}
		s.metrics.RecordSettlement(resultDropped)
		s.l.Error("settlement failed, entry cleared",
			applogger.String("id", e.SignalID), applogger.Error(cause))
		return
	}

	e.Attempts++
	e.LastError = cause.Error()

	if e.Attempts >= s.cfg.MaxAttempts {
		e.State = models.PendingFailed
		if err := s.pending.Update(ctx, e); err != nil {
			s.l.Error("mark entry failed", applogger.String("id", e.SignalID), applogger.Error(err))
		}
		status := map[string]string{"settle_status": models.SettleFailed}
		if err := s.store.Patch(ctx, drepo.SignalPath(e.SignalID), status); err != nil {
			s.l.Warn("record failed status", applogger.String("id", e.SignalID), applogger.Error(err))
		}
		s.metrics.RecordSettlement(resultFailed)
		s.l.Error("settlement failed permanently",
			applogger.String("id", e.SignalID),
			applogger.Int("attempts", e.Attempts),
			applogger.Error(cause))
		s.publish(ctx, models.EventSignalFailed, e.SignalID, now)
		return
	}

	e.NextAttemptAt = now.Add(s.backoff(e.Attempts))
	if err := s.pending.Update(ctx, e); err != nil {
		s.metrics.RecordError(string(PendingUnavailable))
		s.l.Error("reschedule entry", applogger.String("id", e.SignalID), applogger.Error(err))
	}
	s.metrics.RecordSettlement(resultRetry)
	s.l.Warn("settlement failed, will retry",
		applogger.String("id", e.SignalID),
		applogger.Int("attempts", e.Attempts),
		applogger.Time("next_attempt_at", e.NextAttemptAt),
		applogger.Error(cause))
}

// alreadySettled reports whether the stored record already carries an exit price.
// A missing or undecodable record counts as unsettled.
func (s *ExitScheduler) alreadySettled(ctx context.Context, id string) (bool, error) {
	raw, err := s.store.Get(ctx, drepo.SignalPath(id))
	if err != nil || raw == nil {
		return false, err
	}
	var sig models.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		s.l.Warn("decode stored signal", applogger.String("id", id), applogger.Error(err))
		return false, nil
	}
	return sig.Settled(), nil
}

// backoff doubles from BackoffMin per attempt, capped at BackoffMax.
func (s *ExitScheduler) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffMin
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	return d
}

func (s *ExitScheduler) logPatch(id string, now time.Time, patchErr error) {
	if s.reqLog == nil {
		return
	}
	status := http.StatusOK
	if patchErr != nil {
		status = http.StatusBadGateway
	}
	err := s.reqLog.Append(drepo.RequestLogEntry{
		Timestamp: now.In(s.cfg.Location).Format(models.DateTimeLayout),
		IP:        "local:0",
		Method:    http.MethodPatch,
		Path:      "/firebase/" + drepo.SignalPath(id),
		Status:    status,
	})
	if err != nil {
		s.l.Warn("append request log", applogger.Error(err))
	}
}

// publish sends a lifecycle event carrying the stored signal. It re-reads the
// record so the event reflects what consumers of the store would see.
func (s *ExitScheduler) publish(ctx context.Context, eventType, id string, now time.Time) {
	if _, ok := s.events.(nopSink); ok {
		return
	}
	sig := models.Signal{ID: id}
	if raw, err := s.store.Get(ctx, drepo.SignalPath(id)); err == nil && raw != nil {
		if err := json.Unmarshal(raw, &sig); err != nil {
			s.l.Warn("decode settled signal", applogger.String("id", id), applogger.Error(err))
		}
	}
	if err := s.events.Publish(ctx, models.NewSignalEvent(eventType, sig, now)); err != nil {
		s.l.Warn("publish signal event", applogger.String("id", id), applogger.Error(err))
	}
}
