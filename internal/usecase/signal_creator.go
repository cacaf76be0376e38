package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalBridge/internal/domain/models"
	drepo "SignalBridge/internal/domain/repository"
	dsvc "SignalBridge/internal/domain/service"
	applogger "SignalBridge/pkg/logger"
)

// CreatorConfig holds the knobs of signal creation.
type CreatorConfig struct {
	Symbol        string
	HoldingPeriod time.Duration
	IDAttempts    int
	RequirePrice  bool
	Location      *time.Location
}

// SignalCreator samples features, asks the model and records the resulting signal.
type SignalCreator struct {
	features  dsvc.FeatureProvider
	price     dsvc.PriceOracle
	predictor dsvc.Predictor
	store     drepo.RecordStore
	pending   drepo.PendingStore
	events    drepo.EventSink
	intervals drepo.IntervalStore
	metrics   drepo.Metrics
	l         *applogger.Logger
	cfg       CreatorConfig
	newID     IDGenerator
	nowFn     func() time.Time
}

func NewSignalCreator(
	features dsvc.FeatureProvider,
	price dsvc.PriceOracle,
	predictor dsvc.Predictor,
	store drepo.RecordStore,
	pending drepo.PendingStore,
	events drepo.EventSink,
	intervals drepo.IntervalStore,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg CreatorConfig,
	newID IDGenerator,
) *SignalCreator {
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if newID == nil {
		newID = NumericID(5)
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
	return &SignalCreator{
		features:  features,
		price:     price,
		predictor: predictor,
		store:     store,
		pending:   pending,
		events:    events,
		intervals: intervals,
		metrics:   metrics,
		l:         l.With(applogger.String("component", "signal_creator")),
		cfg:       cfg,
		newID:     newID,
		nowFn:     time.Now,
	}
}

// Create runs one creation. Empty symbol or interval fall back to the
// configured symbol and the persisted interval. Only the configured symbol is
// accepted, since entry and exit prices are quoted for it alone. When the
// signal was stored but could not be registered for settlement, both the
// signal and the error are returned.
func (c *SignalCreator) Create(ctx context.Context, symbol, interval string) (*models.Signal, error) {
	start := time.Now()
	defer func() { c.metrics.RecordLatency("create_signal", time.Since(start).Seconds()) }()

	switch {
	case symbol == "":
		symbol = c.cfg.Symbol
	case !strings.EqualFold(symbol, c.cfg.Symbol):
		return nil, c.fail(UnsupportedSymbol, "symbol",
			fmt.Errorf("symbol %s is not quoted, only %s", symbol, c.cfg.Symbol))
	default:
		symbol = c.cfg.Symbol
	}
	if interval == "" {
		v, err := c.intervals.Get()
		if err != nil {
			c.l.Warn("read interval", applogger.Error(err))
		}
		interval = v
	}

	features, err := c.features.Features(ctx, symbol, interval)
	if err != nil {
		return nil, c.fail(FeatureUnavailable, "features", err)
	}

	price, err := c.price.Price(ctx)
	if err != nil {
		return nil, c.fail(PriceUnavailable, "price", err)
	}
	if price == 0 && c.cfg.RequirePrice {
		return nil, c.fail(PriceUnavailable, "price", errors.New("price source returned no value"))
	}

	pred, err := c.predictor.Predict(ctx, features)
	if err != nil {
		return nil, c.fail(PredictorUnavailable, "predict", err)
	}

	id, err := c.reserveID(ctx)
	if err != nil {
		return nil, c.fail(StoreUnavailable, "id", err)
	}

	now := c.nowFn()
	sig := &models.Signal{
		ID:           id,
		Symbol:       symbol,
		Interval:     interval,
		Features:     features,
		PriceEntry:   price,
		Decision:     pred.Decision,
		Confidence:   pred.Confidence,
		Timestamp:    now.Unix(),
		DateTime:     now.In(c.cfg.Location).Format(models.DateTimeLayout),
		SettleStatus: models.SettlePending,
	}

	if err := c.store.Put(ctx, drepo.SignalPath(id), sig); err != nil {
		return nil, c.fail(StoreUnavailable, "persist", err)
	}

	entry := models.NewPendingEntry(id, sig.CreatedAt(), c.cfg.HoldingPeriod)
	if err := c.pending.Put(ctx, entry); err != nil {
		return sig, c.fail(PendingUnavailable, "register", err)
	}

	c.metrics.RecordSignalCreated(symbol, pred.Decision)
	if all, err := c.pending.List(ctx); err == nil {
		c.metrics.RecordPending(len(all))
	}
	if price > 0 {
		c.metrics.RecordLastPrice(symbol, price)
	}
	c.l.Info("signal created",
		applogger.String("id", id),
		applogger.String("symbol", symbol),
		applogger.String("interval", interval),
		applogger.String("decision", pred.Decision),
		applogger.String("confidence", pred.Confidence),
		applogger.Float64("price_entry", price),
	)

	if err := c.events.Publish(ctx, models.NewSignalEvent(models.EventSignalCreated, *sig, now)); err != nil {
		c.l.Warn("publish signal event", applogger.String("id", id), applogger.Error(err))
	}
	return sig, nil
}

// reserveID draws ids until one is unused in the record store.
func (c *SignalCreator) reserveID(ctx context.Context) (string, error) {
	for i := 0; i < c.cfg.IDAttempts; i++ {
		id, err := c.newID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		existing, err := c.store.Get(ctx, drepo.SignalPath(id))
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
		c.l.Debug("signal id taken", applogger.String("id", id))
	}
	return "", fmt.Errorf("no free id after %d attempts", c.cfg.IDAttempts)
}

func (c *SignalCreator) fail(kind ErrorKind, stage string, err error) error {
	c.metrics.RecordError(string(kind))
	c.l.Error("signal creation failed",
		applogger.String("kind", string(kind)),
		applogger.String("stage", stage),
		applogger.Error(err),
	)
	return newSignalError(kind, stage, err)
}
