package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"SignalBridge/internal/domain/repository"
	dsvc "SignalBridge/internal/domain/service"
	"SignalBridge/internal/handler/api"
	internalrepo "SignalBridge/internal/repository"
	"SignalBridge/internal/service/finnhub"
	"SignalBridge/internal/service/predictor"
	"SignalBridge/internal/service/price"
	"SignalBridge/internal/service/ratelimit"
	"SignalBridge/internal/service/twelvedata"
	"SignalBridge/internal/usecase"
	"SignalBridge/pkg/cache"
	pkgch "SignalBridge/pkg/clickhouse"
	"SignalBridge/pkg/config"
	xhttp "SignalBridge/pkg/http"
	pkgkafka "SignalBridge/pkg/kafka"
	applogger "SignalBridge/pkg/logger"
	"SignalBridge/pkg/metrics"
	"SignalBridge/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ProvideRedisClient dials Redis when enabled; nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache builds the record store read cache: memory only, or memory in
// front of Redis when Redis is enabled. The same service backs settle locks.
func ProvideCache(cfg *config.Config, client *redis.Client) (cache.Service, func()) {
	var c cache.Service
	if client != nil {
		c = cache.NewLayeredCache(
			cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix),
			cache.WithLayeredMemorySize(cfg.Firebase.CacheSize),
			cache.WithLayeredMemoryTTL(cfg.Firebase.CacheTTL),
		)
	} else {
		c = cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Firebase.CacheSize),
			cache.WithMemoryCleanup(time.Minute),
		)
	}
	return c, func() { _ = c.Close() }
}

// ProvideRecordStore creates the Firebase REST store.
func ProvideRecordStore(cfg *config.Config, c cache.Service) *internalrepo.FirebaseStore {
	return internalrepo.NewFirebaseStore(cfg.Firebase.URL, cfg.Firebase.AuthKey, cfg.Firebase.Timeout, cfg.Firebase.CacheTTL, c)
}

// ProvideLogger creates the application logger. With log.collect enabled,
// aggregated error lines are shipped to the record store.
func ProvideLogger(cfg *config.Config, store *internalrepo.FirebaseStore) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.TimeInterval,
			CountThreshold: cfg.Log.Collect.CountThreshold,
			Topic:          cfg.Log.Collect.Path,
			Publisher:      internalrepo.NewLogPublisher(store),
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry,
// which the Kafka producer collectors also use.
func ProvideMetrics() repository.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvidePendingStore opens the configured pending backend.
func ProvidePendingStore(cfg *config.Config, client *redis.Client, l *applogger.Logger) (repository.PendingStore, func(), error) {
	var (
		store repository.PendingStore
		err   error
	)
	switch cfg.Pending.Backend {
	case "redis":
		if client == nil {
			return nil, nil, fmt.Errorf("pending backend redis: redis is not enabled")
		}
		store = internalrepo.NewRedisPendingStore(client, cfg.Redis.Prefix)
	case "memory":
		store = internalrepo.NewMemoryPendingStore()
	case "file":
		store = internalrepo.NewFilePendingStore(cfg.Pending.SlotFile, cfg.Scheduler.HoldingPeriod)
	default:
		store, err = internalrepo.NewBoltPendingStore(cfg.Pending.Path,
			internalrepo.WithBoltLogger(l.With(applogger.String("component", "pending_bolt"))))
		if err != nil {
			return nil, nil, fmt.Errorf("pending store: %w", err)
		}
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideIntervalStore creates the persisted interval setting.
func ProvideIntervalStore(cfg *config.Config) repository.IntervalStore {
	return internalrepo.NewFileIntervalStore(cfg.Signal.IntervalFile, cfg.Signal.Interval)
}

// ProvideRequestLog creates the bounded local request log.
func ProvideRequestLog(cfg *config.Config) repository.RequestLog {
	return internalrepo.NewFileRequestLog(cfg.RequestLog.Path, cfg.RequestLog.MaxEntries)
}

// ProvideFeatureProvider creates the Twelve Data indicator client.
func ProvideFeatureProvider(cfg *config.Config, l *applogger.Logger) dsvc.FeatureProvider {
	return twelvedata.New(cfg.TwelveData.BaseURL, cfg.TwelveData.APIKey, cfg.TwelveData.Timeout,
		twelvedata.WithRateLimit(cfg.TwelveData.RPS, cfg.TwelveData.Burst),
		twelvedata.WithEMAPeriods(cfg.TwelveData.FastEMA, cfg.TwelveData.SlowEMA),
		twelvedata.WithLogger(l.With(applogger.String("component", "twelvedata"))),
	)
}

// ProvideFinnhubStream creates the streaming price client when it is the
// selected price source; nil otherwise.
func ProvideFinnhubStream(cfg *config.Config, l *applogger.Logger) *finnhub.Client {
	if cfg.Price.Source != "finnhub" {
		return nil
	}
	fh := cfg.Price.Finnhub
	return finnhub.New(fh.APIKey, fh.WebSocketURL, fh.Symbol, fh.ReconnectDelay, fh.PingInterval, fh.MaxAge,
		l.With(applogger.String("component", "finnhub")))
}

// ProvidePriceOracle selects the price source.
func ProvidePriceOracle(cfg *config.Config, stream *finnhub.Client) dsvc.PriceOracle {
	if stream != nil {
		return stream
	}
	return price.NewHTTPOracle(cfg.Price.URL, cfg.Price.Field, cfg.Price.Timeout)
}

// ProvidePredictor creates the model client.
func ProvidePredictor(cfg *config.Config) dsvc.Predictor {
	return predictor.New(cfg.Predictor.URL, cfg.Predictor.Timeout)
}

// ProvideKafkaProducer creates a Kafka producer when events go to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Events.Backend != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideClickHouseClient connects to ClickHouse and prepares the events table
// when events go to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Events.Backend != "clickhouse" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.SignalEventsSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, func() { _ = client.Close() }, nil
}

// ProvideEventSink selects where lifecycle events go. A nil sink disables them.
func ProvideEventSink(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client) (repository.EventSink, func()) {
	var sink repository.EventSink
	switch {
	case producer != nil:
		sink = internalrepo.NewKafkaEventSink(producer, cfg.Kafka.Topic)
	case ch != nil:
		sink = internalrepo.NewClickHouseEventSink(ch.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table)
	default:
		return nil, func() {}
	}
	return sink, func() { _ = sink.Close() }
}

// ProvideSignalCreator creates the signal creation use case.
func ProvideSignalCreator(
	cfg *config.Config,
	features dsvc.FeatureProvider,
	oracle dsvc.PriceOracle,
	model dsvc.Predictor,
	store *internalrepo.FirebaseStore,
	pending repository.PendingStore,
	events repository.EventSink,
	intervals repository.IntervalStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.SignalCreator {
	return usecase.NewSignalCreator(features, oracle, model, store, pending, events, intervals, m, l,
		usecase.CreatorConfig{
			Symbol:        cfg.Signal.Symbol,
			HoldingPeriod: cfg.Scheduler.HoldingPeriod,
			IDAttempts:    cfg.Signal.IDAttempts,
			RequirePrice:  cfg.Signal.RequirePrice,
			Location:      cfg.Location(),
		},
		usecase.NumericID(cfg.Signal.IDDigits),
	)
}

// ProvideExitScheduler creates the settlement worker.
func ProvideExitScheduler(
	cfg *config.Config,
	pending repository.PendingStore,
	store *internalrepo.FirebaseStore,
	oracle dsvc.PriceOracle,
	events repository.EventSink,
	reqLog repository.RequestLog,
	m repository.Metrics,
	locks cache.Service,
	l *applogger.Logger,
) *usecase.ExitScheduler {
	var locker usecase.Locker
	if cfg.Redis.Enabled {
		locker = locks
	}
	return usecase.NewExitScheduler(pending, store, oracle, events, reqLog, m, locker, l,
		usecase.SchedulerConfig{
			Symbol:       cfg.Signal.Symbol,
			PollInterval: cfg.Scheduler.PollInterval,
			Policy:       cfg.Scheduler.Policy,
			MaxAttempts:  cfg.Scheduler.MaxAttempts,
			BackoffMin:   cfg.Scheduler.BackoffMin,
			BackoffMax:   cfg.Scheduler.BackoffMax,
			RequirePrice: cfg.Signal.RequirePrice,
			Location:     cfg.Location(),
		},
	)
}

// ProvideSignalQuery creates the read side.
func ProvideSignalQuery(
	cfg *config.Config,
	store *internalrepo.FirebaseStore,
	pending repository.PendingStore,
	features dsvc.FeatureProvider,
	intervals repository.IntervalStore,
) *usecase.SignalQuery {
	return usecase.NewSignalQuery(store, pending, features, intervals, cfg.Signal.Symbol)
}

// ProvideHTTPHandler creates the signal API handler.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	creator *usecase.SignalCreator,
	query *usecase.SignalQuery,
	reqLog repository.RequestLog,
	store *internalrepo.FirebaseStore,
) *api.SignalsEchoHandler {
	limiter := ratelimit.New(cfg.Server.CreateRate.Capacity, cfg.Server.CreateRate.RefillPerSec)
	return api.NewSignalsEchoHandler(l.With(applogger.String("component", "api")),
		creator, query, reqLog, store, limiter, cfg.Location())
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.SignalsEchoHandler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	}
	if cfg.Server.StaticDir != "" {
		opts = append(opts, xhttp.WithStatic(filepath.Clean(cfg.Server.StaticDir)))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	scheduler *usecase.ExitScheduler,
	stream *finnhub.Client,
) *server.App {
	return server.New(cfg, l, httpServer, scheduler, stream)
}
