//go:build wireinject
// +build wireinject

package di

import (
	"SignalBridge/pkg/config"
	"SignalBridge/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideRedisClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Stores and sinks
		ProvideRecordStore,
		ProvidePendingStore,
		ProvideIntervalStore,
		ProvideRequestLog,
		ProvideEventSink,

		// Observability
		ProvideLogger,
		ProvideMetrics,

		// External services
		ProvideFeatureProvider,
		ProvideFinnhubStream,
		ProvidePriceOracle,
		ProvidePredictor,

		// Use cases
		ProvideSignalCreator,
		ProvideExitScheduler,
		ProvideSignalQuery,

		// HTTP and application server
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
