package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"SignalBridge/internal/service/finnhub"
	"SignalBridge/internal/usecase"
	"SignalBridge/pkg/config"
	xhttp "SignalBridge/pkg/http"
	applogger "SignalBridge/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	scheduler  *usecase.ExitScheduler
	stream     *finnhub.Client
	wg         sync.WaitGroup
}

// New creates a new App instance with all dependencies. stream may be nil
// when prices are polled over HTTP.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	scheduler *usecase.ExitScheduler,
	stream *finnhub.Client,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		httpServer: httpServer,
		scheduler:  scheduler,
		stream:     stream,
	}
}

// Run starts the application and blocks until interrupted, ctx is cancelled
// or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.stream != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.stream.Run(ctx)
		}()
		a.l.Info("price stream started", applogger.String("symbol", a.cfg.Price.Finnhub.Symbol))
	}

	a.scheduler.Start(ctx)

	errCh := a.httpServer.Start()
	a.l.Info("signalbridge started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("symbol", a.cfg.Signal.Symbol),
		applogger.String("pending_backend", a.cfg.Pending.Backend),
		applogger.String("events_backend", a.cfg.Events.Backend),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-errCh:
		runErr = err
	}

	a.shutdown(stop)
	return runErr
}

// shutdown stops the HTTP server first so no new signals are created, then
// cancels the workers and joins the scheduler and the price stream. Stores
// and sinks are closed by the injector cleanup afterwards.
func (a *App) shutdown(cancelWorkers context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	cancelWorkers()

	if err := a.scheduler.Stop(ctx); err != nil {
		a.l.Warn("scheduler stop error", applogger.Error(err))
	}

	if a.stream != nil {
		_ = a.stream.Close()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.l.Warn("price stream did not stop in time")
	}

	a.l.Info("shutdown complete")
}
