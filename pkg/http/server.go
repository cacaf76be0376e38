package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"SignalBridge/pkg/http/middleware"
	applogger "SignalBridge/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler registers its routes on the server's echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	StaticDir       string
	MetricsPath     string
	SlowThreshold   time.Duration
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
	Logger          *applogger.Logger
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	l      *applogger.Logger
}

// NewServer creates a new HTTP server with Echo.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8000,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
		SlowThreshold:   5 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l))
	if cfg.Registerer != nil {
		m := middleware.NewHTTPMetrics(cfg.Registerer)
		e.Use(middleware.RouteContext())
		e.Use(echo.WrapMiddleware(m.Middleware(l, cfg.SlowThreshold)))
	}

	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept},
			ExposeHeaders: []string{echo.HeaderCacheControl},
			MaxAge:        600,
		}))
	}

	// Register routes
	if handler != nil {
		handler.RegisterRoutes(e)
	}

	if cfg.MetricsPath != "" && cfg.Gatherer != nil {
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// Frontend bundle, served last so API routes win.
	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}

	return &Server{
		echo:   e,
		config: cfg,
		l:      l,
	}
}

// Start starts the HTTP server in the background. Listen errors are sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	errCh := make(chan error, 1)

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	go func() {
		s.l.Info("http server listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http server error", applogger.Error(err))
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.l.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithHost sets server host.
func WithHost(host string) ServerOption {
	return func(c *ServerConfig) {
		c.Host = host
	}
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) {
		c.Port = port
	}
}

// WithTimeouts sets read/write timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
		c.ShutdownTimeout = shutdown
	}
}

// WithCORS sets the origins allowed to call the API. An empty list disables CORS.
func WithCORS(origins []string) ServerOption {
	return func(c *ServerConfig) {
		c.CORSOrigins = origins
	}
}

// WithStatic serves dir at the root.
func WithStatic(dir string) ServerOption {
	return func(c *ServerConfig) {
		c.StaticDir = dir
	}
}

// WithMetrics enables request metrics on reg and exposes gatherer at path.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer, path string) ServerOption {
	return func(c *ServerConfig) {
		c.Registerer = reg
		c.Gatherer = gatherer
		c.MetricsPath = path
	}
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(l *applogger.Logger) ServerOption {
	return func(c *ServerConfig) {
		c.Logger = l
	}
}
