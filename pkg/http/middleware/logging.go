package middleware

import (
	"errors"
	"net/http"
	"time"

	applogger "SignalBridge/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every HTTP request through the structured logger.
// Client errors are logged at warn level, server errors at error level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", status),
				applogger.Duration("latency_ms", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("http request", fields...)
			case status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// AccessEntry is one request handed to an AccessLog recorder.
type AccessEntry struct {
	Time   time.Time
	IP     string
	Method string
	Path   string
	Status int
}

// AccessLog hands each request matching filter to record after it completes.
// A nil filter records everything.
func AccessLog(filter func(c echo.Context) bool, record func(AccessEntry)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if filter != nil && !filter(c) {
				return err
			}
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			record(AccessEntry{
				Time:   time.Now(),
				IP:     c.RealIP(),
				Method: c.Request().Method,
				Path:   c.Request().URL.Path,
				Status: status,
			})
			return err
		}
	}
}
