package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	applogger "SignalBridge/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type routeKey struct{}

// HTTPMetrics holds the request collectors of one registry.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	size     *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method", "status", "class"},
		),
		inFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbridge_http_in_flight_requests",
				Help: "Current number of in-flight HTTP requests",
			},
			[]string{"route", "method"},
		),
		size: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalbridge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{200, 500, 1_000, 2_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
			},
			[]string{"route", "method", "status", "class"},
		),
	}
}

// RouteContext stores the matched echo route template in the request context
// so net/http middleware can label by route instead of raw URL.
func RouteContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p := c.Path(); p != "" {
				c.SetRequest(c.Request().WithContext(context.WithValue(c.Request().Context(), routeKey{}, p)))
			}
			return next(c)
		}
	}
}

// Middleware is a net/http middleware that records request metrics with low
// cardinality labels and logs server errors and slow requests.
func (m *HTTPMetrics) Middleware(l *applogger.Logger, slowThreshold time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			method := r.Method

			m.inFlight.WithLabelValues(route, method).Inc()
			start := time.Now()

			rw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.status)
			class := statusClass(rw.status)
			dur := time.Since(start)

			m.requests.WithLabelValues(route, method, status).Inc()
			m.duration.WithLabelValues(route, method, status, class).Observe(dur.Seconds())
			m.size.WithLabelValues(route, method, status, class).Observe(float64(rw.written))
			m.inFlight.WithLabelValues(route, method).Dec()

			if l == nil {
				return
			}
			if slowThreshold > 0 && dur >= slowThreshold {
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.String("status", status),
					applogger.Duration("duration_ms", dur),
					applogger.Int("bytes", rw.written),
				)
			}
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

// routeLabel prefers the route template set by RouteContext. Unmatched
// requests share one label.
func routeLabel(r *http.Request) string {
	if s, ok := r.Context().Value(routeKey{}).(string); ok && s != "" {
		return s
	}
	return "unmatched"
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
