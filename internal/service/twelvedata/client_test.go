package twelvedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", 2*time.Second), srv
}

func indicatorHandler(t *testing.T, macdBody string) (http.HandlerFunc, *sync.Map) {
	seen := &sync.Map{}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "BTC/USD", q.Get("symbol"))
		assert.Equal(t, "30min", q.Get("interval"))
		assert.Equal(t, "test-key", q.Get("apikey"))
		seen.Store(r.URL.Path+"?"+q.Get("time_period"), true)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rsi":
			_, _ = w.Write([]byte(`{"values":[{"datetime":"2024-01-01 10:00:00","rsi":"55.2"},{"rsi":"40"}]}`))
		case "/ema":
			if q.Get("time_period") == "12" {
				_, _ = w.Write([]byte(`{"values":[{"ema":"61000"}]}`))
			} else {
				_, _ = w.Write([]byte(`{"values":[{"ema":"60500"}]}`))
			}
		case "/macd":
			_, _ = w.Write([]byte(macdBody))
		default:
			http.NotFound(w, r)
		}
	}, seen
}

func TestFeaturesInModelOrder(t *testing.T) {
	h, seen := indicatorHandler(t, `{"values":[{"macd":"120.5","macd_signal":"100.1","macd_hist":"20.4"}]}`)
	c, _ := newProvider(t, h)

	f, err := c.Features(context.Background(), "BTC/USD", "30min")
	require.NoError(t, err)
	assert.Equal(t, [5]float64{55.2, 61000, 60500, 120.5, 100.1}, [5]float64(f))

	for _, k := range []string{"/rsi?", "/ema?12", "/ema?26", "/macd?"} {
		_, ok := seen.Load(k)
		assert.True(t, ok, "expected request %s", k)
	}
}

func TestFeaturesPrefersSignalKey(t *testing.T) {
	h, _ := indicatorHandler(t, `{"values":[{"macd":"1.5","signal":"0.5","macd_signal":"9"}]}`)
	c, _ := newProvider(t, h)

	f, err := c.Features(context.Background(), "BTC/USD", "30min")
	require.NoError(t, err)
	assert.Equal(t, 0.5, f.MACDSignal())
}

func TestFeaturesMissingSignalLineIsZero(t *testing.T) {
	h, _ := indicatorHandler(t, `{"values":[{"macd":"1.5"}]}`)
	c, _ := newProvider(t, h)

	f, err := c.Features(context.Background(), "BTC/USD", "30min")
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.MACDSignal())
}

func TestFetchWithoutValues(t *testing.T) {
	c, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":429,"message":"API credits exhausted","status":"error"}`))
	})

	_, err := c.Fetch(context.Background(), "rsi", "BTC/USD", "30min", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoValues)
	assert.Contains(t, err.Error(), "API credits exhausted")

	_, err = c.Features(context.Background(), "BTC/USD", "30min")
	assert.ErrorIs(t, err, ErrNoValues)
}

func TestFeaturesNonNumericValue(t *testing.T) {
	h, _ := indicatorHandler(t, `{"values":[{"macd":"n/a","macd_signal":"1"}]}`)
	c, _ := newProvider(t, h)

	_, err := c.Features(context.Background(), "BTC/USD", "30min")
	assert.ErrorIs(t, err, ErrNoValues)
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	c := New("http://127.0.0.1:0", "k", time.Second, WithRateLimit(0.001, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, "rsi", "BTC/USD", "30min", nil)
	assert.Error(t, err)
}
