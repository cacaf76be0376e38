package twelvedata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"SignalBridge/internal/domain/models"
	xhttp "SignalBridge/pkg/http"
	applogger "SignalBridge/pkg/logger"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoValues is returned when the provider answers without any value record.
var ErrNoValues = errors.New("twelvedata: no values")

var errMissingKey = errors.New("missing")

// Client fetches indicators from the Twelve Data REST API.
type Client struct {
	baseURL string
	apiKey  string
	fastEMA int
	slowEMA int
	http    *xhttp.Client
	limiter *rate.Limiter
	l       *applogger.Logger
}

// Option configures Client.
type Option func(*Client)

// WithEMAPeriods overrides the fast/slow EMA periods (12/26 by default).
func WithEMAPeriods(fast, slow int) Option {
	return func(c *Client) {
		c.fastEMA = fast
		c.slowEMA = slow
	}
}

// WithRateLimit paces outgoing requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.l = l }
}

// New creates a client against baseURL (e.g. https://api.twelvedata.com).
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fastEMA: 12,
		slowEMA: 26,
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter: rate.NewLimiter(rate.Inf, 1),
		l:       applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the most recent value record of indicator as raw strings.
func (c *Client) Fetch(ctx context.Context, indicator, symbol, interval string, params map[string]string) (map[string]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", indicator, err)
	}

	q := map[string][]string{
		"symbol":   {symbol},
		"interval": {interval},
		"apikey":   {c.apiKey},
	}
	for k, v := range params {
		q[k] = []string{v}
	}

	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + "/" + indicator,
		QueryParams: q,
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", indicator, err)
	}
	c.l.Debug("twelvedata response", applogger.String("indicator", indicator), applogger.String("body", string(body)))

	latest := gjson.GetBytes(body, "values.0")
	if !latest.Exists() || !latest.IsObject() {
		msg := gjson.GetBytes(body, "message").String()
		return nil, fmt.Errorf("%w for %s: %s", ErrNoValues, indicator, msg)
	}

	out := make(map[string]string)
	latest.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out, nil
}

// Features samples RSI, the two EMAs and MACD concurrently and returns them in model order.
func (c *Client) Features(ctx context.Context, symbol, interval string) (models.Features, error) {
	var rsi, emaFast, emaSlow, macd map[string]string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rsi, err = c.Fetch(gctx, "rsi", symbol, interval, nil)
		return err
	})
	g.Go(func() (err error) {
		emaFast, err = c.Fetch(gctx, "ema", symbol, interval, map[string]string{"time_period": strconv.Itoa(c.fastEMA)})
		return err
	})
	g.Go(func() (err error) {
		emaSlow, err = c.Fetch(gctx, "ema", symbol, interval, map[string]string{"time_period": strconv.Itoa(c.slowEMA)})
		return err
	})
	g.Go(func() (err error) {
		macd, err = c.Fetch(gctx, "macd", symbol, interval, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Features{}, err
	}

	signalKey := "signal"
	if _, ok := macd[signalKey]; !ok {
		signalKey = "macd_signal"
	}

	var f models.Features
	var err error
	pick := []struct {
		rec map[string]string
		key string
	}{
		{rsi, "rsi"},
		{emaFast, "ema"},
		{emaSlow, "ema"},
		{macd, "macd"},
		{macd, signalKey},
	}
	for i, p := range pick {
		if f[i], err = parseValue(p.rec, p.key); err != nil {
			// an absent MACD signal line reads as zero
			if i == 4 && errors.Is(err, errMissingKey) {
				f[i] = 0
				continue
			}
			return models.Features{}, err
		}
	}
	return f, nil
}

func parseValue(rec map[string]string, key string) (float64, error) {
	raw, ok := rec[key]
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", ErrNoValues, errMissingKey, key)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric: %v", ErrNoValues, key, err)
	}
	return v, nil
}
