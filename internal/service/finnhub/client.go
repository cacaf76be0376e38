package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	applogger "SignalBridge/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrNoFreshPrice is returned when no trade was seen within MaxAge.
var ErrNoFreshPrice = errors.New("finnhub: no fresh trade price")

// Client keeps the last trade price of one symbol from the Finnhub WebSocket
// and serves it as a price oracle.
type Client struct {
	apiKey         string
	websocketURL   string
	symbol         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxAge         time.Duration
	l              *applogger.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	lastPrice atomic.Uint64 // math.Float64bits
	lastSeen  atomic.Int64  // unix nanos
	nowFn     func() time.Time
}

// New creates a streaming price oracle. Run must be started for prices to arrive.
func New(apiKey, websocketURL, symbol string, reconnectDelay, pingInterval, maxAge time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbol:         symbol,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		maxAge:         maxAge,
		l:              l,
		nowFn:          time.Now,
	}
}

// Price returns the last traded price if it is not older than maxAge.
func (c *Client) Price(_ context.Context) (float64, error) {
	seen := c.lastSeen.Load()
	if seen == 0 {
		return 0, ErrNoFreshPrice
	}
	if c.maxAge > 0 && c.nowFn().Sub(time.Unix(0, seen)) > c.maxAge {
		return 0, ErrNoFreshPrice
	}
	return math.Float64frombits(c.lastPrice.Load()), nil
}

// Run connects, subscribes and keeps reading until ctx is done, reconnecting
// after reconnectDelay on any failure.
func (c *Client) Run(ctx context.Context) {
	for {
		err := c.session(ctx)
		_ = c.Close()
		if ctx.Err() != nil {
			return
		}
		c.l.Warn("finnhub session ended", applogger.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.subscribe(); err != nil {
		return err
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(pingCtx)

	// unblock ReadMessage on shutdown
	go func() {
		<-pingCtx.Done()
		_ = c.Close()
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("finnhub conn closed")
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}
		c.handleFrame(b)
	}
}

func (c *Client) connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.l.Info("finnhub connected", applogger.String("symbol", c.symbol))
	return nil
}

func (c *Client) subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("finnhub not connected")
	}
	msg := map[string]string{"type": "subscribe", "symbol": c.symbol}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.symbol, err)
	}
	return nil
}

func (c *Client) pingLoop(ctx context.Context) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()
		}
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (c *Client) handleFrame(b []byte) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return
	}
	for _, d := range m.Data {
		if d.S != c.symbol || d.P <= 0 {
			continue
		}
		c.lastPrice.Store(math.Float64bits(d.P))
		c.lastSeen.Store(c.nowFn().UnixNano())
	}
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
