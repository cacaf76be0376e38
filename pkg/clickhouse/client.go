package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Client manages the ClickHouse connection pool used by the signal event archive.
type Client struct {
	db *sql.DB
}

// NewClient creates a ClickHouse client with connection pool.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	dsn := buildDSN(*cfg)
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &Client{db: db}, nil
}

// DB returns *sql.DB for direct use.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema ensures database and tables exist (idempotent).
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// buildDSN renders the clickhouse-go DSN. Credentials are escaped and
// write_timeout stays client side.
func buildDSN(cfg ClientConfig) string {
	u := url.URL{
		Scheme: "clickhouse",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	if cfg.UseHTTP {
		u.Scheme = "http"
	}

	q := url.Values{}
	if cfg.DialTimeout > 0 {
		q.Set("dial_timeout", cfg.DialTimeout.String())
	}
	if cfg.ReadTimeout > 0 {
		q.Set("read_timeout", cfg.ReadTimeout.String())
	}
	if cfg.MaxExecTime > 0 {
		q.Set("max_execution_time", strconv.Itoa(int(cfg.MaxExecTime.Seconds())))
	}
	if cfg.AsyncInsert {
		q.Set("async_insert", "1")
		if cfg.WaitForAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
