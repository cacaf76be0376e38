package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	MethodGet   = http.MethodGet
	MethodPost  = http.MethodPost
	MethodPut   = http.MethodPut
	MethodPatch = http.MethodPatch
)

const defaultUserAgent = "signalbridge/1.0"

// ClientOption configures HTTPClient.
type ClientOption func(*Client)

// RequestOptions holds HTTP request parameters.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// StatusError is returned by SendAndParse for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client is a JSON HTTP client. GET requests are retried on transport
// errors and 5xx answers when retries are configured.
type Client struct {
	timeout    time.Duration
	userAgent  string
	retries    int
	retryDelay time.Duration
	client     *http.Client
}

// NewClient creates a new HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:    30 * time.Second,
		userAgent:  defaultUserAgent,
		retryDelay: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{Timeout: c.timeout}
	return c
}

// SendRequest sends an HTTP request and returns response.
func (c *Client) SendRequest(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	attempts := 1
	if opts.Method == MethodGet {
		attempts += c.retries
	}

	for i := 0; ; i++ {
		req, err := c.buildRequest(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.client.Do(req)
		retry := i+1 < attempts && (err != nil || resp.StatusCode >= http.StatusInternalServerError)
		if !retry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return resp, nil
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}

		t := time.NewTimer(c.retryDelay * time.Duration(i+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("request failed: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// SendAndParse sends request and parses JSON response.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	resp, err := c.SendRequest(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if dest == nil {
		return nil
	}

	switch v := dest.(type) {
	case *[]byte:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*v = body
	case io.Writer:
		if _, err := io.Copy(v, resp.Body); err != nil {
			return fmt.Errorf("copy body: %w", err)
		}
	default:
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	}

	return nil
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, err := c.createRequestBody(opts)
	if err != nil {
		return nil, fmt.Errorf("create body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	c.addQueryParams(req, opts.QueryParams)
	c.addHeaders(req, opts.Headers)

	return req, nil
}

func (c *Client) createRequestBody(opts *RequestOptions) (io.Reader, error) {
	if opts.Body == nil {
		return nil, nil
	}

	switch v := opts.Body.(type) {
	case []byte:
		return bytes.NewBuffer(v), nil
	case *[]byte:
		return bytes.NewBuffer(*v), nil
	case io.Reader:
		return v, nil
	case string:
		return strings.NewReader(v), nil
	default:
		jsonBody, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return bytes.NewBuffer(jsonBody), nil
	}
}

func (c *Client) addQueryParams(req *http.Request, params map[string][]string) {
	if len(params) > 0 {
		q := req.URL.Query()
		for key, values := range params {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
}

func (c *Client) addHeaders(req *http.Request, headers map[string]string) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" && req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// WithTimeout sets client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRetry retries GET requests up to n more times, waiting delay times the
// attempt number between tries.
func WithRetry(n int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = n
		c.retryDelay = delay
	}
}
