// Package irisfast talks to an Iris instance: HTTP for replies, queries and
// config, WebSocket for inbound messages.
package irisfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-ladder-bot/internal/retry"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ErrUnavailable matches failures another attempt may fix: transport errors
// and 5xx gateway answers.
var ErrUnavailable = errors.New("iris unavailable")

// APIError is a non-2xx answer from Iris.
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iris %s: status=%d body=%s", e.Path, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && retryableStatus(e.Status)
}

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Client is the HTTP side of Iris. Reads (/config, /query) are retried on
// ErrUnavailable; replies are sent once so a slow 5xx never posts twice.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
	logger  *zap.Logger

	readPolicy retry.Policy
	reads      *retry.Retrier
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithHTTPClient replaces the underlying fasthttp client, e.g. to dial an
// in-memory listener.
func WithHTTPClient(h *fasthttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithReadRetry sets the backoff for idempotent calls.
func WithReadRetry(p retry.Policy) Option {
	return func(c *Client) { c.readPolicy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
		readPolicy: retry.Policy{
			MaxRetries:   2,
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reads = retry.New(c.readPolicy, ErrUnavailable, retry.WithLogger(c.logger), retry.WithName("iris_read"))
	return c
}

// GetConfig reads the bot identity Iris runs under.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	err := c.reads.Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, fasthttp.MethodGet, "/config", nil, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Query runs a read-only SQL statement against the KakaoTalk database Iris
// has open. Rows come back as column name to value maps.
func (c *Client) Query(ctx context.Context, query string, bind ...any) ([]map[string]any, error) {
	req := QueryRequest{Query: query, Bind: bind}
	var resp QueryResponse
	err := c.reads.Do(ctx, func(ctx context.Context) error {
		resp = QueryResponse{}
		return c.call(ctx, fasthttp.MethodPost, "/query", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) SendText(ctx context.Context, room, message string) error {
	return c.call(ctx, fasthttp.MethodPost, "/reply", ReplyRequest{Type: "text", Room: room, Data: message}, nil)
}

// SendImage posts png as a base64 image reply.
func (c *Client) SendImage(ctx context.Context, room string, png []byte) error {
	return c.call(ctx, fasthttp.MethodPost, "/reply", ReplyRequest{Type: "image", Room: room, Data: encodePNG(png)}, nil)
}

// call performs one round trip.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		req.SetBody(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("iris %s: %w: %w", path, ErrUnavailable, err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return &APIError{Path: path, Status: status, Body: truncate(string(resp.Body()), 512)}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// deadline is the earlier of the context deadline and the client timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func retryableStatus(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
