// Package identity looks up school participants to verify student accounts.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	StatusActive = "ACTIVE"

	// tokens are refreshed this long before they expire
	tokenRefreshMargin = 5 * time.Minute
	defaultExpiresIn   = 3600
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotConfigured       = errors.New("identity client not configured")
)

type Participant struct {
	Login        string `json:"login"`
	Status       string `json:"status"`
	ClassName    string `json:"className,omitempty"`
	ParallelName string `json:"parallelName,omitempty"`
}

func (p *Participant) Active() bool { return p != nil && p.Status == StatusActive }

type Config struct {
	BaseURL  string
	AuthURL  string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.AuthURL) != ""
}

type token struct {
	access    string
	expiresAt time.Time
}

type Client struct {
	cfg    Config
	http   *fasthttp.Client
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	tok *token
}

type Option func(*Client)

func WithHTTPClient(h *fasthttp.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:    cfg,
		http:   &fasthttp.Client{ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout, MaxConnsPerHost: 16},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Participant fetches a participant by login. A missing login yields
// ErrParticipantNotFound.
func (c *Client) Participant(ctx context.Context, login string) (*Participant, error) {
	if !c.cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, fmt.Errorf("login: %w", ErrParticipantNotFound)
	}

	access, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.cfg.BaseURL + "/v1/participants/" + url.PathEscape(login))
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "application/json")

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("participant request: %w", err)
	}

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusNotFound:
		return nil, fmt.Errorf("login=%s: %w", login, ErrParticipantNotFound)
	case status == fasthttp.StatusUnauthorized:
		// 토큰이 서버측에서 폐기된 경우 다음 호출에서 재발급
		c.invalidate()
		return nil, fmt.Errorf("participant request: unauthorized")
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("identity api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
	}

	var p Participant
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	if p.Login == "" {
		p.Login = login
	}
	return &p, nil
}

// Verify reports whether login belongs to an active participant.
func (c *Client) Verify(ctx context.Context, login string) (bool, error) {
	p, err := c.Participant(ctx, login)
	if errors.Is(err, ErrParticipantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Active(), nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tok != nil && c.now().Before(c.tok.expiresAt.Add(-tokenRefreshMargin)) {
		return c.tok.access, nil
	}
	tok, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.tok = tok
	c.logger.Debug("identity_token_refreshed", zap.Time("expires_at", tok.expiresAt))
	return tok.access, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) authenticate(ctx context.Context) (*token, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	form.Set("grant_type", "password")

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.cfg.AuthURL)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form.Encode())

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, fmt.Errorf("auth failed: status=%d", status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("auth response without access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = defaultExpiresIn
	}
	return &token{access: tr.AccessToken, expiresAt: c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)}, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
