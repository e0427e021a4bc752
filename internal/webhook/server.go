// Package webhook receives Iris events pushed over HTTP, as an alternative to
// the WebSocket stream.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	SecretHeader = "X-Bot-Api-Secret-Token"
	HealthPath   = "/healthz"

	defaultMaxBody = 1 << 20
)

type Config struct {
	Addr   string
	Path   string
	Secret string
	// MaxBodySize limits request bodies; zero means 1MiB.
	MaxBodySize int
}

// Handler processes one decoded message. It runs on its own goroutine after
// the request has been acknowledged.
type Handler func(ctx context.Context, msg *irisfast.Message)

type HealthFunc func(ctx context.Context) error

type Server struct {
	cfg     Config
	path    string
	handler Handler
	health  HealthFunc
	logger  *zap.Logger
	srv     *fasthttp.Server

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, handler Handler, health HealthFunc, logger *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBody
	}
	path := normalizePath(cfg.Path)
	if path == "" || path == HealthPath {
		return nil, errors.New("webhook path is required and must not be " + HealthPath)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		path:    path,
		handler: handler,
		health:  health,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		Name:               "elo-ladder-bot",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: cfg.MaxBodySize,
	}
	return s, nil
}

// normalizePath ensures one leading slash and no trailing slash.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("webhook_listening", zap.String("addr", s.cfg.Addr), zap.String("path", s.path))
	return s.srv.ListenAndServe(s.cfg.Addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.ShutdownWithContext(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Wait blocks until every dispatched handler has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	path := normalizePath(string(ctx.Path()))

	if path == HealthPath && ctx.IsGet() {
		s.handleHealth(ctx)
		return
	}
	if !ctx.IsPost() {
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	if path != s.path {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	if !strings.Contains(strings.ToLower(string(ctx.Request.Header.ContentType())), "application/json") {
		ctx.Error("Unsupported Media Type", fasthttp.StatusUnsupportedMediaType)
		return
	}
	if s.cfg.Secret != "" {
		got := ctx.Request.Header.Peek(SecretHeader)
		if subtle.ConstantTimeCompare(got, []byte(s.cfg.Secret)) != 1 {
			s.logger.Warn("webhook_secret_mismatch", zap.String("remote", ctx.RemoteIP().String()))
			ctx.Error("Forbidden", fasthttp.StatusForbidden)
			return
		}
	}

	var msg irisfast.Message
	if err := json.Unmarshal(ctx.PostBody(), &msg); err != nil {
		s.logger.Debug("webhook_bad_body", zap.Error(err))
		ctx.Error("Bad Request", fasthttp.StatusBadRequest)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("webhook_handler_panic", zap.Any("panic", r))
			}
		}()
		s.handler(s.baseCtx, &msg)
	}()

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"ok":true}`)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if s.health != nil {
		hctx, cancel := context.WithTimeout(s.baseCtx, 3*time.Second)
		defer cancel()
		if err := s.health(hctx); err != nil {
			s.logger.Warn("health_check_failed", zap.Error(err))
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"status":"unhealthy"}`)
			return
		}
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"status":"ok"}`)
}
