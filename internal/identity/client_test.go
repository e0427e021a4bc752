package identity

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fakeAPI struct {
	authCalls atomic.Int32
	expiresIn int
}

func (f *fakeAPI) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/token":
		f.authCalls.Add(1)
		args := ctx.PostArgs()
		if string(args.Peek("grant_type")) != "password" || string(args.Peek("username")) != "bot" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"access_token":"tok","expires_in":` + strconv.Itoa(f.expiresIn) + `}`)
	case "/v1/participants/jdoe":
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer tok" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"login":"jdoe","status":"ACTIVE","className":"A1"}`)
	case "/v1/participants/gone":
		ctx.SetBodyString(`{"login":"gone","status":"EXPELLED"}`)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func newTestClient(t *testing.T, api *fakeAPI, now func() time.Time) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: api.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
	cfg := Config{
		BaseURL:  "http://identity.test/",
		AuthURL:  "http://identity.test/token",
		ClientID: "s21",
		Username: "bot",
		Password: "secret",
	}
	return NewClient(cfg, nil, WithHTTPClient(hc), WithClock(now))
}

func TestParticipantActive(t *testing.T) {
	api := &fakeAPI{expiresIn: 3600}
	c := newTestClient(t, api, time.Now)

	p, err := c.Participant(context.Background(), "jdoe")
	if err != nil {
		t.Fatalf("Participant: %v", err)
	}
	if !p.Active() || p.ClassName != "A1" {
		t.Fatalf("participant = %+v", p)
	}

	ok, err := c.Verify(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expelled participant verified")
	}
}

func TestParticipantNotFound(t *testing.T) {
	c := newTestClient(t, &fakeAPI{expiresIn: 3600}, time.Now)

	_, err := c.Participant(context.Background(), "nobody")
	if !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("err = %v, want ErrParticipantNotFound", err)
	}
	ok, err := c.Verify(context.Background(), "nobody")
	if err != nil || ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
}

func TestTokenCachedUntilRefreshMargin(t *testing.T) {
	api := &fakeAPI{expiresIn: 3600}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, api, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Participant(ctx, "jdoe"); err != nil {
			t.Fatalf("Participant #%d: %v", i, err)
		}
	}
	if got := api.authCalls.Load(); got != 1 {
		t.Fatalf("auth calls = %d, want 1", got)
	}

	// 55분 경과: 만료 5분 전이므로 재발급
	now = now.Add(55 * time.Minute)
	if _, err := c.Participant(ctx, "jdoe"); err != nil {
		t.Fatalf("Participant: %v", err)
	}
	if got := api.authCalls.Load(); got != 2 {
		t.Fatalf("auth calls = %d, want 2", got)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	if _, err := c.Participant(context.Background(), "jdoe"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}
