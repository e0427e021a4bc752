package botbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/elo-ladder-bot/internal/config"
	"github.com/park285/elo-ladder-bot/internal/mention"
	"github.com/park285/elo-ladder-bot/internal/store/memstore"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		// nothing listens here; the /config probe fails fast
		IrisBaseURL:       "http://127.0.0.1:1",
		BotPrefix:         "!",
		KFactor:           32,
		RetryMax:          3,
		RetryBaseDelay:    10 * time.Millisecond,
		RetryMaxDelay:     50 * time.Millisecond,
		RetryMultiplier:   2,
		UndoWindow:        24 * time.Hour,
		RankingLimit:      10,
		MentionTTL:        time.Hour,
		MentionMaxEntries: 10,
		EgressMode:        "auto",
	}
}

func TestNewInMemory(t *testing.T) {
	b, err := New(context.Background(), baseConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	if _, ok := b.Store.(*memstore.Store); !ok {
		t.Fatalf("store = %T, want memstore", b.Store)
	}
	if _, ok := b.Mentions.(*mention.Memory); !ok {
		t.Fatalf("mentions = %T, want memory", b.Mentions)
	}
	if b.WS != nil || b.Webhook != nil {
		t.Fatal("no ingress was configured")
	}
	for _, job := range []string{"store_health", "mention_prune"} {
		if err := b.Scheduler.RunNow(job); err != nil {
			t.Fatalf("%s: %v", job, err)
		}
	}
}

func TestNewWithRedisAndWebhook(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.WebhookEnabled = true
	cfg.WebhookAddr = "127.0.0.1:0"
	cfg.WebhookPath = "/hook"

	b, err := New(context.Background(), cfg, nil, WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	if _, ok := b.Mentions.(*mention.Redis); !ok {
		t.Fatalf("mentions = %T, want redis", b.Mentions)
	}
	if b.Webhook == nil {
		t.Fatal("webhook not built")
	}
	if err := b.Scheduler.RunNow("mention_prune"); err == nil {
		t.Fatal("prune job should only exist for the in-memory cache")
	}
}

func TestNewBadRedisURL(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisURL = "mysql://nope"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected redis url error")
	}
}

func TestHeaderProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.XUserID = "bot"
	cfg.XSessionID = "s1"
	h := headerProvider(cfg)()
	if h["X-User-Id"] != "bot" || h["X-Session-Id"] != "s1" {
		t.Fatalf("headers = %v", h)
	}
	if _, ok := h["X-User-Email"]; ok {
		t.Fatal("empty header must be omitted")
	}
}
