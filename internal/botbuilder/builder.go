// Package botbuilder assembles the bot from configuration: store, caches,
// Iris transport, league service, command router and background jobs.
package botbuilder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/elo-ladder-bot/internal/adapter/ladderpresenter"
	"github.com/park285/elo-ladder-bot/internal/command"
	"github.com/park285/elo-ladder-bot/internal/config"
	"github.com/park285/elo-ladder-bot/internal/elo"
	"github.com/park285/elo-ladder-bot/internal/identity"
	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/league"
	"github.com/park285/elo-ladder-bot/internal/mention"
	"github.com/park285/elo-ladder-bot/internal/msgcat"
	"github.com/park285/elo-ladder-bot/internal/retry"
	"github.com/park285/elo-ladder-bot/internal/scheduler"
	"github.com/park285/elo-ladder-bot/internal/store/dbpool"
	"github.com/park285/elo-ladder-bot/internal/store/memstore"
	"github.com/park285/elo-ladder-bot/internal/store/postgres"
	"github.com/park285/elo-ladder-bot/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is what the bot needs from a backing store.
type Store interface {
	league.Store
	Gate() *dbpool.Gate
	Close() error
}

type Bot struct {
	Config    *config.AppConfig
	Store     Store
	Client    *irisfast.Client
	WS        *irisfast.WebSocket
	Gateway   *irisfast.Gateway
	League    *league.Service
	Router    *command.Router
	Webhook   *webhook.Server
	Scheduler *scheduler.Scheduler
	Mentions  mention.Cache

	rdb    *redis.Client
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*buildOptions)

type buildOptions struct {
	store Store
}

// WithStore skips store selection, e.g. to share a memstore in tests.
func WithStore(s Store) Option {
	return func(o *buildOptions) { o.store = s }
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts ...Option) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bot{Config: cfg, logger: logger}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	ok := false
	defer func() {
		if !ok {
			_ = b.Close(context.Background())
		}
	}()

	// Store
	if o.store != nil {
		b.Store = o.store
	} else {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.Store = st
	}

	// Mention cache (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.rdb = redis.NewClient(ropts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = b.rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.Mentions = mention.NewRedis(b.rdb, mentionOptions(cfg), logger)
	} else {
		logger.Warn("mention_cache_in_memory", zap.String("reason", "REDIS_URL not set"))
		b.Mentions = mention.NewMemory(mentionOptions(cfg))
	}

	// Iris transport
	headers := headerProvider(cfg)
	b.Client = irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers), irisfast.WithLogger(logger))
	if strings.TrimSpace(cfg.IrisWSURL) != "" {
		b.WS = irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second, logger)
		b.WS.SetHeaderProvider(headers)
		b.WS.OnStateChange(func(state irisfast.WebSocketState) {
			logger.Info("ws_state", zap.String("state", string(state)))
		})
	}
	mode := cfg.EgressMode
	if b.WS == nil && mode != irisfast.EgressHTTP {
		logger.Warn("egress_fallback_http", zap.String("mode", mode))
		mode = irisfast.EgressHTTP
	}
	b.Gateway = irisfast.NewGateway(b.Client, irisfast.NewEgress(mode, cfg.DryRun, b.Client, b.WS, logger), logger)

	// League
	eng, err := ladder.NewEngine(b.Store, ladder.Config{
		KFactor: cfg.KFactor,
		Retry: retry.Policy{
			MaxRetries:   cfg.RetryMax,
			InitialDelay: cfg.RetryBaseDelay,
			Multiplier:   cfg.RetryMultiplier,
			MaxDelay:     cfg.RetryMaxDelay,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	leagueOpts := []league.Option{league.WithMembership(b.Gateway)}
	idCfg := identity.Config{
		BaseURL:  cfg.IdentityBaseURL,
		AuthURL:  cfg.IdentityAuthURL,
		ClientID: cfg.IdentityClientID,
		Username: cfg.IdentityUsername,
		Password: cfg.IdentityPassword,
	}
	if idCfg.Enabled() {
		leagueOpts = append(leagueOpts, league.WithIdentity(identity.NewClient(idCfg, logger)))
	} else {
		logger.Info("identity_disabled")
	}
	b.League, err = league.New(b.Store, eng, league.Config{
		UndoWindow:   cfg.UndoWindow,
		RankingLimit: cfg.RankingLimit,
		AdminUserIDs: cfg.AdminUserIDs,
	}, logger, leagueOpts...)
	if err != nil {
		return nil, err
	}

	// Commands
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	formatter := ladderpresenter.NewFormatter(cat, prefixProvider{prefix: cfg.BotPrefix}, ladderpresenter.FormatterConfig{
		UndoWindow:    b.League.Config().UndoWindow,
		RankingLimit:  b.League.Config().RankingLimit,
		InitialRating: elo.DefaultRating,
	}, logger)
	b.Router = command.New(command.Config{
		Prefix:       cfg.BotPrefix,
		AllowedRooms: cfg.AllowedRooms,
		BotUserID:    b.botUserID(ctx),
		GreetOnJoin:  true,
	}, b.League, b.Gateway, formatter, b.Mentions, logger)

	if b.WS != nil {
		b.WS.OnMessage(func(msg *irisfast.Message) {
			// WS 읽기 루프를 막지 않도록 분리
			go b.Router.Handle(b.ctx, msg)
		})
	}

	if cfg.WebhookEnabled {
		b.Webhook, err = webhook.New(webhook.Config{
			Addr:   cfg.WebhookAddr,
			Path:   cfg.WebhookPath,
			Secret: cfg.WebhookSecret,
		}, b.Router.Handle, b.Store.HealthCheck, logger)
		if err != nil {
			return nil, err
		}
	}

	b.Scheduler = scheduler.New(logger)
	if err := b.registerJobs(); err != nil {
		return nil, err
	}

	ok = true
	return b, nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set; ratings are lost on restart"))
		return memstore.New(memstore.WithPoolSize(cfg.DBMaxConns)), nil
	}
	st, err := postgres.Open(ctx, postgres.Options{
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (b *Bot) registerJobs() error {
	err := b.Scheduler.Add("store_health", "@every 1m", 10*time.Second, func(ctx context.Context) error {
		gate := b.Store.Gate()
		if err := b.Store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("store health: %w", err)
		}
		b.logger.Debug("store_healthy", zap.Int("in_use", gate.InUse()), zap.Int("size", gate.Size()))
		return nil
	})
	if err != nil {
		return err
	}
	if mem, ok := b.Mentions.(*mention.Memory); ok {
		return b.Scheduler.Add("mention_prune", "@every 10m", 0, func(context.Context) error {
			if n := mem.Prune(); n > 0 {
				b.logger.Debug("mention_pruned", zap.Int("removed", n))
			}
			return nil
		})
	}
	return nil
}

// botUserID asks Iris for the bot's own user id. A failure only disables
// recognising the bot's own kick.
func (b *Bot) botUserID(ctx context.Context) string {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ic, err := b.Client.GetConfig(cctx)
	if err != nil || ic.BotID == 0 {
		b.logger.Warn("iris_config_unavailable", zap.Error(err))
		return ""
	}
	return strconv.FormatInt(ic.BotID, 10)
}

// Close stops background work and releases connections. It is safe to call
// on a partially built Bot.
func (b *Bot) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	var errs []error
	if b.Scheduler != nil {
		b.Scheduler.Stop(ctx)
	}
	if b.Webhook != nil {
		if err := b.Webhook.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	if b.WS != nil {
		if err := b.WS.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ws: %w", err))
		}
	}
	if b.rdb != nil {
		if err := b.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func headerProvider(cfg *config.AppConfig) irisfast.HeaderProvider {
	return func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}
}

func mentionOptions(cfg *config.AppConfig) mention.Options {
	return mention.Options{TTL: cfg.MentionTTL, MaxEntries: cfg.MentionMaxEntries}
}

type prefixProvider struct{ prefix string }

func (p prefixProvider) Prefix() string { return p.prefix }
