// irischeck probes the services the bot depends on: Iris /config and its
// WebSocket stream, plus the database and Redis when configured.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/park285/elo-ladder-bot/internal/obslog"
	"github.com/park285/elo-ladder-bot/internal/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	opts := obslog.OptionsFromEnv()
	opts.ToFile = false
	logger, closeLog, err := obslog.New(opts)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = closeLog() }()

	baseURL := os.Getenv("IRIS_BASE_URL")
	wsURL := os.Getenv("IRIS_WS_URL")
	if baseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if v := os.Getenv("X_USER_ID"); v != "" {
			m["X-User-Id"] = v
		}
		if v := os.Getenv("X_USER_EMAIL"); v != "" {
			m["X-User-Email"] = v
		}
		if v := os.Getenv("X_SESSION_ID"); v != "" {
			m["X-Session-Id"] = v
		}
		return m
	}

	client := irisfast.NewClient(baseURL,
		irisfast.WithHeaderProvider(headers),
		irisfast.WithTimeout(8*time.Second),
		irisfast.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := client.GetConfig(ctx)
	if err != nil {
		logger.Warn("iris_config_failed", zap.Error(err))
	} else {
		logger.Info("iris_config_ok",
			zap.String("bot_name", cfg.BotName),
			zap.Int64("bot_id", cfg.BotID),
			zap.Int("http_port", cfg.BotHTTPPort),
			zap.Int("polling_rate", cfg.DBPollingRate),
			zap.Int("send_rate", cfg.MessageSendRate),
			zap.String("endpoint", cfg.WebServerEndpoint),
		)
	}

	checkDatabase(logger)
	checkRedis(logger)

	if wsURL == "" {
		logger.Info("ws_check_skipped", zap.String("reason", "IRIS_WS_URL not set"))
		return
	}

	ws := irisfast.NewWebSocket(wsURL, 5, time.Second, logger)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		fmt.Printf("WS msg room=%s chat=%s from=%s text=%q mentions=%d\n",
			msg.Room, msg.RoomID(), msg.SenderName(), msg.Msg, len(msg.Mentions()))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		logger.Warn("ws_connect_failed", zap.Error(err))
		return
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}

func checkDatabase(logger *zap.Logger) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logger.Info("db_check_skipped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := postgres.Open(ctx, postgres.Options{DatabaseURL: dsn, MaxOpenConns: 2}, logger)
	if err != nil {
		logger.Warn("db_open_failed", zap.Error(err))
		return
	}
	defer st.Close()
	if err := st.HealthCheck(ctx); err != nil {
		logger.Warn("db_health_failed", zap.Error(err))
		return
	}
	logger.Info("db_ok", zap.Int("gate_size", st.Gate().Size()))
}

func checkRedis(logger *zap.Logger) {
	raw := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if raw == "" {
		return
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		logger.Warn("redis_url_invalid", zap.Error(err))
		return
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis_ping_failed", zap.Error(err))
		return
	}
	logger.Info("redis_ok", zap.String("addr", opts.Addr))
}
