// Package config loads bot settings from an optional .env file, an optional
// YAML file named by CONFIG_FILE and the process environment, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string

	BotPrefix string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string

	DBMaxConns        int
	DBConnMaxLifetime time.Duration

	MentionTTL        time.Duration
	MentionMaxEntries int

	KFactor         int
	RetryMax        int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryMultiplier float64

	UndoWindow   time.Duration
	RankingLimit int

	AllowedRooms []string
	AdminUserIDs []string

	WebhookEnabled bool
	WebhookAddr    string
	WebhookPath    string
	WebhookSecret  string

	IdentityBaseURL  string
	IdentityAuthURL  string
	IdentityClientID string
	IdentityUsername string
	IdentityPassword string

	MessagesDir string
	EgressMode  string
	DryRun      bool
}

// fileConfig mirrors the YAML layout, e.g. elo.k_factor or
// database.connection_pool.max_size.
type fileConfig struct {
	Iris struct {
		BaseURL    string `yaml:"base_url"`
		WSURL      string `yaml:"ws_url"`
		EgressMode string `yaml:"egress_mode"`
		DryRun     *bool  `yaml:"dry_run"`
	} `yaml:"iris"`
	Bot struct {
		Prefix       string   `yaml:"prefix"`
		AllowedRooms []string `yaml:"allowed_rooms"`
		AdminUserIDs []string `yaml:"admin_user_ids"`
		MessagesDir  string   `yaml:"messages_dir"`
	} `yaml:"bot"`
	Database struct {
		URL            string `yaml:"url"`
		ConnectionPool struct {
			MaxSize     int    `yaml:"max_size"`
			MaxLifetime string `yaml:"max_lifetime"`
		} `yaml:"connection_pool"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Mention struct {
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"mention"`
	Elo struct {
		KFactor int `yaml:"k_factor"`
	} `yaml:"elo"`
	Retry struct {
		MaxRetries *int    `yaml:"max_retries"`
		BaseDelay  string  `yaml:"base_delay"`
		MaxDelay   string  `yaml:"max_delay"`
		Multiplier float64 `yaml:"multiplier"`
	} `yaml:"retry"`
	League struct {
		UndoWindow   string `yaml:"undo_window"`
		RankingLimit int    `yaml:"ranking_limit"`
	} `yaml:"league"`
	Webhook struct {
		Enabled *bool  `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		Path    string `yaml:"path"`
		Secret  string `yaml:"secret"`
	} `yaml:"webhook"`
	Identity struct {
		BaseURL  string `yaml:"base_url"`
		AuthURL  string `yaml:"auth_url"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"identity"`
}

func defaults() *AppConfig {
	return &AppConfig{
		DBMaxConns:        10,
		DBConnMaxLifetime: time.Hour,
		MentionTTL:        7 * 24 * time.Hour,
		MentionMaxEntries: 500,
		KFactor:           32,
		RetryMax:          3,
		RetryBaseDelay:    100 * time.Millisecond,
		RetryMaxDelay:     time.Second,
		RetryMultiplier:   2.0,
		UndoWindow:        24 * time.Hour,
		RankingLimit:      10,
		WebhookAddr:       ":8080",
		WebhookPath:       "/webhook",
		EgressMode:        "http",
	}
}

func Load() (*AppConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.IrisBaseURL == "" {
		return errors.New("IRIS_BASE_URL is required")
	}
	if c.IrisWSURL == "" && !c.WebhookEnabled {
		return errors.New("IRIS_WS_URL is required")
	}
	if c.BotPrefix == "" {
		return errors.New("BOT_PREFIX is required")
	}
	if c.KFactor <= 0 {
		return fmt.Errorf("ELO_K_FACTOR must be positive, got %d", c.KFactor)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative, got %d", c.RetryMax)
	}
	if c.WebhookEnabled && strings.TrimSpace(c.WebhookPath) == "" {
		return errors.New("WEBHOOK_PATH is required when the webhook is enabled")
	}
	switch c.EgressMode {
	case "http", "ws", "auto":
	default:
		return fmt.Errorf("unknown EGRESS_MODE %q", c.EgressMode)
	}
	return nil
}

// IdentityEnabled reports whether student verification can run.
func (c *AppConfig) IdentityEnabled() bool {
	return c.IdentityBaseURL != "" && c.IdentityAuthURL != ""
}

func (c *AppConfig) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.IrisBaseURL, f.Iris.BaseURL)
	setString(&c.IrisWSURL, f.Iris.WSURL)
	setString(&c.EgressMode, f.Iris.EgressMode)
	if f.Iris.DryRun != nil {
		c.DryRun = *f.Iris.DryRun
	}
	setString(&c.BotPrefix, f.Bot.Prefix)
	if len(f.Bot.AllowedRooms) > 0 {
		c.AllowedRooms = cleanList(f.Bot.AllowedRooms)
	}
	if len(f.Bot.AdminUserIDs) > 0 {
		c.AdminUserIDs = cleanList(f.Bot.AdminUserIDs)
	}
	setString(&c.MessagesDir, f.Bot.MessagesDir)
	setString(&c.DatabaseURL, f.Database.URL)
	setInt(&c.DBMaxConns, f.Database.ConnectionPool.MaxSize)
	setString(&c.RedisURL, f.Redis.URL)
	setInt(&c.MentionMaxEntries, f.Mention.MaxEntries)
	setInt(&c.KFactor, f.Elo.KFactor)
	// zero is a valid policy (no retries), so presence decides
	if f.Retry.MaxRetries != nil {
		c.RetryMax = *f.Retry.MaxRetries
	}
	if f.Retry.Multiplier > 0 {
		c.RetryMultiplier = f.Retry.Multiplier
	}
	setInt(&c.RankingLimit, f.League.RankingLimit)
	if f.Webhook.Enabled != nil {
		c.WebhookEnabled = *f.Webhook.Enabled
	}
	setString(&c.WebhookAddr, f.Webhook.Addr)
	setString(&c.WebhookPath, f.Webhook.Path)
	setString(&c.WebhookSecret, f.Webhook.Secret)
	setString(&c.IdentityBaseURL, f.Identity.BaseURL)
	setString(&c.IdentityAuthURL, f.Identity.AuthURL)
	setString(&c.IdentityClientID, f.Identity.ClientID)
	setString(&c.IdentityUsername, f.Identity.Username)
	setString(&c.IdentityPassword, f.Identity.Password)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"database.connection_pool.max_lifetime", f.Database.ConnectionPool.MaxLifetime, &c.DBConnMaxLifetime},
		{"mention.ttl", f.Mention.TTL, &c.MentionTTL},
		{"retry.base_delay", f.Retry.BaseDelay, &c.RetryBaseDelay},
		{"retry.max_delay", f.Retry.MaxDelay, &c.RetryMaxDelay},
		{"league.undo_window", f.League.UndoWindow, &c.UndoWindow},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	envString(&c.IrisBaseURL, "IRIS_BASE_URL")
	envString(&c.IrisWSURL, "IRIS_WS_URL")
	envString(&c.BotPrefix, "BOT_PREFIX")

	envString(&c.XUserID, "X_USER_ID")
	envString(&c.XUserEmail, "X_USER_EMAIL")
	envString(&c.XSessionID, "X_SESSION_ID")

	envString(&c.RedisURL, "REDIS_URL")
	envString(&c.DatabaseURL, "DATABASE_URL")
	envString(&c.MessagesDir, "MESSAGES_DIR")
	envString(&c.EgressMode, "EGRESS_MODE")
	c.EgressMode = strings.ToLower(c.EgressMode)

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ROOMS")); v != "" {
		c.AllowedRooms = cleanList(strings.Split(v, ","))
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_USER_IDS")); v != "" {
		c.AdminUserIDs = cleanList(strings.Split(v, ","))
	}

	envString(&c.WebhookAddr, "WEBHOOK_ADDR")
	envString(&c.WebhookPath, "WEBHOOK_PATH")
	envString(&c.WebhookSecret, "WEBHOOK_SECRET")

	envString(&c.IdentityBaseURL, "IDENTITY_BASE_URL")
	envString(&c.IdentityAuthURL, "IDENTITY_AUTH_URL")
	envString(&c.IdentityClientID, "IDENTITY_CLIENT_ID")
	envString(&c.IdentityUsername, "IDENTITY_USERNAME")
	envString(&c.IdentityPassword, "IDENTITY_PASSWORD")

	ints := []struct {
		key string
		dst *int
	}{
		{"DB_MAX_CONNS", &c.DBMaxConns},
		{"MENTION_MAX_ENTRIES", &c.MentionMaxEntries},
		{"ELO_K_FACTOR", &c.KFactor},
		{"RETRY_MAX", &c.RetryMax},
		{"RANKING_LIMIT", &c.RankingLimit},
	}
	for _, it := range ints {
		v := strings.TrimSpace(os.Getenv(it.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetime},
		{"MENTION_TTL", &c.MentionTTL},
		{"RETRY_BASE_DELAY", &c.RetryBaseDelay},
		{"RETRY_MAX_DELAY", &c.RetryMaxDelay},
		{"UNDO_WINDOW", &c.UndoWindow},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("RETRY_MULTIPLIER")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RETRY_MULTIPLIER: %w", err)
		}
		c.RetryMultiplier = f
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"WEBHOOK_ENABLED", &c.WebhookEnabled},
		{"DRY_RUN", &c.DryRun},
	}
	for _, b := range bools {
		v := strings.TrimSpace(os.Getenv(b.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.dst = parsed
	}
	return nil
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
