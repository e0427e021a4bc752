// Package postgres is the PostgreSQL store (lib/pq). It implements the
// ladder transaction interfaces plus the group/player directory.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/store/dbpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

type Options struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = dbpool.DefaultSize
	}
	if o.MaxIdleConns <= 0 || o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns / 2
		if o.MaxIdleConns == 0 {
			o.MaxIdleConns = 1
		}
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = time.Hour
	}
	if o.ConnMaxIdleTime <= 0 {
		o.ConnMaxIdleTime = 5 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

type Store struct {
	db     *sql.DB
	gate   *dbpool.Gate
	logger *zap.Logger
}

// Open connects and pings. The transaction gate has as many slots as the
// pool has connections, so InTx fails fast instead of queueing on database/sql.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(opts.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	db, err := sql.Open("postgres", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pctx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres_connected", zap.Int("max_open_conns", opts.MaxOpenConns))
	return New(db, opts.MaxOpenConns, logger), nil
}

// New wraps an existing handle.
func New(db *sql.DB, poolSize int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, gate: dbpool.NewGate(poolSize), logger: logger}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

// Gate exposes the transaction gate for pool usage reporting.
func (s *Store) Gate() *dbpool.Gate { return s.gate }

func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx runs fn in a READ COMMITTED transaction. Row locks come from the
// SELECT ... FOR UPDATE statements the engine issues.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ladder.Tx) error) (err error) {
	release, err := s.gate.Acquire()
	if err != nil {
		return err
	}
	defer release()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("tx_rollback_failed", zap.Error(rbErr), zap.NamedError("cause", err))
			}
		}
	}()

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}
