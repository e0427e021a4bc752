// Package ladder registers and reverses rated matches. Every attempt runs in
// one transaction: rows are read under lock, written behind a version fence
// and retried only on a fence conflict.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/elo"
	"github.com/park285/elo-ladder-bot/internal/retry"
	"go.uber.org/zap"
)

type Config struct {
	KFactor int
	Retry   retry.Policy
}

func DefaultConfig() Config {
	return Config{KFactor: elo.DefaultK, Retry: retry.DefaultPolicy()}
}

type Engine struct {
	runner  TxRunner
	calc    *elo.Calculator
	retrier *retry.Retrier
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*engineOptions)

type engineOptions struct {
	now     func() time.Time
	sleeper retry.Sleeper
}

// WithClock overrides the timestamp source for created/undone times.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithSleeper overrides the backoff sleep, mainly for tests.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *engineOptions) { o.sleeper = s }
}

func NewEngine(runner TxRunner, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	retryOpts := []retry.Option{retry.WithLogger(logger), retry.WithName("ladder")}
	if o.sleeper != nil {
		retryOpts = append(retryOpts, retry.WithSleeper(o.sleeper))
	}
	return &Engine{
		runner:  runner,
		calc:    elo.NewCalculator(cfg.KFactor),
		retrier: retry.New(cfg.Retry, ErrOptimisticLock, retryOpts...),
		logger:  logger,
		now:     o.now,
	}, nil
}

func (e *Engine) KFactor() int { return e.calc.K() }

// lockPair locks both rows in ascending player id order and returns them in
// argument order.
func lockPair(ctx context.Context, tx Tx, groupID, playerA, playerB int64) (*domain.GroupPlayer, *domain.GroupPlayer, error) {
	first, second := playerA, playerB
	if second < first {
		first, second = second, first
	}
	gpFirst, err := tx.LockGroupPlayer(ctx, groupID, first)
	if err != nil {
		return nil, nil, fmt.Errorf("lock group_player group=%d player=%d: %w", groupID, first, err)
	}
	gpSecond, err := tx.LockGroupPlayer(ctx, groupID, second)
	if err != nil {
		return nil, nil, fmt.Errorf("lock group_player group=%d player=%d: %w", groupID, second, err)
	}
	if first == playerA {
		return gpFirst, gpSecond, nil
	}
	return gpSecond, gpFirst, nil
}

// writeVersioned applies gp only if the stored version still equals expected.
func writeVersioned(ctx context.Context, tx Tx, gp *domain.GroupPlayer, expected int64) error {
	ok, err := tx.UpdateGroupPlayer(ctx, gp, expected)
	if err != nil {
		return fmt.Errorf("update group_player id=%d: %w", gp.ID, err)
	}
	if !ok {
		return fmt.Errorf("update group_player id=%d version=%d: %w", gp.ID, expected, ErrOptimisticLock)
	}
	gp.Version = expected + 1
	return nil
}

func checkRange(field string, value int) error {
	if !elo.InRange(value) {
		return invalid(field, "rating %d outside [%d, %d]", value, elo.MinRating, elo.MaxRating)
	}
	return nil
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
