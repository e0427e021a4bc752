// Package retry runs an operation again while it fails with one designated
// error kind, backing off exponentially between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	}
}

// normalized fills zero or nonsensical fields from DefaultPolicy.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Retrier struct {
	policy Policy
	target error
	sleep  Sleeper
	logger *zap.Logger
	name   string
}

type Option func(*Retrier)

func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		if s != nil {
			r.sleep = s
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retrier) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithName labels retry log lines.
func WithName(name string) Option {
	return func(r *Retrier) { r.name = name }
}

// New returns a Retrier that retries only errors matching target via errors.Is.
func New(policy Policy, target error, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy.normalized(),
		target: target,
		sleep:  sleepWithContext,
		logger: zap.NewNop(),
		name:   "op",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Policy() Policy { return r.policy }

// Do runs fn up to MaxRetries+1 times. A non-matching error is returned on
// first occurrence; after the last attempt the last conflict is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := r.policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.target == nil || !errors.Is(err, r.target) {
			return err
		}
		lastErr = err
		if attempt > r.policy.MaxRetries {
			break
		}
		r.logger.Debug("retry_conflict",
			zap.String("op", r.name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay = nextDelay(delay, r.policy)
	}
	r.logger.Warn("retry_exhausted",
		zap.String("op", r.name),
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func nextDelay(d time.Duration, p Policy) time.Duration {
	next := time.Duration(float64(d) * p.Multiplier)
	if next > p.MaxDelay || next <= 0 {
		return p.MaxDelay
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
