// Package scheduler runs periodic maintenance jobs: the store health probe
// and pruning of the in-process mention cache.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one run of a job. The context is cancelled when the scheduler
// stops or the job exceeds its timeout.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      JobFunc
}

type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger}))),
		logger: logger,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job under a six-field cron spec ("0 */5 * * * *") or a
// descriptor such as "@every 1m".
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, timeout: timeout, fn: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.run(j) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = j
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler_started", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler_stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler_stop_timeout")
	}
}

// RunNow runs a registered job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) error {
	ctx := s.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	start := time.Now()
	err := j.fn(ctx)
	if err != nil {
		s.logger.Warn("job_failed", zap.String("job", j.name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}
	s.logger.Debug("job_done", zap.String("job", j.name), zap.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts zap to cron.Logger for the Recover wrapper.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
