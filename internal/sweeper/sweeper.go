// Package sweeper evicts onboarding flows whose step expired without input.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/internal/domain"
)

const component = "sweeper"

// ErrInProgress is returned when another sweep holds the lock.
var ErrInProgress = errors.New("sweeper: sweep already in progress")

// StepLister lists pending steps.
type StepLister interface {
	List(ctx context.Context) ([]domain.StepRecord, error)
}

// Evictor tears down one expired flow under the flow's own lock. It re-checks
// the expiry and reports whether it evicted, and which step kind was pending.
type Evictor interface {
	Expire(ctx context.Context, userID int64, now time.Time) (domain.StepKind, bool, error)
}

// Notifier tells a user their flow timed out.
type Notifier interface {
	NotifyTimeout(ctx context.Context, userID int64, kind domain.StepKind) error
}

// Options tune a Sweeper.
type Options struct {
	Interval time.Duration
	Workers  int
	Locker   Locker
	Now      func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Scanned  int
	Evicted  int
	Notified int
}

// Sweeper finds and tears down expired flows.
type Sweeper struct {
	steps    StepLister
	evictor  Evictor
	notifier Notifier
	opts     Options
	pool     *ants.Pool
	sched    *cron.Cron
}

// New builds a sweeper with a bounded notification pool.
func New(steps StepLister, evictor Evictor, notifier Notifier, opts Options) (*Sweeper, error) {
	if steps == nil || evictor == nil {
		return nil, errors.New("sweeper: steps and evictor are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Locker == nil {
		opts.Locker = &LocalLocker{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error(context.Background(), component, "notify.panic", slog.String("panic", fmt.Sprint(p)))
	}))
	if err != nil {
		return nil, fmt.Errorf("sweeper: worker pool: %w", err)
	}
	return &Sweeper{steps: steps, evictor: evictor, notifier: notifier, opts: opts, pool: pool}, nil
}

// Sweep evicts every expired flow once. Overlapping calls are skipped with
// ErrInProgress.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	release, ok, err := s.opts.Locker.TryLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sweeper: lock: %w", err)
	}
	if !ok {
		return Result{}, ErrInProgress
	}
	defer release()

	start := time.Now()
	steps, err := s.steps.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sweeper: list steps: %w", err)
	}

	res := Result{Scanned: len(steps)}
	now := s.opts.Now()
	var wg sync.WaitGroup
	var notified atomic.Int32
	for _, rec := range steps {
		if !rec.Expired(now) {
			continue
		}
		uctx := logger.WithUser(ctx, rec.UserID)
		kind, evicted, err := s.evictor.Expire(uctx, rec.UserID, now)
		if err != nil {
			logger.Warn(uctx, component, "evict.failed", logger.Err(err))
			continue
		}
		if !evicted {
			continue
		}
		res.Evicted++
		rec.Kind = kind
		s.notify(uctx, &wg, &notified, rec)
	}
	wg.Wait()
	res.Notified = int(notified.Load())

	if res.Evicted > 0 {
		logger.Info(ctx, component, "sweep.done",
			slog.Int("scanned", res.Scanned),
			slog.Int("evicted", res.Evicted),
			slog.Int("notified", res.Notified),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return res, nil
}

func (s *Sweeper) notify(ctx context.Context, wg *sync.WaitGroup, notified *atomic.Int32, rec domain.StepRecord) {
	if s.notifier == nil {
		return
	}
	wg.Add(1)
	err := s.pool.Submit(func() {
		defer wg.Done()
		if err := s.notifier.NotifyTimeout(ctx, rec.UserID, rec.Kind); err != nil {
			logger.Warn(ctx, component, "notify.failed", logger.Err(err))
			return
		}
		notified.Add(1)
	})
	if err != nil {
		wg.Done()
		logger.Warn(ctx, component, "notify.submit_failed", logger.Err(err))
	}
}

// Start runs Sweep on the configured interval until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	cl := cronLogger{}
	s.sched = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := s.sched.AddFunc(fmt.Sprintf("@every %s", s.opts.Interval), func() {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrInProgress) {
			logger.Error(ctx, component, "sweep.failed", logger.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: schedule: %w", err)
	}
	s.sched.Start()
	logger.Info(ctx, component, "started", slog.Duration("interval", s.opts.Interval))
	return nil
}

// Stop waits for a running sweep and releases the worker pool.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.sched != nil {
		select {
		case <-s.sched.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.pool.Release()
}

type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	logger.Debug(context.Background(), component, "cron."+msg, slog.Group("cron", kv...))
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	logger.Error(context.Background(), component, "cron."+msg, logger.Err(err), slog.Group("cron", kv...))
}
