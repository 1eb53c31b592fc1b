package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

// Config tunes the maintenance sweeps.
type Config struct {
	Interval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
	PastDueGrace time.Duration `env:"PAST_DUE_GRACE" envDefault:"720h"`
	Retention    time.Duration `env:"CANCELED_RETENTION" envDefault:"720h"`
	YieldEvery   int           `env:"SWEEP_YIELD_EVERY" envDefault:"100"`
}

// Counts reports what a sweep touched.
type Counts struct {
	Expired         int
	Canceled        int
	PastDueCanceled int
	Deleted         int64
}

// Sweeper runs the periodic maintenance passes. Every pass is idempotent:
// a second run over the same state matches nothing and writes nothing.
type Sweeper struct {
	store store.Store
	log   *slog.Logger
	cfg   Config
	now   func() time.Time
}

// Option configures the sweeper.
type Option func(*Sweeper)

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(st store.Store, log *slog.Logger, cfg Config, opts ...Option) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.PastDueGrace <= 0 {
		cfg.PastDueGrace = 30 * 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = 100
	}
	s := &Sweeper{
		store: st,
		log:   log,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes all sweeps on the configured interval until the context is
// canceled. The first pass runs immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.sweepAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	if counts, err := s.SweepExpired(ctx); err != nil {
		s.logErr(ctx, "expiry sweep failed", err)
	} else {
		s.log.InfoContext(ctx, "expiry sweep done",
			logger.Component("sweeper"),
			slog.Int("expired", counts.Expired),
			slog.Int("canceled", counts.Canceled))
	}

	if counts, err := s.SweepPastDue(ctx); err != nil {
		s.logErr(ctx, "past-due sweep failed", err)
	} else {
		s.log.InfoContext(ctx, "past-due sweep done",
			logger.Component("sweeper"),
			slog.Int("canceled", counts.PastDueCanceled))
	}

	if counts, err := s.SweepRetention(ctx); err != nil {
		s.logErr(ctx, "retention sweep failed", err)
	} else {
		s.log.InfoContext(ctx, "retention sweep done",
			logger.Component("sweeper"),
			slog.Int64("deleted", counts.Deleted))
	}
}

func (s *Sweeper) logErr(ctx context.Context, msg string, err error) {
	s.log.ErrorContext(ctx, msg, logger.Component("sweeper"), logger.Error(err))
}

// SweepExpired closes out active subscriptions whose period has ended.
// Period-end cancellations become canceled with projection identifiers
// cleared; the rest become expired.
func (s *Sweeper) SweepExpired(ctx context.Context) (Counts, error) {
	var counts Counts
	var seen int
	now := s.now()

	err := s.store.FindExpired(ctx, now, func(u store.User) error {
		seen++
		if err := s.maybeYield(ctx, seen); err != nil {
			return err
		}

		subID := u.Subscription.ProviderSubscriptionID
		if u.Subscription.CancelAtPeriodEnd {
			if err := s.store.SetProjectionStatus(ctx, u.ID, store.StatusCanceled, true); err != nil {
				return err
			}
			if subID != "" {
				canceledAt := now
				if err := s.store.SetSubscriptionStatus(ctx, subID, store.StatusCanceled, &canceledAt); err != nil && !errors.Is(err, store.ErrSubscriptionNotFound) {
					return err
				}
			}
			counts.Canceled++
			return nil
		}

		if err := s.store.SetProjectionStatus(ctx, u.ID, store.StatusExpired, false); err != nil {
			return err
		}
		if subID != "" {
			if err := s.store.SetSubscriptionStatus(ctx, subID, store.StatusExpired, nil); err != nil && !errors.Is(err, store.ErrSubscriptionNotFound) {
				return err
			}
		}
		counts.Expired++
		return nil
	})
	return counts, err
}

// SweepPastDue cancels subscriptions stuck past_due beyond the grace
// period and clears their projection identifiers.
func (s *Sweeper) SweepPastDue(ctx context.Context) (Counts, error) {
	var counts Counts
	var seen int
	now := s.now()
	cutoff := now.Add(-s.cfg.PastDueGrace)

	err := s.store.FindLongPastDue(ctx, cutoff, func(u store.User) error {
		seen++
		if err := s.maybeYield(ctx, seen); err != nil {
			return err
		}

		subID := u.Subscription.ProviderSubscriptionID
		if err := s.store.SetProjectionStatus(ctx, u.ID, store.StatusCanceled, true); err != nil {
			return err
		}
		if subID != "" {
			canceledAt := now
			if err := s.store.SetSubscriptionStatus(ctx, subID, store.StatusCanceled, &canceledAt); err != nil && !errors.Is(err, store.ErrSubscriptionNotFound) {
				return err
			}
		}
		counts.PastDueCanceled++
		return nil
	})
	return counts, err
}

// SweepRetention deletes canceled subscription rows older than the
// retention window.
func (s *Sweeper) SweepRetention(ctx context.Context) (Counts, error) {
	deleted, err := s.store.DeleteCanceledBefore(ctx, s.now().Add(-s.cfg.Retention))
	return Counts{Deleted: deleted}, err
}

// maybeYield checks for shutdown every YieldEvery records so long sweeps
// stay cancellable.
func (s *Sweeper) maybeYield(ctx context.Context, seen int) error {
	if seen%s.cfg.YieldEvery != 0 {
		return nil
	}
	return ctx.Err()
}
