// Package scheduler drives suspended enrollments forward. A periodic sweep
// finds enrollments whose wake time has passed, claims each one, and hands it
// to the engine for a fresh execution pass. Claims make the sweep safe to run
// from multiple processes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule is the sweep cadence when none is configured.
	DefaultSchedule = "@every 10s"

	// claimLease is how long a worker owns a claimed enrollment. An expired
	// lease makes a crashed worker's enrollments claimable again.
	claimLease = 2 * time.Minute

	lockKeyPrefix = "funneld:claim:"
)

// Advancer executes one pass over a suspended enrollment.
type Advancer interface {
	Advance(ctx context.Context, enrollment *models.Enrollment) error
}

type Sweeper struct {
	persistence persistence.Persistence
	engine      Advancer
	locker      Locker
	logger      *slog.Logger
	schedule    string
	now         func() time.Time
}

type SweeperOption func(*Sweeper)

// WithLocker adds a cross-process lock in front of the persistence lease.
func WithLocker(locker Locker) SweeperOption {
	return func(s *Sweeper) { s.locker = locker }
}

// WithSchedule overrides the sweep cadence with a cron expression.
func WithSchedule(schedule string) SweeperOption {
	return func(s *Sweeper) { s.schedule = schedule }
}

// WithSweepClock replaces the sweeper clock, for tests.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(store persistence.Persistence, engine Advancer, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	sweeper := &Sweeper{
		persistence: store,
		engine:      engine,
		logger:      logger.With("component", "sweeper"),
		schedule:    DefaultSchedule,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	return sweeper
}

// Run sweeps on the configured cadence until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	runner := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := runner.AddFunc(s.schedule, func() {
		processed, err := s.ProcessReadyEnrollments(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)

			return
		}

		if processed > 0 {
			s.logger.InfoContext(ctx, "Sweep finished", "processed", processed)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.schedule)
	runner.Start()

	<-ctx.Done()

	stopCtx := runner.Stop()
	<-stopCtx.Done()

	s.logger.Info("Sweeper stopped")

	return nil
}

// ProcessReadyEnrollments runs one sweep: every due enrollment is claimed
// and advanced. It returns the number of enrollments this worker advanced.
// A failed enrollment does not abort the sweep; the lease expiry makes it
// claimable again.
func (s *Sweeper) ProcessReadyEnrollments(ctx context.Context) (int, error) {
	due, err := s.persistence.DueEnrollments(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	processed := 0

	for _, enrollment := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		if s.processOne(ctx, enrollment) {
			processed++
		}
	}

	return processed, nil
}

func (s *Sweeper) processOne(ctx context.Context, enrollment *models.Enrollment) bool {
	logger := s.logger.With("enrollment_id", enrollment.ID, "funnel_id", enrollment.FunnelID)

	if s.locker != nil {
		lockKey := lockKeyPrefix + enrollment.ID

		acquired, err := s.locker.Acquire(ctx, lockKey, claimLease)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to acquire enrollment lock", "error", err)

			return false
		}

		if !acquired {
			return false
		}

		defer func() {
			if err := s.locker.Release(ctx, lockKey); err != nil {
				logger.ErrorContext(ctx, "Failed to release enrollment lock", "error", err)
			}
		}()
	}

	claimed, err := s.persistence.ClaimEnrollment(ctx, enrollment.ID, s.now().Add(claimLease))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to claim enrollment", "error", err)

		return false
	}

	// Another worker holds the lease, or the enrollment changed under us.
	if !claimed {
		return false
	}

	err = s.engine.Advance(ctx, enrollment)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to advance enrollment", "error", err)
	}

	if releaseErr := s.persistence.ReleaseEnrollment(ctx, enrollment.ID); releaseErr != nil {
		logger.ErrorContext(ctx, "Failed to release enrollment claim", "error", releaseErr)
	}

	return err == nil
}
