package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperStore is the interface the sweeper needs to recover missed retries.
type SweeperStore interface {
	FindMissedRetries(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)
	HasSuccessor(ctx context.Context, a *Attempt) (bool, error)
	Enqueue(ctx context.Context, a *Attempt) error
}

// Sweeper periodically scans for failed attempts whose retry was scheduled
// but never enqueued, e.g. because the process crashed between writing the
// failure and writing the successor, and enqueues the missing follow-up.
type Sweeper struct {
	store    SweeperStore
	retrier  *Retrier
	interval time.Duration
	batch    int
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper running at the given interval.
func NewSweeper(store SweeperStore, retrier *Retrier, interval time.Duration, batch int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		store:    store,
		retrier:  retrier,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.ErrorContext(ctx, "sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for any in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep performs one recovery pass. Exported so operators can trigger it
// on demand.
func (s *Sweeper) Sweep(ctx context.Context) error {
	missed, err := s.store.FindMissedRetries(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		return err
	}

	recovered := 0
	for _, a := range missed {
		// The failure row and its successor are written separately, so
		// FindMissedRetries can race a successor written moments ago.
		exists, err := s.store.HasSuccessor(ctx, a)
		if err != nil {
			s.logger.ErrorContext(ctx, "successor lookup failed", "attempt_id", a.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		if a.AttemptNumber >= s.retrier.MaxAttempts() {
			continue
		}

		next := NewRetryAttempt(a, *a.NextRetryAt)
		if err := s.store.Enqueue(ctx, next); err != nil {
			s.logger.ErrorContext(ctx, "enqueue recovered retry failed", "attempt_id", a.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.InfoContext(ctx, "recovered missed retries", "count", recovered)
	}
	return nil
}
