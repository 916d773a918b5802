package stats

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/subscription"
)

// AggregatorStore is the interface the aggregator needs to read attempts and
// write windows.
type AggregatorStore interface {
	Store

	ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	ListCompletedInWindow(ctx context.Context, subID id.ID, from, to time.Time) ([]*delivery.Attempt, error)
}

// Aggregator periodically rolls completed attempts into hourly windows.
// Each pass recomputes the previous complete hour, so re-running after a
// restart is safe: the upsert replaces earlier partial figures.
type Aggregator struct {
	store    AggregatorStore
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an aggregator running at the given interval.
func NewAggregator(store AggregatorStore, interval time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Aggregator{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the aggregation loop.
func (ag *Aggregator) Start(ctx context.Context) {
	ctx, ag.cancel = context.WithCancel(ctx)

	ag.wg.Add(1)
	go func() {
		defer ag.wg.Done()
		ticker := time.NewTicker(ag.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				periodStart := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
				if err := ag.Aggregate(ctx, periodStart); err != nil {
					ag.logger.ErrorContext(ctx, "aggregation pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the aggregation loop and waits for the in-flight pass.
func (ag *Aggregator) Stop() {
	if ag.cancel != nil {
		ag.cancel()
	}
	ag.wg.Wait()
}

// Aggregate computes and upserts one hourly window per subscription for the
// hour starting at periodStart. Exported for on-demand recomputation.
func (ag *Aggregator) Aggregate(ctx context.Context, periodStart time.Time) error {
	periodStart = periodStart.UTC().Truncate(time.Hour)
	periodEnd := periodStart.Add(time.Hour)

	active := true
	subs, err := ag.store.ListSubscriptions(ctx, subscription.ListOpts{Active: &active})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		attempts, err := ag.store.ListCompletedInWindow(ctx, sub.ID, periodStart, periodEnd)
		if err != nil {
			ag.logger.ErrorContext(ctx, "list attempts failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		if len(attempts) == 0 {
			continue
		}

		w := Compute(sub.ID, periodStart, attempts)
		if err := ag.store.UpsertWindow(ctx, w); err != nil {
			ag.logger.ErrorContext(ctx, "upsert window failed", "subscription_id", sub.ID, "error", err)
			continue
		}
	}
	return nil
}

// Compute builds a window from the terminal attempts in a period.
func Compute(subID id.ID, periodStart time.Time, attempts []*delivery.Attempt) *Window {
	w := &Window{
		Entity:         entity.New(),
		SubscriptionID: subID,
		PeriodStart:    periodStart,
	}

	latencies := make([]float64, 0, len(attempts))
	for _, a := range attempts {
		w.TotalDeliveries++
		switch a.Status {
		case delivery.StatusSuccess:
			w.Successful++
		case delivery.StatusFailed:
			w.Failed++
		case delivery.StatusDeadLetter:
			w.DeadLettered++
		}
		if a.AttemptNumber > 1 {
			w.Retried++
		}
		if a.LatencyMs > 0 {
			latencies = append(latencies, float64(a.LatencyMs))
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		w.AvgLatencyMs = sum / float64(len(latencies))
		w.P95LatencyMs = percentile(latencies, 95)
		w.P99LatencyMs = percentile(latencies, 99)
	}

	return w
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
