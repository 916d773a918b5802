package stats_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/store/memory"
	"github.com/paybridge/paybridge/subscription"
)

func completedAttempt(subID id.ID, status delivery.Status, number, latencyMs int, at time.Time) *delivery.Attempt {
	done := at
	return &delivery.Attempt{
		Entity:         entity.Entity{CreatedAt: at, UpdatedAt: at},
		ID:             id.NewAttemptID(),
		SubscriptionID: subID,
		EventID:        id.NewEventID(),
		EventType:      "payment.completed",
		AttemptNumber:  number,
		Status:         status,
		LatencyMs:      latencyMs,
		NextAttemptAt:  at,
		CompletedAt:    &done,
	}
}

func TestCompute(t *testing.T) {
	subID := id.NewSubscriptionID()
	period := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	at := period.Add(10 * time.Minute)

	attempts := []*delivery.Attempt{
		completedAttempt(subID, delivery.StatusSuccess, 1, 100, at),
		completedAttempt(subID, delivery.StatusSuccess, 1, 200, at),
		completedAttempt(subID, delivery.StatusSuccess, 2, 300, at),
		completedAttempt(subID, delivery.StatusSuccess, 1, 400, at),
		completedAttempt(subID, delivery.StatusSuccess, 1, 500, at),
		completedAttempt(subID, delivery.StatusSuccess, 3, 600, at),
		completedAttempt(subID, delivery.StatusSuccess, 1, 700, at),
		completedAttempt(subID, delivery.StatusFailed, 1, 800, at),
		completedAttempt(subID, delivery.StatusFailed, 2, 900, at),
		completedAttempt(subID, delivery.StatusDeadLetter, 5, 1000, at),
	}

	w := stats.Compute(subID, period, attempts)

	if w.TotalDeliveries != 10 {
		t.Errorf("TotalDeliveries = %d, want 10", w.TotalDeliveries)
	}
	if w.Successful != 7 {
		t.Errorf("Successful = %d, want 7", w.Successful)
	}
	if w.Failed != 2 {
		t.Errorf("Failed = %d, want 2", w.Failed)
	}
	if w.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", w.DeadLettered)
	}
	if w.Retried != 4 {
		t.Errorf("Retried = %d, want 4", w.Retried)
	}
	if got := w.SuccessRate(); got != 70.0 {
		t.Errorf("SuccessRate = %v, want 70.0", got)
	}
	if w.AvgLatencyMs != 550 {
		t.Errorf("AvgLatencyMs = %v, want 550", w.AvgLatencyMs)
	}
	// Nearest-rank over 10 values: p95 is the 10th, p99 is the 10th.
	if w.P95LatencyMs != 1000 {
		t.Errorf("P95LatencyMs = %v, want 1000", w.P95LatencyMs)
	}
	if w.P99LatencyMs != 1000 {
		t.Errorf("P99LatencyMs = %v, want 1000", w.P99LatencyMs)
	}
	if !w.PeriodStart.Equal(period) {
		t.Errorf("PeriodStart = %v", w.PeriodStart)
	}
}

func TestComputeIgnoresZeroLatency(t *testing.T) {
	subID := id.NewSubscriptionID()
	period := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	// Transport errors record no latency; they count toward totals but not
	// the latency distribution.
	attempts := []*delivery.Attempt{
		completedAttempt(subID, delivery.StatusSuccess, 1, 250, period),
		completedAttempt(subID, delivery.StatusFailed, 1, 0, period),
	}

	w := stats.Compute(subID, period, attempts)
	if w.AvgLatencyMs != 250 {
		t.Errorf("AvgLatencyMs = %v, want 250", w.AvgLatencyMs)
	}
	if w.TotalDeliveries != 2 {
		t.Errorf("TotalDeliveries = %d, want 2", w.TotalDeliveries)
	}
}

func TestSuccessRateEmptyWindow(t *testing.T) {
	w := &stats.Window{}
	if got := w.SuccessRate(); got != 0 {
		t.Errorf("SuccessRate = %v, want 0", got)
	}
}

func TestAggregate(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          "acct_1",
		URL:            "https://example.com/hook",
		Secret:         "whsec_stats_test",
		SelectedEvents: []string{"payment.completed"},
		Active:         true,
		Health:         subscription.HealthHealthy,
	}
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	period := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	inside := period.Add(30 * time.Minute)
	outside := period.Add(-30 * time.Minute)

	for _, a := range []*delivery.Attempt{
		completedAttempt(sub.ID, delivery.StatusSuccess, 1, 120, inside),
		completedAttempt(sub.ID, delivery.StatusFailed, 1, 340, inside),
		// Outside the period: must not count.
		completedAttempt(sub.ID, delivery.StatusSuccess, 1, 999, outside),
	} {
		if err := st.Enqueue(ctx, a); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ag := stats.NewAggregator(st, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := ag.Aggregate(ctx, period); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	windows, err := st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &sub.ID})
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(windows))
	}

	w := windows[0]
	if w.TotalDeliveries != 2 || w.Successful != 1 || w.Failed != 1 {
		t.Errorf("window counts = %d/%d/%d, want 2/1/1", w.TotalDeliveries, w.Successful, w.Failed)
	}

	// Re-running the same period replaces the window rather than duplicating.
	if err := ag.Aggregate(ctx, period); err != nil {
		t.Fatalf("re-aggregate: %v", err)
	}
	windows, _ = st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &sub.ID})
	if len(windows) != 1 {
		t.Errorf("windows after re-run = %d, want 1", len(windows))
	}
}

func TestAggregateSkipsEmptySubscriptions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          "acct_1",
		URL:            "https://example.com/hook",
		Secret:         "whsec_stats_empty",
		SelectedEvents: []string{"payment.completed"},
		Active:         true,
		Health:         subscription.HealthHealthy,
	}
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	period := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	ag := stats.NewAggregator(st, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := ag.Aggregate(ctx, period); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	windows, _ := st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &sub.ID})
	if len(windows) != 0 {
		t.Errorf("windows = %d, want 0 for idle subscription", len(windows))
	}
}

func TestComputeSeparatesFailedFromDeadLettered(t *testing.T) {
	subID := id.NewSubscriptionID()
	period := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	attempts := []*delivery.Attempt{
		completedAttempt(subID, delivery.StatusFailed, 2, 100, period),
		completedAttempt(subID, delivery.StatusDeadLetter, 5, 200, period),
	}

	w := stats.Compute(subID, period, attempts)
	if w.TotalDeliveries != 2 {
		t.Errorf("TotalDeliveries = %d, want 2", w.TotalDeliveries)
	}
	if w.Failed != 1 {
		t.Errorf("Failed = %d, want 1", w.Failed)
	}
	if w.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", w.DeadLettered)
	}
	if w.Successful != 0 {
		t.Errorf("Successful = %d, want 0", w.Successful)
	}
	if w.Retried != 2 {
		t.Errorf("Retried = %d, want 2", w.Retried)
	}
}

func TestAggregateSkipsInactiveSubscriptions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          "acct_1",
		URL:            "https://example.com/hook",
		Secret:         "whsec_stats_inactive",
		SelectedEvents: []string{"payment.completed"},
		Active:         false,
		Health:         subscription.HealthDisabled,
	}
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	period := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	attempt := completedAttempt(sub.ID, delivery.StatusSuccess, 1, 120, period.Add(10*time.Minute))
	if err := st.Enqueue(ctx, attempt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ag := stats.NewAggregator(st, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := ag.Aggregate(ctx, period); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	windows, _ := st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &sub.ID})
	if len(windows) != 0 {
		t.Errorf("windows = %d, want 0 for a disabled subscription", len(windows))
	}
}
