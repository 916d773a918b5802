// Package stats aggregates completed delivery attempts into hourly
// per-subscription metric windows.
package stats

import (
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// Window holds delivery metrics for one subscription over one hour.
// Windows are upserted by (SubscriptionID, PeriodStart): recomputing a
// period replaces the previous figures.
type Window struct {
	entity.Entity

	// SubscriptionID references the subscription being measured.
	SubscriptionID id.ID `json:"subscription_id"`

	// PeriodStart is the start of the hour this window covers, UTC.
	PeriodStart time.Time `json:"period_start"`

	// TotalDeliveries counts attempts that reached a terminal state in the
	// period.
	TotalDeliveries int `json:"total_deliveries"`

	// Successful counts attempts that ended in success.
	Successful int `json:"successful"`

	// Failed counts attempts that ended failed.
	Failed int `json:"failed"`

	// DeadLettered counts attempts that exhausted the retry schedule and
	// were moved to the dead letter queue.
	DeadLettered int `json:"dead_lettered"`

	// Retried counts attempts with AttemptNumber above 1.
	Retried int `json:"retried"`

	// AvgLatencyMs is the mean round-trip latency.
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	// P95LatencyMs is the 95th percentile latency.
	P95LatencyMs float64 `json:"p95_latency_ms"`

	// P99LatencyMs is the 99th percentile latency.
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

// SuccessRate returns the success percentage for the window, e.g. 70.0 for
// 7 successes out of 10 deliveries. Empty windows rate 0.
func (w *Window) SuccessRate() float64 {
	if w.TotalDeliveries == 0 {
		return 0
	}
	return float64(w.Successful) / float64(w.TotalDeliveries) * 100
}

// ListOpts configures filtering and pagination for window listing.
type ListOpts struct {
	Offset         int
	Limit          int
	SubscriptionID *id.ID
	From           *time.Time
	To             *time.Time
}
