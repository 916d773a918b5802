// Package subscription manages client webhook registrations: the endpoints
// developers register to receive canonical PayBridge events.
package subscription

import (
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// Health is the delivery health of a subscription endpoint.
type Health string

const (
	// HealthHealthy indicates the last delivery succeeded.
	HealthHealthy Health = "healthy"

	// HealthDegraded indicates a recent delivery failed but retries remain.
	HealthDegraded Health = "degraded"

	// HealthFailing indicates deliveries are being dead-lettered.
	HealthFailing Health = "failing"

	// HealthDisabled indicates the endpoint was disabled (410 Gone or owner
	// action) and receives no further deliveries.
	HealthDisabled Health = "disabled"
)

// healthTransitions is the validated transition table for Health.
// disabled is terminal except through an explicit owner re-enable, which
// resets to healthy.
var healthTransitions = map[Health][]Health{
	HealthHealthy:  {HealthDegraded, HealthFailing, HealthDisabled},
	HealthDegraded: {HealthHealthy, HealthFailing, HealthDisabled},
	HealthFailing:  {HealthHealthy, HealthDegraded, HealthDisabled},
	HealthDisabled: {HealthHealthy},
}

// CanTransition reports whether moving from h to next is allowed.
func (h Health) CanTransition(next Health) bool {
	if h == next {
		return true
	}
	for _, allowed := range healthTransitions[h] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Subscription represents a client webhook endpoint registration.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// Owner identifies the principal that registered this endpoint.
	Owner string `json:"owner"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Unique system-wide so a signature
	// can never be replayed across tenants. Never serialized.
	Secret string `json:"-"`

	// SelectedEvents is the set of canonical event types this endpoint
	// receives. Matching is exact string membership, not patterns.
	SelectedEvents []string `json:"selected_events"`

	// Active indicates whether the endpoint receives deliveries.
	Active bool `json:"active"`

	// Health is the current delivery health.
	Health Health `json:"health"`

	// SuccessCount is the total number of successful deliveries.
	SuccessCount int `json:"success_count"`

	// FailureCount is the total number of dead-lettered deliveries.
	FailureCount int `json:"failure_count"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// LastDeliveryAt is when the most recent delivery completed.
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
}

// Subscribed reports whether the subscription selects the given canonical
// event type. Exact string membership; no wildcard expansion.
func (s *Subscription) Subscribed(eventType string) bool {
	for _, selected := range s.SelectedEvents {
		if selected == eventType {
			return true
		}
	}
	return false
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Owner  string
	Active *bool
}
