package dlq

import (
	"encoding/json"
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// Entry represents a permanently failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// AttemptID references the final failed attempt.
	AttemptID id.ID `json:"attempt_id"`

	// EventID references the original inbound event.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the canonical event type for filtering.
	EventType string `json:"event_type"`

	// Owner identifies who owns the subscription.
	Owner string `json:"owner"`

	// URL is the subscription URL at the time of failure.
	URL string `json:"url"`

	// Payload is the event data that failed to deliver.
	Payload json.RawMessage `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	Owner          string
	SubscriptionID *id.ID
	EventType      string
	From           *time.Time
	To             *time.Time
}
