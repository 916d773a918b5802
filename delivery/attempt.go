// Package delivery implements the outbound webhook dispatcher: signing and
// sending one HTTP POST per (subscription, event) pair, with retries on a
// fixed backoff schedule and dead-lettering when the schedule is exhausted.
package delivery

import (
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// Status is the state of a delivery attempt.
type Status string

const (
	// StatusPending indicates the attempt is awaiting dispatch.
	StatusPending Status = "pending"

	// StatusSuccess indicates the endpoint accepted the delivery (2xx).
	// At most one attempt per (subscription, event) pair reaches success.
	StatusSuccess Status = "success"

	// StatusFailed indicates this attempt failed; a successor attempt may be
	// scheduled.
	StatusFailed Status = "failed"

	// StatusDeadLetter indicates the retry schedule is exhausted. Only a
	// manual replay creates further attempts.
	StatusDeadLetter Status = "dead_letter"
)

// statusTransitions is the validated transition table. Each attempt row is
// written exactly once after dispatch; terminal states never change, so a
// dead_letter row can never become success.
var statusTransitions = map[Status][]Status{
	StatusPending: {StatusSuccess, StatusFailed, StatusDeadLetter},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Attempt records one try at sending one event to one subscription.
// Retries never mutate a completed attempt: they enqueue a new row with
// AttemptNumber+1.
type Attempt struct {
	entity.Entity

	// ID is the unique TypeID for this attempt.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventID references the inbound event being delivered. Nil for
	// synthetic sends that bypass the ledger.
	EventID id.ID `json:"event_id,omitempty"`

	// EventType is the canonical event type, denormalized for log filtering.
	EventType string `json:"event_type"`

	// AttemptNumber is 1-based and increments across retries.
	AttemptNumber int `json:"attempt_number"`

	// Status is the current attempt state.
	Status Status `json:"status"`

	// HTTPStatusCode is the response status, 0 on transport error.
	HTTPStatusCode int `json:"http_status_code,omitempty"`

	// ResponseBody is the response body, truncated to 1000 bytes.
	ResponseBody string `json:"response_body,omitempty"`

	// LatencyMs is the round-trip latency in milliseconds.
	LatencyMs int `json:"latency_ms,omitempty"`

	// ErrorMessage describes the failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`

	// NextAttemptAt is when a pending attempt becomes due for dispatch.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// NextRetryAt is when the successor attempt fires, set on failure while
	// retries remain.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// CompletedAt is when the attempt reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Final reports whether the attempt reached a terminal state.
func (a *Attempt) Final() bool {
	return a.Status != StatusPending
}

// NewRetryAttempt builds the successor attempt for a failed delivery,
// scheduled for fireAt with the attempt counter advanced.
func NewRetryAttempt(prev *Attempt, fireAt time.Time) *Attempt {
	return &Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		SubscriptionID: prev.SubscriptionID,
		EventID:        prev.EventID,
		EventType:      prev.EventType,
		AttemptNumber:  prev.AttemptNumber + 1,
		Status:         StatusPending,
		NextAttemptAt:  fireAt,
	}
}

// ListOpts configures filtering and pagination for attempt listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
