package paybridge

import "errors"

// Sentinel errors returned by PayBridge operations.
var (
	// ErrNoStore is returned when a Bridge is created without a store.
	ErrNoStore = errors.New("paybridge: store is required")

	// ErrDuplicateEvent is returned by the ingestion store when an event with
	// the same (provider, provider_event_id) already exists. Not a failure:
	// callers respond 200 so the provider stops retrying.
	ErrDuplicateEvent = errors.New("paybridge: duplicate provider event")

	// ErrDuplicateSecret is returned when a subscription secret collides with
	// an existing one. Secrets are unique system-wide.
	ErrDuplicateSecret = errors.New("paybridge: duplicate subscription secret")

	// ErrEventNotFound is returned when an inbound event cannot be found.
	ErrEventNotFound = errors.New("paybridge: event not found")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = errors.New("paybridge: subscription not found")

	// ErrAttemptNotFound is returned when a delivery attempt cannot be found.
	ErrAttemptNotFound = errors.New("paybridge: delivery attempt not found")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("paybridge: dlq entry not found")

	// ErrEventClaimed is returned when a worker tries to claim an inbound
	// event that another worker is already processing.
	ErrEventClaimed = errors.New("paybridge: event already claimed")

	// ErrInvalidTransition is returned when a state machine transition is not
	// in the validated transition table.
	ErrInvalidTransition = errors.New("paybridge: invalid state transition")

	// ErrAlreadyDelivered is returned when recording or replaying a delivery
	// for a (subscription, event) pair that already has a successful attempt.
	ErrAlreadyDelivered = errors.New("paybridge: event already delivered to subscription")

	// ErrUnknownEventType is returned when a canonical event type is not in
	// the catalog.
	ErrUnknownEventType = errors.New("paybridge: unknown canonical event type")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("paybridge: store is closed")
)
