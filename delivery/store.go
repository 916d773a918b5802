package delivery

import (
	"context"
	"time"

	"github.com/paybridge/paybridge/id"
)

// Store defines the persistence contract for delivery attempts.
type Store interface {
	// Enqueue creates a pending attempt.
	Enqueue(ctx context.Context, a *Attempt) error

	// EnqueueBatch creates multiple attempts atomically (fan-out).
	EnqueueBatch(ctx context.Context, as []*Attempt) error

	// Dequeue claims up to limit due pending attempts (NextAttemptAt in the
	// past). Claimed attempts are invisible to other workers until updated.
	Dequeue(ctx context.Context, limit int) ([]*Attempt, error)

	// UpdateAttempt writes an attempt's outcome and releases its claim.
	// Transitions not in the validated table are rejected.
	UpdateAttempt(ctx context.Context, a *Attempt) error

	// DeleteAttempt removes an attempt. Used only to drop a pending attempt
	// made redundant by an existing success for the same pair.
	DeleteAttempt(ctx context.Context, attemptID id.ID) error

	// GetAttempt returns an attempt by ID.
	GetAttempt(ctx context.Context, attemptID id.ID) (*Attempt, error)

	// HasSuccess reports whether a success attempt already exists for the
	// (subscription, event) pair. Guards idempotent re-triggers.
	HasSuccess(ctx context.Context, subID, evtID id.ID) (bool, error)

	// HasSuccessor reports whether an attempt with AttemptNumber+1 exists
	// for the same (subscription, event) pair. Used by the recovery sweep.
	HasSuccessor(ctx context.Context, a *Attempt) (bool, error)

	// ListBySubscription returns delivery history for a subscription,
	// newest first.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Attempt, error)

	// ListByEvent returns all attempts for an event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Attempt, error)

	// ListCompletedInWindow returns attempts that reached a terminal state
	// with CreatedAt in [from, to), for metrics aggregation.
	ListCompletedInWindow(ctx context.Context, subID id.ID, from, to time.Time) ([]*Attempt, error)

	// FindMissedRetries returns failed attempts whose NextRetryAt has passed
	// but whose successor attempt was never enqueued (crash recovery).
	FindMissedRetries(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)

	// CountPending returns the number of attempts awaiting dispatch.
	CountPending(ctx context.Context) (int64, error)
}
