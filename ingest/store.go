package ingest

import (
	"context"
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/provider"
)

// Store defines the persistence contract for inbound events.
type Store interface {
	// CreateEvent inserts a new event keyed by (provider, provider_event_id).
	// Concurrent duplicate receipts must resolve to exactly one winner: the
	// loser observes the uniqueness violation and gets ErrDuplicateEvent.
	// The uniqueness constraint is the only mutual exclusion required.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// GetEventByProviderID returns the event for an idempotency key.
	GetEventByProviderID(ctx context.Context, p provider.Name, providerEventID string) (*Event, error)

	// ListEvents returns events, optionally filtered.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// ClaimDue atomically claims up to limit events that are ready for
	// processing (pending, or failed with NextProcessAt in the past and
	// attempts remaining), transitioning each to processing and incrementing
	// ProcessAttempts. Two workers never claim the same event.
	ClaimDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Event, error)

	// MarkSucceeded transitions a processing event to succeeded.
	MarkSucceeded(ctx context.Context, evtID id.ID, processedAt time.Time) error

	// MarkFailed transitions a processing event to failed, recording the
	// error and when the next attempt may run. Events that exhausted their
	// attempts keep the failed status until replayed.
	MarkFailed(ctx context.Context, evtID id.ID, procErr string, nextProcessAt time.Time) error

	// ResetEvent returns a failed event to pending with a cleared attempt
	// counter so the processor claims it again (manual replay).
	ResetEvent(ctx context.Context, evtID id.ID) error
}
