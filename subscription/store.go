package subscription

import (
	"context"
	"time"

	"github.com/paybridge/paybridge/id"
)

// Store defines the persistence contract for subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription. The secret is unique
	// system-wide; a collision returns ErrDuplicateSecret.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions, optionally filtered by owner
	// and active state.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// Match finds all active subscriptions whose selected_events contains
	// eventType (exact string membership). This is the fan-out hot path.
	Match(ctx context.Context, eventType string) ([]*Subscription, error)

	// SetActive enables or disables a subscription. Disabling via delivery
	// outcome (410 Gone) also sets health to disabled.
	SetActive(ctx context.Context, subID id.ID, active bool) error

	// RecordDeliverySuccess resets the failure streak: health becomes
	// healthy, SuccessCount increments, LastDeliveryAt is stamped.
	RecordDeliverySuccess(ctx context.Context, subID id.ID, at time.Time) error

	// RecordDeliveryFailure marks the health after a failed attempt:
	// degraded while retries remain, failing (and FailureCount increment)
	// when the delivery dead-letters.
	RecordDeliveryFailure(ctx context.Context, subID id.ID, at time.Time, deadLettered bool) error
}
