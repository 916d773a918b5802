// Package bus publishes event and delivery notifications so other parts of
// the system (dashboards, audit consumers) can react without polling.
package bus

import "context"

// Channel names used by PayBridge publishers.
const (
	ChannelEvents     = "paybridge:events"
	ChannelDeliveries = "paybridge:deliveries"
)

// Message kinds.
const (
	KindEvent    = "event"
	KindDelivery = "delivery"
)

// Message is a notification published after an event is processed or a
// delivery attempt completes.
type Message struct {
	Kind           string `json:"kind"`
	EventID        string `json:"event_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	Status         string `json:"status,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
}

// Publisher pushes messages onto a named channel. Publishing is best effort;
// callers log and continue on error.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
}

// Subscriber receives messages from a named channel until the context is
// cancelled. The returned channel is closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
}

// Bus combines publishing and subscribing.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
