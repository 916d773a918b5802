package paybridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paybridge/paybridge/catalog"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/processor"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/store"
	"github.com/paybridge/paybridge/subscription"
)

// testProvider marks synthetic events created by SendTest.
const testProvider = provider.Name("test")

// wireServices initializes the internal services after options have been
// applied.
func (b *Bridge) wireServices() {
	b.catalog = catalog.New()
	b.validator = catalog.NewValidator()

	b.subSvc = subscription.NewService(b.store, b.logger)

	b.dlqSvc = dlq.NewService(b.store, b.logger)

	b.engine = delivery.NewEngine(b.store, b.dlqSvc, delivery.EngineConfig{
		Concurrency:    b.config.Concurrency,
		PollInterval:   b.config.PollInterval,
		BatchSize:      b.config.BatchSize,
		RequestTimeout: b.config.RequestTimeout,
		RetrySchedule:  b.config.RetrySchedule,
		Metrics:        b.metrics,
		Tracer:         b.tracer,
		Bus:            b.bus,
	}, b.logger)

	b.sweeper = delivery.NewSweeper(b.store, b.engine.Retrier(),
		b.config.SweepInterval, b.config.BatchSize, b.logger)

	b.processor = processor.New(b.store, b.handlers, b.FanOut, processor.Config{
		PollInterval: b.config.ProcessorPollInterval,
		BatchSize:    b.config.BatchSize,
		Metrics:      b.metrics,
		Bus:          b.bus,
	}, b.logger)

	b.aggregator = stats.NewAggregator(b.store, b.config.StatsInterval, b.logger)
}

// Start begins the delivery engine, processor, sweeper and aggregator.
func (b *Bridge) Start(ctx context.Context) {
	b.engine.Start(ctx)
	b.processor.Start(ctx)
	b.sweeper.Start(ctx)
	b.aggregator.Start(ctx)
	b.logger.InfoContext(ctx, "paybridge started",
		"concurrency", b.config.Concurrency,
		"poll_interval", b.config.PollInterval,
	)
}

// Stop gracefully shuts down all background workers.
func (b *Bridge) Stop(ctx context.Context) {
	b.aggregator.Stop()
	b.sweeper.Stop()
	b.processor.Stop()
	b.engine.Stop(ctx)
	b.logger.InfoContext(ctx, "paybridge stopped")
}

// Ingest runs the inbound pipeline for one provider webhook:
//
//  1. Resolve the provider adapter (reject unknown providers).
//  2. Verify the signature over the raw body.
//  3. Normalize to a canonical event type and provider event ID.
//  4. Insert into the event ledger keyed by (provider, provider_event_id).
//
// Duplicate receipts return the original event together with
// ErrDuplicateEvent so callers can acknowledge without reprocessing.
// Processing and fan-out happen asynchronously once the event is persisted.
func (b *Bridge) Ingest(ctx context.Context, name provider.Name, body []byte, signature string) (*ingest.Event, error) {
	adapter, err := b.providers.Get(name)
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(body, signature); err != nil {
		if b.metrics != nil {
			b.metrics.RecordReceived(string(name), "rejected")
		}
		return nil, err
	}

	norm, err := adapter.Normalize(body)
	if err != nil {
		if b.metrics != nil {
			b.metrics.RecordReceived(string(name), "malformed")
		}
		return nil, err
	}

	now := time.Now().UTC()
	evt := &ingest.Event{
		Entity:          entity.New(),
		ID:              id.NewEventID(),
		Provider:        name,
		ProviderEventID: norm.EventID,
		CanonicalType:   norm.EventType,
		RawPayload:      append([]byte(nil), body...),
		SignatureValid:  true,
		ReceivedAt:      now,
		Status:          ingest.StatusPending,
		NextProcessAt:   now,
	}

	if err := b.store.CreateEvent(ctx, evt); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			existing, getErr := b.store.GetEventByProviderID(ctx, name, norm.EventID)
			if getErr != nil {
				return nil, fmt.Errorf("paybridge: load duplicate event: %w", getErr)
			}
			if b.metrics != nil {
				b.metrics.RecordReceived(string(name), "duplicate")
			}
			return existing, ErrDuplicateEvent
		}
		return nil, fmt.Errorf("paybridge: persist event: %w", err)
	}

	if b.metrics != nil {
		b.metrics.RecordReceived(string(name), "received")
	}
	b.logger.DebugContext(ctx, "event ingested",
		"event_id", evt.ID,
		"provider", name,
		"type", evt.CanonicalType,
	)

	return evt, nil
}

// FanOut enqueues one pending attempt per subscription whose selected
// events contain the event's canonical type. The processor calls this after
// an event is applied; it is exported for replay tooling.
func (b *Bridge) FanOut(ctx context.Context, evt *ingest.Event) error {
	subs, err := b.store.Match(ctx, evt.CanonicalType)
	if err != nil {
		return fmt.Errorf("paybridge: match subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	attempts := make([]*delivery.Attempt, 0, len(subs))
	for _, sub := range subs {
		attempts = append(attempts, &delivery.Attempt{
			Entity:         entity.New(),
			ID:             id.NewAttemptID(),
			SubscriptionID: sub.ID,
			EventID:        evt.ID,
			EventType:      evt.CanonicalType,
			AttemptNumber:  1,
			Status:         delivery.StatusPending,
			NextAttemptAt:  now,
		})
	}

	if err := b.store.EnqueueBatch(ctx, attempts); err != nil {
		return fmt.Errorf("paybridge: enqueue deliveries: %w", err)
	}

	if b.metrics != nil {
		b.metrics.PendingDeliveries.Add(float64(len(attempts)))
	}
	b.logger.DebugContext(ctx, "event fanned out",
		"event_id", evt.ID,
		"type", evt.CanonicalType,
		"subscriptions", len(attempts),
	)
	return nil
}

// SendTest delivers a synthetic event of the given type to one subscription,
// so owners can verify their endpoint before real traffic arrives. The
// payload defaults to the catalog example and is validated against the
// type's schema when one is defined.
func (b *Bridge) SendTest(ctx context.Context, subID id.ID, eventType string, payload []byte) (*ingest.Event, error) {
	def, err := b.catalog.Get(eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	sub, err := b.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = def.Example
	}
	if err := b.validator.Validate(def, payload); err != nil {
		return nil, fmt.Errorf("paybridge: validate test payload: %w", err)
	}

	now := time.Now().UTC()
	evt := &ingest.Event{
		Entity:          entity.New(),
		ID:              id.NewEventID(),
		Provider:        testProvider,
		CanonicalType:   eventType,
		RawPayload:      payload,
		SignatureValid:  true,
		ReceivedAt:      now,
		Status:          ingest.StatusSucceeded,
		ProcessedAt:     &now,
	}
	// Test events skip processing. The ledger row exists so the delivery
	// pipeline and logs treat the send like any other.
	evt.ProviderEventID = evt.ID.String()
	if err := b.store.CreateEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("paybridge: persist test event: %w", err)
	}

	attempt := &delivery.Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		SubscriptionID: sub.ID,
		EventID:        evt.ID,
		EventType:      eventType,
		AttemptNumber:  1,
		Status:         delivery.StatusPending,
		NextAttemptAt:  now,
	}
	if err := b.store.Enqueue(ctx, attempt); err != nil {
		return nil, fmt.Errorf("paybridge: enqueue test delivery: %w", err)
	}

	b.logger.InfoContext(ctx, "test event queued",
		"event_id", evt.ID, "subscription_id", subID, "type", eventType)
	return evt, nil
}

// ReplayAttempt manually re-enqueues a delivery for a completed attempt.
// The new attempt continues the attempt numbering and fires immediately.
func (b *Bridge) ReplayAttempt(ctx context.Context, attemptID id.ID) (*delivery.Attempt, error) {
	a, err := b.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !a.Final() {
		return nil, fmt.Errorf("%w: attempt %s is still pending", ErrInvalidTransition, attemptID)
	}

	done, err := b.store.HasSuccess(ctx, a.SubscriptionID, a.EventID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: event %s, subscription %s", ErrAlreadyDelivered, a.EventID, a.SubscriptionID)
	}

	next := delivery.NewRetryAttempt(a, time.Now().UTC())
	if err := b.store.Enqueue(ctx, next); err != nil {
		return nil, fmt.Errorf("paybridge: enqueue replay: %w", err)
	}

	b.logger.InfoContext(ctx, "attempt replayed",
		"attempt_id", attemptID, "new_attempt_id", next.ID)
	return next, nil
}

// ReplayEvent resets a failed event so the processor picks it up again.
func (b *Bridge) ReplayEvent(ctx context.Context, evtID id.ID) error {
	evt, err := b.store.GetEvent(ctx, evtID)
	if err != nil {
		return err
	}
	if evt.Status != ingest.StatusFailed {
		return fmt.Errorf("%w: event %s is %s", ErrInvalidTransition, evtID, evt.Status)
	}
	return b.store.ResetEvent(ctx, evtID)
}

// Subscriptions returns the subscription management service.
func (b *Bridge) Subscriptions() *subscription.Service {
	return b.subSvc
}

// Catalog returns the canonical event type catalog.
func (b *Bridge) Catalog() *catalog.Catalog {
	return b.catalog
}

// Providers returns the inbound provider registry.
func (b *Bridge) Providers() *provider.Registry {
	return b.providers
}

// Store returns the underlying store.
func (b *Bridge) Store() store.Store {
	return b.store
}

// DLQ returns the dead letter queue service.
func (b *Bridge) DLQ() *dlq.Service {
	return b.dlqSvc
}

// Sweeper returns the missed-retry sweeper.
func (b *Bridge) Sweeper() *delivery.Sweeper {
	return b.sweeper
}

// Aggregator returns the metrics aggregator.
func (b *Bridge) Aggregator() *stats.Aggregator {
	return b.aggregator
}
