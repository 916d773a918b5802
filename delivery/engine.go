package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/paybridge/paybridge/bus"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/observability"
	"github.com/paybridge/paybridge/ratelimit"
	"github.com/paybridge/paybridge/subscription"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	Store

	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	GetEvent(ctx context.Context, evtID id.ID) (*ingest.Event, error)
	SetActive(ctx context.Context, subID id.ID, active bool) error
	RecordDeliverySuccess(ctx context.Context, subID id.ID, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, subID id.ID, at time.Time, deadLettered bool) error
}

// DLQPusher records permanently failed deliveries in the dead letter queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, a *Attempt, sub *subscription.Subscription, evt *ingest.Event) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	RetrySchedule  []time.Duration
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
	Bus            bus.Publisher
}

// Engine is the delivery worker pool that dequeues and dispatches attempts.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	dlq     DLQPusher
	limiter *ratelimit.Limiter
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, dlq DLQPusher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.RequestTimeout),
		retrier: NewRetrier(cfg.RetrySchedule),
		dlq:     dlq,
		limiter: ratelimit.New(),
		config:  cfg,
		logger:  logger,
	}
}

// Retrier returns the engine's retrier, used for Fan-out and replay wiring.
func (e *Engine) Retrier() *Retrier { return e.retrier }

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically dequeues due attempts and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, a := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(att *Attempt) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, att)
				}(a)
			}
		}
	}
}

// process handles a single attempt: load subscription + event, send, decide,
// record, and update subscription health.
func (e *Engine) process(ctx context.Context, a *Attempt) {
	sub, err := e.store.GetSubscription(ctx, a.SubscriptionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get subscription failed",
			"attempt_id", a.ID, "subscription_id", a.SubscriptionID, "error", err)
		return
	}

	// The subscription may have been disabled (410, owner action) after this
	// attempt was enqueued. Disabled subscriptions get no further attempts.
	if !sub.Active {
		now := time.Now().UTC()
		a.Status = StatusFailed
		a.ErrorMessage = "subscription inactive"
		a.CompletedAt = &now
		if updateErr := e.store.UpdateAttempt(ctx, a); updateErr != nil {
			e.logger.ErrorContext(ctx, "update attempt failed", "attempt_id", a.ID, "error", updateErr)
		}
		return
	}

	evt, err := e.store.GetEvent(ctx, a.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get event failed",
			"attempt_id", a.ID, "event_id", a.EventID, "error", err)
		return
	}

	// Idempotent re-trigger protection: if a success already exists for this
	// pair (manual replay racing a scheduled retry), this attempt is
	// redundant and is dropped rather than transitioned.
	done, err := e.store.HasSuccess(ctx, a.SubscriptionID, a.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "success lookup failed", "attempt_id", a.ID, "error", err)
		return
	}
	if done {
		if delErr := e.store.DeleteAttempt(ctx, a.ID); delErr != nil {
			e.logger.ErrorContext(ctx, "drop redundant attempt failed", "attempt_id", a.ID, "error", delErr)
		}
		e.logger.DebugContext(ctx, "skipping already-delivered pair",
			"subscription_id", a.SubscriptionID, "event_id", a.EventID)
		return
	}

	// Per-subscription rate limiting: push the attempt back rather than
	// blocking a worker.
	if !e.limiter.Allow(a.SubscriptionID.String(), sub.RateLimit) {
		a.NextAttemptAt = time.Now().UTC().Add(time.Second)
		if updateErr := e.store.UpdateAttempt(ctx, a); updateErr != nil {
			e.logger.ErrorContext(ctx, "defer rate-limited attempt failed", "attempt_id", a.ID, "error", updateErr)
		}
		return
	}

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, a.ID.String(), a.EventID.String(), a.SubscriptionID.String())
	}

	result := e.sender.Send(ctx, sub, evt)

	a.HTTPStatusCode = result.StatusCode
	a.ResponseBody = result.Response
	a.LatencyMs = result.LatencyMs
	a.ErrorMessage = result.Error

	now := time.Now().UTC()
	latencySeconds := float64(result.LatencyMs) / 1000.0

	switch e.retrier.Decide(result, a) {
	case Delivered:
		a.Status = StatusSuccess
		a.CompletedAt = &now
		if recErr := e.store.RecordDeliverySuccess(ctx, sub.ID, now); recErr != nil {
			e.logger.ErrorContext(ctx, "record delivery success failed", "subscription_id", sub.ID, "error", recErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("success", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"attempt_id", a.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		a.Status = StatusFailed
		a.CompletedAt = &now
		retryAt := e.retrier.NextRetryAt(a.AttemptNumber)
		a.NextRetryAt = &retryAt
		if recErr := e.store.RecordDeliveryFailure(ctx, sub.ID, now, false); recErr != nil {
			e.logger.ErrorContext(ctx, "record delivery failure failed", "subscription_id", sub.ID, "error", recErr)
		}
		if enqErr := e.enqueueSuccessor(ctx, a, retryAt); enqErr != nil {
			e.logger.ErrorContext(ctx, "enqueue retry failed", "attempt_id", a.ID, "error", enqErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"attempt_id", a.ID, "attempt", a.AttemptNumber, "next_at", retryAt)

	case DeadLetter:
		a.Status = StatusDeadLetter
		a.CompletedAt = &now
		if recErr := e.store.RecordDeliveryFailure(ctx, sub.ID, now, true); recErr != nil {
			e.logger.ErrorContext(ctx, "record delivery failure failed", "subscription_id", sub.ID, "error", recErr)
		}
		if e.dlq != nil {
			if dlqErr := e.dlq.PushFailed(ctx, a, sub, evt); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to DLQ failed", "attempt_id", a.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("dead_letter", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.WarnContext(ctx, "delivery dead-lettered",
			"attempt_id", a.ID, "status", result.StatusCode, "error", result.Error)

	case DisableSubscription:
		a.Status = StatusFailed
		a.ErrorMessage = "endpoint returned 410 Gone"
		a.CompletedAt = &now
		if disableErr := e.store.SetActive(ctx, sub.ID, false); disableErr != nil {
			e.logger.ErrorContext(ctx, "disable subscription failed",
				"subscription_id", sub.ID, "error", disableErr)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.WarnContext(ctx, "subscription disabled (410 Gone)",
			"subscription_id", sub.ID, "attempt_id", a.ID)
	}

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, a.HTTPStatusCode, a.LatencyMs, a.ErrorMessage)
	}

	if updateErr := e.store.UpdateAttempt(ctx, a); updateErr != nil {
		e.logger.ErrorContext(ctx, "update attempt failed",
			"attempt_id", a.ID, "error", updateErr)
	}

	e.publish(ctx, a)
}

// enqueueSuccessor creates the next attempt row for a failed delivery.
func (e *Engine) enqueueSuccessor(ctx context.Context, a *Attempt, fireAt time.Time) error {
	return e.store.Enqueue(ctx, NewRetryAttempt(a, fireAt))
}

// publish notifies the event bus of a delivery outcome. Best effort.
func (e *Engine) publish(ctx context.Context, a *Attempt) {
	if e.config.Bus == nil {
		return
	}
	err := e.config.Bus.Publish(ctx, bus.ChannelDeliveries, bus.Message{
		Kind:           bus.KindDelivery,
		EventID:        a.EventID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		EventType:      a.EventType,
		Status:         string(a.Status),
		Attempt:        a.AttemptNumber,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "publish delivery outcome failed", "attempt_id", a.ID, "error", err)
	}
}
