// Package processor applies verified inbound events to the domain: it claims
// due events from the ledger, routes each to the handler for its event
// family, and hands successfully processed events to fan-out.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paybridge/paybridge/bus"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/observability"
)

const (
	// maxAttempts bounds how many times an event is processed before its
	// failure becomes permanent.
	maxAttempts = 3

	// baseBackoff is doubled per attempt: 60s, 120s, 240s.
	baseBackoff = time.Minute
)

// Applier applies one event family to the domain. Implementations must be
// idempotent: a crash after apply but before the ledger update replays the
// event.
type Applier interface {
	Apply(ctx context.Context, evt *ingest.Event) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, evt *ingest.Event) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, evt *ingest.Event) error { return f(ctx, evt) }

// Handlers routes canonical event families to domain logic. Nil handlers
// make that family a recorded no-op.
type Handlers struct {
	// Payments handles payment.* events.
	Payments Applier

	// Subscriptions handles subscription.* billing events.
	Subscriptions Applier

	// KYC handles kyc.* events.
	KYC Applier

	// Transfers handles transfer.* events.
	Transfers Applier

	// Fallback handles events outside the families above, including
	// pass-through "{provider}.{native}" types.
	Fallback Applier
}

// forType returns the applier for a canonical event type, or nil.
func (h Handlers) forType(eventType string) Applier {
	family, _, _ := strings.Cut(eventType, ".")
	switch family {
	case "payment":
		return h.Payments
	case "subscription":
		return h.Subscriptions
	case "kyc":
		return h.KYC
	case "transfer":
		return h.Transfers
	default:
		return h.Fallback
	}
}

// FanOut enqueues deliveries for a processed event.
type FanOut func(ctx context.Context, evt *ingest.Event) error

// Config holds processor configuration.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Metrics      *observability.Metrics
	Bus          bus.Publisher
}

// Processor is the worker that drains the event ledger.
type Processor struct {
	store    ingest.Store
	handlers Handlers
	fanOut   FanOut
	config   Config
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a processor.
func New(store ingest.Store, handlers Handlers, fanOut FanOut, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Processor{
		store:    store,
		handlers: handlers,
		fanOut:   fanOut,
		config:   cfg,
		logger:   logger,
	}
}

// Start begins the processing loop.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Drain(ctx); err != nil {
					p.logger.ErrorContext(ctx, "processing pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the processing loop and waits for the in-flight pass.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain runs one processing pass over the due events. Exported so tests and
// synchronous callers can process without the poll loop.
func (p *Processor) Drain(ctx context.Context) error {
	batch, err := p.store.ClaimDue(ctx, time.Now().UTC(), maxAttempts, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due events: %w", err)
	}

	for _, evt := range batch {
		p.processOne(ctx, evt)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, evt *ingest.Event) {
	if err := p.apply(ctx, evt); err != nil {
		p.fail(ctx, evt, err)
		return
	}

	if p.fanOut != nil {
		if err := p.fanOut(ctx, evt); err != nil {
			// Fan-out is part of processing: retry the whole event rather
			// than lose deliveries. Appliers are idempotent.
			p.fail(ctx, evt, fmt.Errorf("fan out: %w", err))
			return
		}
	}

	now := time.Now().UTC()
	if err := p.store.MarkSucceeded(ctx, evt.ID, now); err != nil {
		p.logger.ErrorContext(ctx, "mark succeeded failed", "event_id", evt.ID, "error", err)
		return
	}

	if p.config.Metrics != nil {
		p.config.Metrics.RecordProcessed("succeeded")
	}
	p.publish(ctx, evt, string(ingest.StatusSucceeded))
	p.logger.DebugContext(ctx, "event processed",
		"event_id", evt.ID, "type", evt.CanonicalType, "attempt", evt.ProcessAttempts)
}

func (p *Processor) apply(ctx context.Context, evt *ingest.Event) error {
	h := p.handlers.forType(evt.CanonicalType)
	if h == nil {
		p.logger.DebugContext(ctx, "no handler for event family",
			"event_id", evt.ID, "type", evt.CanonicalType)
		return nil
	}
	return h.Apply(ctx, evt)
}

func (p *Processor) fail(ctx context.Context, evt *ingest.Event, procErr error) {
	next := time.Now().UTC().Add(Backoff(evt.ProcessAttempts))
	if err := p.store.MarkFailed(ctx, evt.ID, procErr.Error(), next); err != nil {
		p.logger.ErrorContext(ctx, "mark failed failed", "event_id", evt.ID, "error", err)
		return
	}

	if p.config.Metrics != nil {
		p.config.Metrics.RecordProcessed("failed")
	}
	p.publish(ctx, evt, string(ingest.StatusFailed))

	if evt.ProcessAttempts >= maxAttempts {
		p.logger.ErrorContext(ctx, "event processing exhausted",
			"event_id", evt.ID, "type", evt.CanonicalType, "attempts", evt.ProcessAttempts, "error", procErr)
		return
	}
	p.logger.WarnContext(ctx, "event processing failed, will retry",
		"event_id", evt.ID, "attempt", evt.ProcessAttempts, "next_at", next, "error", procErr)
}

func (p *Processor) publish(ctx context.Context, evt *ingest.Event, status string) {
	if p.config.Bus == nil {
		return
	}
	err := p.config.Bus.Publish(ctx, bus.ChannelEvents, bus.Message{
		Kind:      bus.KindEvent,
		EventID:   evt.ID.String(),
		EventType: evt.CanonicalType,
		Status:    status,
		Attempt:   evt.ProcessAttempts,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "publish event outcome failed", "event_id", evt.ID, "error", err)
	}
}

// Backoff returns the delay before the next processing attempt. The attempt
// argument is 1-based.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseBackoff << (attempt - 1)
}
