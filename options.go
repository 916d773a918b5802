package paybridge

import (
	"log/slog"
	"time"

	"github.com/paybridge/paybridge/bus"
	"github.com/paybridge/paybridge/catalog"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/observability"
	"github.com/paybridge/paybridge/processor"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/store"
	"github.com/paybridge/paybridge/subscription"
)

// Bridge is the root webhook ingestion and delivery engine.
type Bridge struct {
	config     Config
	store      store.Store
	providers  *provider.Registry
	handlers   processor.Handlers
	catalog    *catalog.Catalog
	validator  *catalog.Validator
	subSvc     *subscription.Service
	dlqSvc     *dlq.Service
	engine     *delivery.Engine
	sweeper    *delivery.Sweeper
	processor  *processor.Processor
	aggregator *stats.Aggregator
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	bus        bus.Publisher
	logger     *slog.Logger
}

// Option configures a Bridge instance.
type Option func(*Bridge) error

// New creates a new Bridge with the given options. A store is required;
// providers default to an empty registry, so webhooks are rejected until
// adapters are registered.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if b.providers == nil {
		b.providers = provider.NewRegistry()
	}
	b.wireServices()
	return b, nil
}

// WithStore sets the persistence backend for the Bridge instance.
func WithStore(s store.Store) Option {
	return func(b *Bridge) error {
		b.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Bridge instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithProviders sets the registry of inbound provider adapters.
func WithProviders(reg *provider.Registry) Option {
	return func(b *Bridge) error {
		b.providers = reg
		return nil
	}
}

// WithHandlers sets the domain handlers the processor routes events to.
func WithHandlers(h processor.Handlers) Option {
	return func(b *Bridge) error {
		b.handlers = h
		return nil
	}
}

// WithMetrics sets the metric instruments for the Bridge instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) error {
		b.metrics = m
		return nil
	}
}

// WithTracer sets the tracer for delivery spans.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Bridge) error {
		b.tracer = t
		return nil
	}
}

// WithBus sets the publisher used to announce event and delivery outcomes.
func WithBus(p bus.Publisher) Option {
	return func(b *Bridge) error {
		b.bus = p
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(b *Bridge) error {
		b.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due attempts.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of attempts dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(b *Bridge) error {
		b.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.RequestTimeout = d
		return nil
	}
}

// WithRetrySchedule sets the backoff intervals between retry attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(b *Bridge) error {
		b.config.RetrySchedule = schedule
		return nil
	}
}

// WithSweepInterval sets how often missed retries are recovered.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.SweepInterval = d
		return nil
	}
}

// WithStatsInterval sets how often metric windows are recomputed.
func WithStatsInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.StatsInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight work on
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		b.config.ShutdownTimeout = d
		return nil
	}
}
