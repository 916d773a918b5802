package paybridge

import (
	"time"

	"github.com/paybridge/paybridge/delivery"
)

// Config holds the configuration for a Bridge instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due attempts.
	PollInterval time.Duration

	// BatchSize is the maximum number of attempts dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// RetrySchedule defines the backoff intervals between retry attempts.
	// Its length bounds the number of attempts per subscription/event pair.
	RetrySchedule []time.Duration

	// ProcessorPollInterval is how often the processor claims due events.
	ProcessorPollInterval time.Duration

	// SweepInterval is how often missed retries are recovered.
	SweepInterval time.Duration

	// StatsInterval is how often hourly metric windows are recomputed.
	StatsInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight work on
	// shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. The retry schedule
// is delivery.DefaultRetrySchedule: 1m, 10m, 1h, 6h, 24h.
func DefaultConfig() Config {
	return Config{
		Concurrency:           10,
		PollInterval:          1 * time.Second,
		BatchSize:             50,
		RequestTimeout:        30 * time.Second,
		RetrySchedule:         delivery.DefaultRetrySchedule,
		ProcessorPollInterval: 1 * time.Second,
		SweepInterval:         1 * time.Minute,
		StatsInterval:         1 * time.Hour,
		ShutdownTimeout:       30 * time.Second,
	}
}
