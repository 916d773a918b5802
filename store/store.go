// Package store defines the composite Store interface for all PayBridge
// persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all, and backends implement the whole surface.
package store

import (
	"context"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	ingest.Store
	subscription.Store
	delivery.Store
	dlq.Store
	stats.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

