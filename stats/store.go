package stats

import (
	"context"
)

// Store defines the persistence contract for metric windows.
type Store interface {
	// UpsertWindow inserts or replaces the window for its
	// (SubscriptionID, PeriodStart) key.
	UpsertWindow(ctx context.Context, w *Window) error

	// ListWindows returns windows, optionally filtered.
	ListWindows(ctx context.Context, opts ListOpts) ([]*Window, error)
}
