package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/subscription"
)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushFailed creates a DLQ entry from a dead-lettered attempt. Implements
// delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, a *delivery.Attempt, sub *subscription.Subscription, evt *ingest.Event) error {
	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		AttemptID:      a.ID,
		EventID:        a.EventID,
		SubscriptionID: a.SubscriptionID,
		EventType:      a.EventType,
		Owner:          sub.Owner,
		URL:            sub.URL,
		Payload:        evt.DataPayload(),
		Error:          a.ErrorMessage,
		AttemptCount:   a.AttemptNumber,
		LastStatusCode: a.HTTPStatusCode,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-enqueues a single DLQ entry for redelivery.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	if err := svc.store.Replay(ctx, dlqID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "replayed DLQ entry", "dlq_id", dlqID)
	return nil
}

// ReplayBulk re-enqueues all DLQ entries within a time range.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := svc.store.ReplayBulk(ctx, from, to)
	if err != nil {
		return 0, err
	}
	svc.logger.InfoContext(ctx, "replayed DLQ entries", "count", n, "from", from, "to", to)
	return n, nil
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
