// Package bunstore implements the aggregate Store on a SQL database via the
// Bun ORM. It supports PostgreSQL and SQLite; the SKIP LOCKED claim queries
// require PostgreSQL for multi-process deployments.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/stats"
	pbstore "github.com/paybridge/paybridge/store"
	"github.com/paybridge/paybridge/subscription"
)

// compile-time interface check
var _ pbstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*eventModel)(nil),
		(*subscriptionModel)(nil),
		(*attemptModel)(nil),
		(*dlqEntryModel)(nil),
		(*windowModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	// Create indexes. The (provider, provider_event_id) unique index is the
	// dedupe constraint; the partial pending index backs the dispatch poll;
	// the partial success index holds at most one success per
	// (subscription, event) pair.
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_paybridge_events_dedupe ON paybridge_events (provider, provider_event_id)",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_events_due ON paybridge_events (next_process_at) WHERE status IN ('pending', 'failed')",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_events_type ON paybridge_events (canonical_type)",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_attempts_pending ON paybridge_attempts (next_attempt_at) WHERE status = 'pending'",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_attempts_pair ON paybridge_attempts (subscription_id, event_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_paybridge_attempts_success ON paybridge_attempts (subscription_id, event_id) WHERE status = 'success'",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_attempts_event ON paybridge_attempts (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_subscriptions_owner ON paybridge_subscriptions (owner)",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_dlq_failed_at ON paybridge_dlq (failed_at)",
		"CREATE INDEX IF NOT EXISTS idx_paybridge_dlq_subscription ON paybridge_dlq (subscription_id)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Ingest Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *ingest.Event) error {
	m := toEventModel(evt)

	// The unique (provider, provider_event_id) index arbitrates concurrent
	// duplicate receipts: the loser inserts zero rows.
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (provider, provider_event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrDuplicateEvent
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*ingest.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paybridge.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) GetEventByProviderID(ctx context.Context, p provider.Name, providerEventID string) (*ingest.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("provider = ?", string(p)).
		Where("provider_event_id = ?", providerEventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paybridge.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts ingest.ListOpts) ([]*ingest.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models)

	if opts.Provider != "" {
		q = q.Where("provider = ?", string(opts.Provider))
	}
	if opts.Type != "" {
		q = q.Where("canonical_type = ?", opts.Type)
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		q = q.Where("received_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("received_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("received_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ingest.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*ingest.Event, error) {
	var models []eventModel
	err := s.db.NewRaw(`
		UPDATE paybridge_events
		SET status = 'processing', process_attempts = process_attempts + 1, updated_at = ?
		WHERE id IN (
			SELECT id FROM paybridge_events
			WHERE status IN ('pending', 'failed')
				AND next_process_at <= ?
				AND process_attempts < ?
			ORDER BY next_process_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, now, maxAttempts, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*ingest.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) MarkSucceeded(ctx context.Context, evtID id.ID, processedAt time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = ?", string(ingest.StatusSucceeded)).
		Set("processed_at = ?", processedAt).
		Set("processing_error = ''").
		Set("updated_at = ?", processedAt).
		Where("id = ?", evtID.String()).
		Where("status = ?", string(ingest.StatusProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkEventWrite(ctx, res, evtID)
}

func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, procErr string, nextProcessAt time.Time) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = ?", string(ingest.StatusFailed)).
		Set("processing_error = ?", procErr).
		Set("next_process_at = ?", nextProcessAt).
		Set("updated_at = ?", now).
		Where("id = ?", evtID.String()).
		Where("status = ?", string(ingest.StatusProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkEventWrite(ctx, res, evtID)
}

func (s *Store) ResetEvent(ctx context.Context, evtID id.ID) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = ?", string(ingest.StatusPending)).
		Set("process_attempts = 0").
		Set("processing_error = ''").
		Set("next_process_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", evtID.String()).
		Where("status = ?", string(ingest.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkEventWrite(ctx, res, evtID)
}

// checkEventWrite maps a zero-row guarded update to the right sentinel:
// missing row or a state the guard rejected.
func (s *Store) checkEventWrite(ctx context.Context, res sql.Result, evtID id.ID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*eventModel)(nil)).
		Where("id = ?", evtID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return paybridge.ErrEventNotFound
	}
	return fmt.Errorf("%w: event %s", paybridge.ErrInvalidTransition, evtID)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (secret) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrDuplicateSecret
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paybridge.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	// Secret uniqueness is checked up front so a rotate collision surfaces as
	// the sentinel rather than a driver error.
	taken, err := s.db.NewSelect().
		Model((*subscriptionModel)(nil)).
		Where("secret = ?", sub.Secret).
		Where("id != ?", sub.ID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if taken {
		return paybridge.ErrDuplicateSecret
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models)

	if opts.Owner != "" {
		q = q.Where("owner = ?", opts.Owner)
	}
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) Match(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("active = true").
		Scan(ctx); err != nil {
		return nil, err
	}

	// Membership is checked in Go so the same query works on both dialects.
	var result []*subscription.Subscription
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		if sub.Subscribed(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	health := subscription.HealthDisabled
	if active {
		health = subscription.HealthHealthy
	}

	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("active = ?", active).
		Set("health = ?", string(health)).
		Set("updated_at = ?", now).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) RecordDeliverySuccess(ctx context.Context, subID id.ID, at time.Time) error {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	health := sub.Health
	if health.CanTransition(subscription.HealthHealthy) {
		health = subscription.HealthHealthy
	}

	_, err = s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("health = ?", string(health)).
		Set("success_count = success_count + 1").
		Set("last_delivery_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return err
}

func (s *Store) RecordDeliveryFailure(ctx context.Context, subID id.ID, at time.Time, deadLettered bool) error {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	target := subscription.HealthDegraded
	if deadLettered {
		target = subscription.HealthFailing
	}
	health := sub.Health
	if health.CanTransition(target) {
		health = target
	}

	q := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("health = ?", string(health)).
		Set("last_delivery_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", subID.String())
	if deadLettered {
		q = q.Set("failure_count = failure_count + 1")
	}
	_, err = q.Exec(ctx)
	return err
}

// ==================== Delivery Store ====================

func (s *Store) Enqueue(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) EnqueueBatch(ctx context.Context, as []*delivery.Attempt) error {
	if len(as) == 0 {
		return nil
	}
	models := make([]attemptModel, len(as))
	for i, a := range as {
		models[i] = *toAttemptModel(a)
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Attempt, error) {
	now := time.Now().UTC()
	var models []attemptModel
	err := s.db.NewRaw(`
		UPDATE paybridge_attempts
		SET claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM paybridge_attempts
			WHERE status = 'pending' AND next_attempt_at <= ? AND claimed_at IS NULL
			ORDER BY next_attempt_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, now, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	m.UpdatedAt = time.Now().UTC()
	m.ClaimedAt = nil

	// Completed attempts are immutable: only a pending row may be rewritten,
	// either to a terminal state or rescheduled while still pending.
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Where("status = ?", string(delivery.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*attemptModel)(nil)).
		Where("id = ?", a.ID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return paybridge.ErrAttemptNotFound
	}
	return fmt.Errorf("%w: attempt %s", paybridge.ErrInvalidTransition, a.ID)
}

func (s *Store) DeleteAttempt(ctx context.Context, attemptID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*attemptModel)(nil)).
		Where("id = ?", attemptID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return paybridge.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", attemptID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paybridge.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) HasSuccess(ctx context.Context, subID, evtID id.ID) (bool, error) {
	return s.db.NewSelect().
		Model((*attemptModel)(nil)).
		Where("subscription_id = ?", subID.String()).
		Where("event_id = ?", evtID.String()).
		Where("status = ?", string(delivery.StatusSuccess)).
		Exists(ctx)
}

func (s *Store) HasSuccessor(ctx context.Context, a *delivery.Attempt) (bool, error) {
	return s.db.NewSelect().
		Model((*attemptModel)(nil)).
		Where("subscription_id = ?", a.SubscriptionID.String()).
		Where("event_id = ?", a.EventID.String()).
		Where("attempt_number = ?", a.AttemptNumber+1).
		Exists(ctx)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.db.NewSelect().Model(&models).Where("subscription_id = ?", subID.String())

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("event_id = ?", evtID.String()).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) ListCompletedInWindow(ctx context.Context, subID id.ID, from, to time.Time) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("subscription_id = ?", subID.String()).
		Where("status != ?", string(delivery.StatusPending)).
		Where("created_at >= ?", from).
		Where("created_at < ?", to).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) FindMissedRetries(ctx context.Context, now time.Time, limit int) ([]*delivery.Attempt, error) {
	var models []attemptModel
	err := s.db.NewRaw(`
		SELECT * FROM paybridge_attempts AS a
		WHERE a.status = 'failed'
			AND a.next_retry_at IS NOT NULL
			AND a.next_retry_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM paybridge_attempts AS b
				WHERE b.subscription_id = a.subscription_id
					AND b.event_id = a.event_id
					AND b.attempt_number = a.attempt_number + 1
			)
		ORDER BY a.next_retry_at ASC
		LIMIT ?
	`, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*attemptModel)(nil)).
		Where("status = ?", string(delivery.StatusPending)).
		Count(ctx)
	return int64(count), err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.Owner != "" {
		q = q.Where("owner = ?", opts.Owner)
	}
	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", dlqID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paybridge.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.enqueueReplay(ctx, entry, now); err != nil {
		return err
	}

	_, err = s.db.NewUpdate().
		Model((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	var models []dlqEntryModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("failed_at >= ?", from).
		Where("failed_at <= ?", to).
		Where("replayed_at IS NULL").
		Scan(ctx); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var count int64
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return count, err
		}

		if err := s.enqueueReplay(ctx, entry, now); err != nil {
			return count, err
		}

		if _, err := s.db.NewUpdate().
			Model((*dlqEntryModel)(nil)).
			Set("replayed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", models[i].ID).
			Exec(ctx); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// enqueueReplay creates the replay attempt, continuing the pair's attempt
// numbering.
func (s *Store) enqueueReplay(ctx context.Context, entry *dlq.Entry, now time.Time) error {
	a := &delivery.Attempt{
		Entity:         entity.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewAttemptID(),
		SubscriptionID: entry.SubscriptionID,
		EventID:        entry.EventID,
		EventType:      entry.EventType,
		AttemptNumber:  entry.AttemptCount + 1,
		Status:         delivery.StatusPending,
		NextAttemptAt:  now,
	}
	return s.Enqueue(ctx, a)
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*dlqEntryModel)(nil)).
		Count(ctx)
	return int64(count), err
}

// ==================== Stats Store ====================

func (s *Store) UpsertWindow(ctx context.Context, w *stats.Window) error {
	m := toWindowModel(w)
	m.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (subscription_id, period_start) DO UPDATE").
		Set("total_deliveries = EXCLUDED.total_deliveries").
		Set("successful = EXCLUDED.successful").
		Set("failed = EXCLUDED.failed").
		Set("retried = EXCLUDED.retried").
		Set("avg_latency_ms = EXCLUDED.avg_latency_ms").
		Set("p95_latency_ms = EXCLUDED.p95_latency_ms").
		Set("p99_latency_ms = EXCLUDED.p99_latency_ms").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ListWindows(ctx context.Context, opts stats.ListOpts) ([]*stats.Window, error) {
	var models []windowModel
	q := s.db.NewSelect().Model(&models)

	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.From != nil {
		q = q.Where("period_start >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("period_start < ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("period_start DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*stats.Window, len(models))
	for i := range models {
		w, err := fromWindowModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = w
	}
	return result, nil
}
