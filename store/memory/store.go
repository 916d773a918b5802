// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paybridge/paybridge"
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

// compile-time interface check.
var _ pbstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	events           map[string]*ingest.Event              // keyed by ID string
	eventsByProvider map[string]*ingest.Event              // keyed by "{provider}:{provider_event_id}"
	subscriptions    map[string]*subscription.Subscription // keyed by ID string
	secrets          map[string]string                     // secret -> subscription ID
	attempts         map[string]*delivery.Attempt          // keyed by ID string
	locked           map[string]bool                       // simulates SKIP LOCKED
	dlqEntries       map[string]*dlq.Entry                 // keyed by ID string
	windows          map[string]*stats.Window              // keyed by "{sub_id}:{period_start_unix}"

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:           make(map[string]*ingest.Event),
		eventsByProvider: make(map[string]*ingest.Event),
		subscriptions:    make(map[string]*subscription.Subscription),
		secrets:          make(map[string]string),
		attempts:         make(map[string]*delivery.Attempt),
		locked:           make(map[string]bool),
		dlqEntries:       make(map[string]*dlq.Entry),
		windows:          make(map[string]*stats.Window),
	}
}

func dedupeKey(p provider.Name, providerEventID string) string {
	return string(p) + ":" + providerEventID
}

func windowKey(subID id.ID, periodStart time.Time) string {
	return fmt.Sprintf("%s:%d", subID, periodStart.Unix())
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return paybridge.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// ingest.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. Returns ErrDuplicateEvent when the
// (provider, provider_event_id) pair already exists.
func (s *Store) CreateEvent(_ context.Context, evt *ingest.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(evt.Provider, evt.ProviderEventID)
	if _, ok := s.eventsByProvider[key]; ok {
		return paybridge.ErrDuplicateEvent
	}

	s.eventsByProvider[key] = evt
	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*ingest.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, paybridge.ErrEventNotFound
	}
	return evt, nil
}

// GetEventByProviderID returns the event for an idempotency key.
func (s *Store) GetEventByProviderID(_ context.Context, p provider.Name, providerEventID string) (*ingest.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.eventsByProvider[dedupeKey(p, providerEventID)]
	if !ok {
		return nil, paybridge.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts ingest.ListOpts) ([]*ingest.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ingest.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ClaimDue atomically claims events ready for processing.
func (s *Store) ClaimDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]*ingest.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*ingest.Event, 0)
	for _, evt := range s.events {
		switch evt.Status {
		case ingest.StatusPending:
		case ingest.StatusFailed:
			if evt.ProcessAttempts >= maxAttempts {
				continue
			}
		default:
			continue
		}
		if evt.NextProcessAt.After(now) {
			continue
		}
		candidates = append(candidates, evt)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextProcessAt.Before(candidates[j].NextProcessAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*ingest.Event, 0, len(candidates))
	for _, evt := range candidates {
		evt.Status = ingest.StatusProcessing
		evt.ProcessAttempts++
		evt.UpdatedAt = now
		cp := *evt
		result = append(result, &cp)
	}
	return result, nil
}

// MarkSucceeded transitions a processing event to succeeded.
func (s *Store) MarkSucceeded(_ context.Context, evtID id.ID, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return paybridge.ErrEventNotFound
	}
	if !evt.Status.CanTransition(ingest.StatusSucceeded) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, evt.Status, ingest.StatusSucceeded)
	}

	evt.Status = ingest.StatusSucceeded
	evt.ProcessingError = ""
	evt.ProcessedAt = &processedAt
	evt.UpdatedAt = processedAt
	return nil
}

// MarkFailed transitions a processing event to failed.
func (s *Store) MarkFailed(_ context.Context, evtID id.ID, procErr string, nextProcessAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return paybridge.ErrEventNotFound
	}
	if !evt.Status.CanTransition(ingest.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, evt.Status, ingest.StatusFailed)
	}

	evt.Status = ingest.StatusFailed
	evt.ProcessingError = procErr
	evt.NextProcessAt = nextProcessAt
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetEvent returns a failed event to pending for manual replay.
func (s *Store) ResetEvent(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return paybridge.ErrEventNotFound
	}
	if !evt.Status.CanTransition(ingest.StatusPending) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, evt.Status, ingest.StatusPending)
	}

	now := time.Now().UTC()
	evt.Status = ingest.StatusPending
	evt.ProcessAttempts = 0
	evt.NextProcessAt = now
	evt.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[sub.Secret]; ok {
		return paybridge.ErrDuplicateSecret
	}

	s.secrets[sub.Secret] = sub.ID.String()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, paybridge.ErrSubscriptionNotFound
	}
	return sub, nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return paybridge.ErrSubscriptionNotFound
	}

	if sub.Secret != existing.Secret {
		if owner, taken := s.secrets[sub.Secret]; taken && owner != sub.ID.String() {
			return paybridge.ErrDuplicateSecret
		}
		delete(s.secrets, existing.Secret)
		s.secrets[sub.Secret] = sub.ID.String()
	}

	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return paybridge.ErrSubscriptionNotFound
	}
	delete(s.secrets, sub.Secret)
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Owner != "" && sub.Owner != opts.Owner {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Match finds all active subscriptions selecting the event type.
func (s *Store) Match(_ context.Context, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if !sub.Active {
			continue
		}
		if sub.Subscribed(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

// SetActive enables or disables a subscription.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return paybridge.ErrSubscriptionNotFound
	}

	sub.Active = active
	if active {
		sub.Health = subscription.HealthHealthy
	} else {
		sub.Health = subscription.HealthDisabled
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordDeliverySuccess resets the subscription's failure streak.
func (s *Store) RecordDeliverySuccess(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return paybridge.ErrSubscriptionNotFound
	}

	if sub.Health.CanTransition(subscription.HealthHealthy) {
		sub.Health = subscription.HealthHealthy
	}
	sub.SuccessCount++
	sub.LastDeliveryAt = &at
	sub.UpdatedAt = at
	return nil
}

// RecordDeliveryFailure marks the subscription's health after a failure.
func (s *Store) RecordDeliveryFailure(_ context.Context, subID id.ID, at time.Time, deadLettered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return paybridge.ErrSubscriptionNotFound
	}

	target := subscription.HealthDegraded
	if deadLettered {
		target = subscription.HealthFailing
		sub.FailureCount++
	}
	if sub.Health.CanTransition(target) {
		sub.Health = target
	}
	sub.LastDeliveryAt = &at
	sub.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// Enqueue creates a pending attempt.
func (s *Store) Enqueue(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[a.ID.String()] = a
	return nil
}

// EnqueueBatch creates multiple attempts atomically.
func (s *Store) EnqueueBatch(_ context.Context, as []*delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range as {
		s.attempts[a.ID.String()] = a
	}
	return nil
}

// copyAttempt returns a shallow copy of the attempt.
func copyAttempt(a *delivery.Attempt) *delivery.Attempt {
	cp := *a
	return &cp
}

// Dequeue claims due pending attempts (concurrent-safe). Returns copies so
// callers can mutate without holding a lock.
func (s *Store) Dequeue(_ context.Context, limit int) ([]*delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.Attempt, 0, len(s.attempts))

	for _, a := range s.attempts {
		if a.Status != delivery.StatusPending {
			continue
		}
		if a.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[a.ID.String()] {
			continue
		}
		candidates = append(candidates, a)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Attempt, 0, len(candidates))
	for _, a := range candidates {
		s.locked[a.ID.String()] = true
		result = append(result, copyAttempt(a))
	}

	return result, nil
}

// UpdateAttempt writes an attempt's outcome and releases its claim.
func (s *Store) UpdateAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.attempts[a.ID.String()]
	if !ok {
		return paybridge.ErrAttemptNotFound
	}
	if existing.Status != a.Status && !existing.Status.CanTransition(a.Status) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, existing.Status, a.Status)
	}

	// At most one success per (subscription, event) pair, matching the
	// partial unique index in the SQL backend.
	if a.Status == delivery.StatusSuccess && existing.Status != delivery.StatusSuccess {
		for _, other := range s.attempts {
			if other.ID.String() != a.ID.String() &&
				other.SubscriptionID.String() == a.SubscriptionID.String() &&
				other.EventID.String() == a.EventID.String() &&
				other.Status == delivery.StatusSuccess {
				return fmt.Errorf("%w: subscription %s event %s", paybridge.ErrAlreadyDelivered, a.SubscriptionID, a.EventID)
			}
		}
	}

	a.UpdatedAt = time.Now().UTC()
	s.attempts[a.ID.String()] = a
	delete(s.locked, a.ID.String())
	return nil
}

// DeleteAttempt removes a redundant pending attempt.
func (s *Store) DeleteAttempt(_ context.Context, attemptID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[attemptID.String()]; !ok {
		return paybridge.ErrAttemptNotFound
	}
	delete(s.attempts, attemptID.String())
	delete(s.locked, attemptID.String())
	return nil
}

// GetAttempt returns a copy of the attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attemptID id.ID) (*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attemptID.String()]
	if !ok {
		return nil, paybridge.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

// HasSuccess reports whether a success exists for the pair.
func (s *Store) HasSuccess(_ context.Context, subID, evtID id.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.SubscriptionID.String() == subID.String() &&
			a.EventID.String() == evtID.String() &&
			a.Status == delivery.StatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

// HasSuccessor reports whether the next attempt for the pair exists.
func (s *Store) HasSuccessor(_ context.Context, a *delivery.Attempt) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, other := range s.attempts {
		if other.SubscriptionID.String() == a.SubscriptionID.String() &&
			other.EventID.String() == a.EventID.String() &&
			other.AttemptNumber > a.AttemptNumber {
			return true, nil
		}
	}
	return false, nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if a.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != nil && a.Status != *opts.Status {
			continue
		}
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all attempts for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0)
	for _, a := range s.attempts {
		if a.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

// ListCompletedInWindow returns terminal attempts created in [from, to).
func (s *Store) ListCompletedInWindow(_ context.Context, subID id.ID, from, to time.Time) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0)
	for _, a := range s.attempts {
		if a.SubscriptionID.String() != subID.String() {
			continue
		}
		if !a.Final() {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// FindMissedRetries returns failed attempts with an overdue NextRetryAt.
func (s *Store) FindMissedRetries(_ context.Context, now time.Time, limit int) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0)
	for _, a := range s.attempts {
		if a.Status != delivery.StatusFailed {
			continue
		}
		if a.NextRetryAt == nil || a.NextRetryAt.After(now) {
			continue
		}
		result = append(result, copyAttempt(a))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CountPending returns the number of attempts awaiting dispatch.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, a := range s.attempts {
		if a.Status == delivery.StatusPending {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently failed delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.Owner != "" && e.Owner != opts.Owner {
			continue
		}
		if opts.SubscriptionID != nil && e.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.EventType != "" && e.EventType != opts.EventType {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, paybridge.ErrDLQNotFound
	}
	return e, nil
}

// Replay re-enqueues the delivery for a DLQ entry and stamps ReplayedAt.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return paybridge.ErrDLQNotFound
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now
	s.enqueueReplayLocked(e, now)
	return nil
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64

	for _, e := range s.dlqEntries {
		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}
		if e.ReplayedAt != nil {
			continue
		}

		e.ReplayedAt = &now
		s.enqueueReplayLocked(e, now)
		count++
	}
	return count, nil
}

// enqueueReplayLocked creates the replay attempt, continuing the pair's
// attempt numbering. Callers hold s.mu.
func (s *Store) enqueueReplayLocked(e *dlq.Entry, now time.Time) {
	a := &delivery.Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		SubscriptionID: e.SubscriptionID,
		EventID:        e.EventID,
		EventType:      e.EventType,
		AttemptNumber:  e.AttemptCount + 1,
		Status:         delivery.StatusPending,
		NextAttemptAt:  now,
	}
	s.attempts[a.ID.String()] = a
}

// Purge deletes DLQ entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// stats.Store
// ──────────────────────────────────────────────────

// UpsertWindow inserts or replaces a metric window.
func (s *Store) UpsertWindow(_ context.Context, w *stats.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows[windowKey(w.SubscriptionID, w.PeriodStart)] = w
	return nil
}

// ListWindows returns metric windows, optionally filtered.
func (s *Store) ListWindows(_ context.Context, opts stats.ListOpts) ([]*stats.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*stats.Window, 0, len(s.windows))
	for _, w := range s.windows {
		if opts.SubscriptionID != nil && w.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.From != nil && w.PeriodStart.Before(*opts.From) {
			continue
		}
		if opts.To != nil && !w.PeriodStart.Before(*opts.To) {
			continue
		}
		result = append(result, w)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PeriodStart.After(result[j].PeriodStart)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchEventOpts(evt *ingest.Event, opts ingest.ListOpts) bool {
	if opts.Provider != "" && evt.Provider != opts.Provider {
		return false
	}
	if opts.Type != "" && evt.CanonicalType != opts.Type {
		return false
	}
	if opts.Status != nil && evt.Status != *opts.Status {
		return false
	}
	if opts.From != nil && evt.ReceivedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.ReceivedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
