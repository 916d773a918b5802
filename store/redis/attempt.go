package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// attemptModel is the JSON representation stored in Redis.
type attemptModel struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	AttemptNumber  int        `json:"attempt_number"`
	Status         string     `json:"status"`
	HTTPStatusCode int        `json:"http_status_code"`
	ResponseBody   string     `json:"response_body"`
	LatencyMs      int        `json:"latency_ms"`
	ErrorMessage   string     `json:"error_message"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		EventID:        a.EventID.String(),
		EventType:      a.EventType,
		AttemptNumber:  a.AttemptNumber,
		Status:         string(a.Status),
		HTTPStatusCode: a.HTTPStatusCode,
		ResponseBody:   a.ResponseBody,
		LatencyMs:      a.LatencyMs,
		ErrorMessage:   a.ErrorMessage,
		NextAttemptAt:  a.NextAttemptAt,
		NextRetryAt:    a.NextRetryAt,
		CompletedAt:    a.CompletedAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attemptID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attemptID,
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      m.EventType,
		AttemptNumber:  m.AttemptNumber,
		Status:         delivery.Status(m.Status),
		HTTPStatusCode: m.HTTPStatusCode,
		ResponseBody:   m.ResponseBody,
		LatencyMs:      m.LatencyMs,
		ErrorMessage:   m.ErrorMessage,
		NextAttemptAt:  m.NextAttemptAt,
		NextRetryAt:    m.NextRetryAt,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// numberKey indexes (subscription, event, attempt number) for the successor
// lookup used by crash recovery.
func numberKey(m *attemptModel) string {
	return uniquePairNumber + pairKey(m.SubscriptionID, m.EventID) + ":" + strconv.Itoa(m.AttemptNumber)
}

func (s *Store) Enqueue(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)

	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("paybridge/redis: enqueue attempt: %w", err)
	}

	pipe := s.rdb.Pipeline()
	s.indexAttempt(ctx, pipe, m)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("paybridge/redis: enqueue attempt indexes: %w", err)
	}
	return nil
}

func (s *Store) EnqueueBatch(ctx context.Context, as []*delivery.Attempt) error {
	if len(as) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, a := range as {
		m := toAttemptModel(a)
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("paybridge/redis: enqueue batch marshal: %w", err)
		}
		pipe.Set(ctx, entityKey(prefixAttempt, m.ID), raw, 0)
		s.indexAttempt(ctx, pipe, m)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("paybridge/redis: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) indexAttempt(ctx context.Context, pipe goredis.Pipeliner, m *attemptModel) {
	pipe.ZAdd(ctx, zAttemptPend, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
	pipe.ZAdd(ctx, zAttemptSub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zAttemptEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.Set(ctx, numberKey(m), m.ID, 0)
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Attempt, error) {
	// Removal from the pending sorted set is the claim: other workers never
	// see the same member.
	ids, err := s.claimDueIDs(ctx, zAttemptPend, now(), limit)
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: dequeue attempts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	result := make([]*delivery.Attempt, 0, len(ids))
	for _, attemptID := range ids {
		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, attemptID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("paybridge/redis: dequeue get: %w", err)
		}
		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	key := entityKey(prefixAttempt, a.ID.String())
	var existing attemptModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrAttemptNotFound
		}
		return fmt.Errorf("paybridge/redis: update attempt: %w", err)
	}

	prev := delivery.Status(existing.Status)
	if prev != a.Status && !prev.CanTransition(a.Status) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, prev, a.Status)
	}

	m := toAttemptModel(a)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	switch a.Status {
	case delivery.StatusPending:
		// Rescheduled while pending: back on the queue.
		pipe.ZAdd(ctx, zAttemptPend, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
	case delivery.StatusSuccess:
		pipe.Set(ctx, uniquePairSuccess+pairKey(m.SubscriptionID, m.EventID), m.ID, 0)
	case delivery.StatusFailed:
		if m.NextRetryAt != nil {
			pipe.ZAdd(ctx, zAttemptRetry, goredis.Z{Score: scoreFromTime(*m.NextRetryAt), Member: m.ID})
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteAttempt(ctx context.Context, attemptID id.ID) error {
	key := entityKey(prefixAttempt, attemptID.String())
	var m attemptModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrAttemptNotFound
		}
		return fmt.Errorf("paybridge/redis: delete attempt: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, numberKey(&m))
	pipe.ZRem(ctx, zAttemptPend, m.ID)
	pipe.ZRem(ctx, zAttemptRetry, m.ID)
	pipe.ZRem(ctx, zAttemptSub+m.SubscriptionID, m.ID)
	pipe.ZRem(ctx, zAttemptEvt+m.EventID, m.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attemptID id.ID) (*delivery.Attempt, error) {
	var m attemptModel
	if err := s.getEntity(ctx, entityKey(prefixAttempt, attemptID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("paybridge/redis: get attempt: %w", err)
	}
	return fromAttemptModel(&m)
}

func (s *Store) HasSuccess(ctx context.Context, subID, evtID id.ID) (bool, error) {
	n, err := s.rdb.Exists(ctx, uniquePairSuccess+pairKey(subID.String(), evtID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("paybridge/redis: has success: %w", err)
	}
	return n > 0, nil
}

func (s *Store) HasSuccessor(ctx context.Context, a *delivery.Attempt) (bool, error) {
	key := uniquePairNumber + pairKey(a.SubscriptionID.String(), a.EventID.String()) + ":" + strconv.Itoa(a.AttemptNumber+1)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("paybridge/redis: has successor: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	ids, err := s.rdb.ZRange(ctx, zAttemptSub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Attempt, error) {
	ids, err := s.rdb.ZRange(ctx, zAttemptEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list by event: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) ListCompletedInWindow(ctx context.Context, subID id.ID, from, to time.Time) ([]*delivery.Attempt, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zAttemptSub+subID.String(), scoreFromTime(from), scoreFromTime(to))
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list completed in window: %w", err)
	}

	var result []*delivery.Attempt
	for _, attemptID := range ids {
		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, attemptID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		if !a.Final() || !a.CreatedAt.Before(to) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) FindMissedRetries(ctx context.Context, findAt time.Time, limit int) ([]*delivery.Attempt, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zAttemptRetry, scoreFromTime(time.Time{}), scoreFromTime(findAt))
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: find missed retries: %w", err)
	}

	var result []*delivery.Attempt
	for _, attemptID := range ids {
		if limit > 0 && len(result) >= limit {
			break
		}

		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, attemptID), &m); err != nil {
			if isRedisNil(err) {
				s.rdb.ZRem(ctx, zAttemptRetry, attemptID)
				continue
			}
			return nil, err
		}

		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}

		// Once the successor exists the retry was handled; drop the marker.
		succ, err := s.HasSuccessor(ctx, a)
		if err != nil {
			return nil, err
		}
		if succ || a.Status != delivery.StatusFailed {
			s.rdb.ZRem(ctx, zAttemptRetry, attemptID)
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zAttemptPend).Result()
	if err != nil {
		return 0, fmt.Errorf("paybridge/redis: count pending: %w", err)
	}
	return count, nil
}
