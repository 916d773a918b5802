package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
)

// dlqEntryModel is the JSON representation stored in Redis.
type dlqEntryModel struct {
	ID             string          `json:"id"`
	AttemptID      string          `json:"attempt_id"`
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Owner          string          `json:"owner"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	AttemptCount   int             `json:"attempt_count"`
	LastStatusCode int             `json:"last_status_code"`
	ReplayedAt     *time.Time      `json:"replayed_at,omitempty"`
	FailedAt       time.Time       `json:"failed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		AttemptID:      e.AttemptID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		EventType:      e.EventType,
		Owner:          e.Owner,
		URL:            e.URL,
		Payload:        e.Payload,
		Error:          e.Error,
		AttemptCount:   e.AttemptCount,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq ID %q: %w", m.ID, err)
	}
	attemptID, err := id.ParseAttemptID(m.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.AttemptID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		AttemptID:      attemptID,
		EventID:        evtID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		Owner:          m.Owner,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	if err := s.setEntity(ctx, entityKey(prefixDLQ, m.ID), m); err != nil {
		return fmt.Errorf("paybridge/redis: push dlq entry: %w", err)
	}
	return s.rdb.ZAdd(ctx, zDLQAll, goredis.Z{
		Score:  scoreFromTime(m.FailedAt),
		Member: m.ID,
	}).Err()
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.rdb.ZRange(ctx, zDLQAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return nil, err
		}
		if !matchDLQOpts(entry, opts) {
			continue
		}
		result = append(result, entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func matchDLQOpts(e *dlq.Entry, opts dlq.ListOpts) bool {
	if opts.Owner != "" && e.Owner != opts.Owner {
		return false
	}
	if opts.SubscriptionID != nil && e.SubscriptionID.String() != opts.SubscriptionID.String() {
		return false
	}
	if opts.EventType != "" && e.EventType != opts.EventType {
		return false
	}
	if opts.From != nil && e.FailedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && e.FailedAt.After(*opts.To) {
		return false
	}
	return true
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrDLQNotFound
		}
		return nil, fmt.Errorf("paybridge/redis: get dlq entry: %w", err)
	}
	return fromDLQEntryModel(&m)
}

func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	replayAt := now()
	if err := s.enqueueReplay(ctx, entry, replayAt); err != nil {
		return err
	}

	entry.ReplayedAt = &replayAt
	m := toDLQEntryModel(entry)
	m.UpdatedAt = replayAt
	return s.setEntity(ctx, entityKey(prefixDLQ, m.ID), m)
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, scoreFromTime(from), scoreFromTime(to))
	if err != nil {
		return 0, fmt.Errorf("paybridge/redis: replay bulk: %w", err)
	}

	replayAt := now()
	var count int64
	for _, dlqID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return count, err
		}
		if m.ReplayedAt != nil {
			continue
		}

		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return count, err
		}
		if err := s.enqueueReplay(ctx, entry, replayAt); err != nil {
			return count, err
		}

		m.ReplayedAt = &replayAt
		m.UpdatedAt = replayAt
		if err := s.setEntity(ctx, entityKey(prefixDLQ, m.ID), &m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// enqueueReplay creates the replay attempt, continuing the pair's attempt
// numbering.
func (s *Store) enqueueReplay(ctx context.Context, entry *dlq.Entry, at time.Time) error {
	a := &delivery.Attempt{
		Entity:         entity.Entity{CreatedAt: at, UpdatedAt: at},
		ID:             id.NewAttemptID(),
		SubscriptionID: entry.SubscriptionID,
		EventID:        entry.EventID,
		EventType:      entry.EventType,
		AttemptNumber:  entry.AttemptCount + 1,
		Status:         delivery.StatusPending,
		NextAttemptAt:  at,
	}
	return s.Enqueue(ctx, a)
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return 0, fmt.Errorf("paybridge/redis: purge dlq: %w", err)
	}

	var count int64
	for _, dlqID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID), &m); err != nil {
			if isRedisNil(err) {
				s.rdb.ZRem(ctx, zDLQAll, dlqID)
				continue
			}
			return count, err
		}
		if !m.FailedAt.Before(before) {
			continue
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixDLQ, dlqID))
		pipe.ZRem(ctx, zDLQAll, dlqID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("paybridge/redis: count dlq: %w", err)
	}
	return count, nil
}
