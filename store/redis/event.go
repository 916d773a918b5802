package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/provider"
)

// eventModel is the JSON representation stored in Redis.
type eventModel struct {
	ID              string          `json:"id"`
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	CanonicalType   string          `json:"canonical_type"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	SignatureValid  bool            `json:"signature_valid"`
	ReceivedAt      time.Time       `json:"received_at"`
	Status          string          `json:"status"`
	ProcessingError string          `json:"processing_error"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessAttempts int             `json:"process_attempts"`
	NextProcessAt   time.Time       `json:"next_process_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toEventModel(evt *ingest.Event) *eventModel {
	return &eventModel{
		ID:              evt.ID.String(),
		Provider:        string(evt.Provider),
		ProviderEventID: evt.ProviderEventID,
		CanonicalType:   evt.CanonicalType,
		RawPayload:      evt.RawPayload,
		SignatureValid:  evt.SignatureValid,
		ReceivedAt:      evt.ReceivedAt,
		Status:          string(evt.Status),
		ProcessingError: evt.ProcessingError,
		ProcessedAt:     evt.ProcessedAt,
		ProcessAttempts: evt.ProcessAttempts,
		NextProcessAt:   evt.NextProcessAt,
		CreatedAt:       evt.CreatedAt,
		UpdatedAt:       evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*ingest.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &ingest.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              evtID,
		Provider:        provider.Name(m.Provider),
		ProviderEventID: m.ProviderEventID,
		CanonicalType:   m.CanonicalType,
		RawPayload:      m.RawPayload,
		SignatureValid:  m.SignatureValid,
		ReceivedAt:      m.ReceivedAt,
		Status:          ingest.ProcessingStatus(m.Status),
		ProcessingError: m.ProcessingError,
		ProcessedAt:     m.ProcessedAt,
		ProcessAttempts: m.ProcessAttempts,
		NextProcessAt:   m.NextProcessAt,
	}, nil
}

func (s *Store) CreateEvent(ctx context.Context, evt *ingest.Event) error {
	m := toEventModel(evt)

	// SetNX on the dedupe key arbitrates concurrent duplicate receipts.
	won, err := s.rdb.SetNX(ctx, dedupeKey(m.Provider, m.ProviderEventID), m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("paybridge/redis: create event dedupe: %w", err)
	}
	if !won {
		return paybridge.ErrDuplicateEvent
	}

	if err := s.setEntity(ctx, entityKey(prefixEvent, m.ID), m); err != nil {
		return fmt.Errorf("paybridge/redis: create event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(m.ReceivedAt), Member: m.ID})
	if m.Status == string(ingest.StatusPending) {
		pipe.ZAdd(ctx, zEventDue, goredis.Z{Score: scoreFromTime(m.NextProcessAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("paybridge/redis: create event indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*ingest.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrEventNotFound
		}
		return nil, fmt.Errorf("paybridge/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) GetEventByProviderID(ctx context.Context, p provider.Name, providerEventID string) (*ingest.Event, error) {
	evtKey, err := s.rdb.Get(ctx, dedupeKey(string(p), providerEventID)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrEventNotFound
		}
		return nil, fmt.Errorf("paybridge/redis: get event by provider id: %w", err)
	}

	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtKey), &m); err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts ingest.ListOpts) ([]*ingest.Event, error) {
	ids, err := s.rdb.ZRange(ctx, zEventAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list events: %w", err)
	}

	result := make([]*ingest.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

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

func (s *Store) ClaimDue(ctx context.Context, claimAt time.Time, maxAttempts, limit int) ([]*ingest.Event, error) {
	ids, err := s.claimDueIDs(ctx, zEventDue, claimAt, limit)
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: claim due events: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	result := make([]*ingest.Event, 0, len(ids))
	for _, evtID := range ids {
		key := entityKey(prefixEvent, evtID)
		var m eventModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("paybridge/redis: claim due get: %w", err)
		}

		// Exhausted events stay out of the queue until replayed.
		if m.ProcessAttempts >= maxAttempts {
			continue
		}

		m.Status = string(ingest.StatusProcessing)
		m.ProcessAttempts++
		m.UpdatedAt = claimAt
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("paybridge/redis: claim due update: %w", err)
		}

		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

func (s *Store) MarkSucceeded(ctx context.Context, evtID id.ID, processedAt time.Time) error {
	return s.updateEventStatus(ctx, evtID, ingest.StatusSucceeded, func(m *eventModel) {
		m.ProcessedAt = &processedAt
		m.ProcessingError = ""
		m.UpdatedAt = processedAt
	})
}

func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, procErr string, nextProcessAt time.Time) error {
	err := s.updateEventStatus(ctx, evtID, ingest.StatusFailed, func(m *eventModel) {
		m.ProcessingError = procErr
		m.NextProcessAt = nextProcessAt
		m.UpdatedAt = now()
	})
	if err != nil {
		return err
	}
	// Failed events with attempts remaining go back on the queue for the
	// scheduled retry.
	return s.rdb.ZAdd(ctx, zEventDue, goredis.Z{
		Score:  scoreFromTime(nextProcessAt),
		Member: evtID.String(),
	}).Err()
}

func (s *Store) ResetEvent(ctx context.Context, evtID id.ID) error {
	resetAt := now()
	err := s.updateEventStatus(ctx, evtID, ingest.StatusPending, func(m *eventModel) {
		m.ProcessAttempts = 0
		m.ProcessingError = ""
		m.NextProcessAt = resetAt
		m.UpdatedAt = resetAt
	})
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, zEventDue, goredis.Z{
		Score:  scoreFromTime(resetAt),
		Member: evtID.String(),
	}).Err()
}

// updateEventStatus loads an event, validates the status transition, applies
// mutate, and writes the result back.
func (s *Store) updateEventStatus(ctx context.Context, evtID id.ID, next ingest.ProcessingStatus, mutate func(*eventModel)) error {
	key := entityKey(prefixEvent, evtID.String())
	var m eventModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrEventNotFound
		}
		return fmt.Errorf("paybridge/redis: update event: %w", err)
	}

	if !ingest.ProcessingStatus(m.Status).CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", paybridge.ErrInvalidTransition, m.Status, next)
	}

	m.Status = string(next)
	mutate(&m)
	return s.setEntity(ctx, key, &m)
}
