package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Unlike the
// domain type this includes the secret; the value never leaves the store.
type subscriptionModel struct {
	ID             string     `json:"id"`
	Owner          string     `json:"owner"`
	URL            string     `json:"url"`
	Secret         string     `json:"secret"`
	SelectedEvents []string   `json:"selected_events"`
	Active         bool       `json:"active"`
	Health         string     `json:"health"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	RateLimit      int        `json:"rate_limit"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             sub.ID.String(),
		Owner:          sub.Owner,
		URL:            sub.URL,
		Secret:         sub.Secret,
		SelectedEvents: sub.SelectedEvents,
		Active:         sub.Active,
		Health:         string(sub.Health),
		SuccessCount:   sub.SuccessCount,
		FailureCount:   sub.FailureCount,
		RateLimit:      sub.RateLimit,
		LastDeliveryAt: sub.LastDeliveryAt,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             subID,
		Owner:          m.Owner,
		URL:            m.URL,
		Secret:         m.Secret,
		SelectedEvents: m.SelectedEvents,
		Active:         m.Active,
		Health:         subscription.Health(m.Health),
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		RateLimit:      m.RateLimit,
		LastDeliveryAt: m.LastDeliveryAt,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	won, err := s.rdb.SetNX(ctx, uniqueSubSecret+m.Secret, m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("paybridge/redis: create subscription secret: %w", err)
	}
	if !won {
		return paybridge.ErrDuplicateSecret
	}

	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("paybridge/redis: create subscription: %w", err)
	}
	return s.rdb.ZAdd(ctx, zSubAll, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err()
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, paybridge.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("paybridge/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())
	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrSubscriptionNotFound
		}
		return fmt.Errorf("paybridge/redis: update subscription: %w", err)
	}

	// A rotated secret claims a new unique key and releases the old one.
	if sub.Secret != existing.Secret {
		won, err := s.rdb.SetNX(ctx, uniqueSubSecret+sub.Secret, sub.ID.String(), 0).Result()
		if err != nil {
			return fmt.Errorf("paybridge/redis: update subscription secret: %w", err)
		}
		if !won {
			return paybridge.ErrDuplicateSecret
		}
		if err := s.rdb.Del(ctx, uniqueSubSecret+existing.Secret).Err(); err != nil {
			return err
		}
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	return s.setEntity(ctx, key, m)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())
	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrSubscriptionNotFound
		}
		return fmt.Errorf("paybridge/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, uniqueSubSecret+m.Secret)
	pipe.ZRem(ctx, zSubAll, m.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	subs, err := s.allSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, 0, len(subs))
	for _, sub := range subs {
		if opts.Owner != "" && sub.Owner != opts.Owner {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Match(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	subs, err := s.allSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	var result []*subscription.Subscription
	for _, sub := range subs {
		if sub.Active && sub.Subscribed(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	return s.updateSubscriptionState(ctx, subID, func(m *subscriptionModel) {
		m.Active = active
		if active {
			m.Health = string(subscription.HealthHealthy)
		} else {
			m.Health = string(subscription.HealthDisabled)
		}
		m.UpdatedAt = now()
	})
}

func (s *Store) RecordDeliverySuccess(ctx context.Context, subID id.ID, at time.Time) error {
	return s.updateSubscriptionState(ctx, subID, func(m *subscriptionModel) {
		if subscription.Health(m.Health).CanTransition(subscription.HealthHealthy) {
			m.Health = string(subscription.HealthHealthy)
		}
		m.SuccessCount++
		m.LastDeliveryAt = &at
		m.UpdatedAt = at
	})
}

func (s *Store) RecordDeliveryFailure(ctx context.Context, subID id.ID, at time.Time, deadLettered bool) error {
	return s.updateSubscriptionState(ctx, subID, func(m *subscriptionModel) {
		target := subscription.HealthDegraded
		if deadLettered {
			target = subscription.HealthFailing
			m.FailureCount++
		}
		if subscription.Health(m.Health).CanTransition(target) {
			m.Health = string(target)
		}
		m.LastDeliveryAt = &at
		m.UpdatedAt = at
	})
}

func (s *Store) allSubscriptions(ctx context.Context) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

func (s *Store) updateSubscriptionState(ctx context.Context, subID id.ID, mutate func(*subscriptionModel)) error {
	key := entityKey(prefixSubscription, subID.String())
	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return paybridge.ErrSubscriptionNotFound
		}
		return fmt.Errorf("paybridge/redis: update subscription state: %w", err)
	}
	mutate(&m)
	return s.setEntity(ctx, key, &m)
}
