package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/stats"
)

// windowModel is the JSON representation stored in Redis.
type windowModel struct {
	SubscriptionID  string    `json:"subscription_id"`
	PeriodStart     time.Time `json:"period_start"`
	TotalDeliveries int       `json:"total_deliveries"`
	Successful      int       `json:"successful"`
	Failed          int       `json:"failed"`
	DeadLettered    int       `json:"dead_lettered"`
	Retried         int       `json:"retried"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	P99LatencyMs    float64   `json:"p99_latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toWindowModel(w *stats.Window) *windowModel {
	return &windowModel{
		SubscriptionID:  w.SubscriptionID.String(),
		PeriodStart:     w.PeriodStart,
		TotalDeliveries: w.TotalDeliveries,
		Successful:      w.Successful,
		Failed:          w.Failed,
		DeadLettered:    w.DeadLettered,
		Retried:         w.Retried,
		AvgLatencyMs:    w.AvgLatencyMs,
		P95LatencyMs:    w.P95LatencyMs,
		P99LatencyMs:    w.P99LatencyMs,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

func fromWindowModel(m *windowModel) (*stats.Window, error) {
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &stats.Window{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		SubscriptionID:  subID,
		PeriodStart:     m.PeriodStart,
		TotalDeliveries: m.TotalDeliveries,
		Successful:      m.Successful,
		Failed:          m.Failed,
		DeadLettered:    m.DeadLettered,
		Retried:         m.Retried,
		AvgLatencyMs:    m.AvgLatencyMs,
		P95LatencyMs:    m.P95LatencyMs,
		P99LatencyMs:    m.P99LatencyMs,
	}, nil
}

// windowMember is the member ID used in window indexes. The
// (subscription, period) pair is the upsert key.
func windowMember(subID string, periodStart time.Time) string {
	return subID + ":" + strconv.FormatInt(periodStart.Unix(), 10)
}

func (s *Store) UpsertWindow(ctx context.Context, w *stats.Window) error {
	m := toWindowModel(w)
	m.UpdatedAt = now()
	member := windowMember(m.SubscriptionID, m.PeriodStart)

	if err := s.setEntity(ctx, entityKey(prefixWindow, member), m); err != nil {
		return fmt.Errorf("paybridge/redis: upsert window: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zWindowAll, goredis.Z{Score: scoreFromTime(m.PeriodStart), Member: member})
	pipe.ZAdd(ctx, zWindowSub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.PeriodStart), Member: member})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) ListWindows(ctx context.Context, opts stats.ListOpts) ([]*stats.Window, error) {
	indexKey := zWindowAll
	if opts.SubscriptionID != nil {
		indexKey = zWindowSub + opts.SubscriptionID.String()
	}

	members, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("paybridge/redis: list windows: %w", err)
	}

	result := make([]*stats.Window, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- { // reverse for DESC order
		var m windowModel
		if err := s.getEntity(ctx, entityKey(prefixWindow, members[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		w, err := fromWindowModel(&m)
		if err != nil {
			return nil, err
		}
		if opts.From != nil && w.PeriodStart.Before(*opts.From) {
			continue
		}
		if opts.To != nil && !w.PeriodStart.Before(*opts.To) {
			continue
		}
		result = append(result, w)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
