package bunstore

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/subscription"
)

type eventModel struct {
	bun.BaseModel `bun:"table:paybridge_events"`

	ID              string          `bun:"id,pk"`
	Provider        string          `bun:"provider,notnull"`
	ProviderEventID string          `bun:"provider_event_id,notnull"`
	CanonicalType   string          `bun:"canonical_type,notnull"`
	RawPayload      json.RawMessage `bun:"raw_payload,type:jsonb"`
	SignatureValid  bool            `bun:"signature_valid"`
	ReceivedAt      time.Time       `bun:"received_at,notnull"`
	Status          string          `bun:"status,notnull"`
	ProcessingError string          `bun:"processing_error"`
	ProcessedAt     *time.Time      `bun:"processed_at"`
	ProcessAttempts int             `bun:"process_attempts"`
	NextProcessAt   time.Time       `bun:"next_process_at"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull"`
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
		return nil, err
	}
	evt := &ingest.Event{
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
	}
	evt.CreatedAt = m.CreatedAt
	evt.UpdatedAt = m.UpdatedAt
	return evt, nil
}

type subscriptionModel struct {
	bun.BaseModel `bun:"table:paybridge_subscriptions"`

	ID             string     `bun:"id,pk"`
	Owner          string     `bun:"owner,notnull"`
	URL            string     `bun:"url,notnull"`
	Secret         string     `bun:"secret,notnull,unique"`
	SelectedEvents []string   `bun:"selected_events,type:jsonb"`
	Active         bool       `bun:"active"`
	Health         string     `bun:"health,notnull"`
	SuccessCount   int        `bun:"success_count"`
	FailureCount   int        `bun:"failure_count"`
	RateLimit      int        `bun:"rate_limit"`
	LastDeliveryAt *time.Time `bun:"last_delivery_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
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
		return nil, err
	}
	sub := &subscription.Subscription{
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
	}
	sub.CreatedAt = m.CreatedAt
	sub.UpdatedAt = m.UpdatedAt
	return sub, nil
}

type attemptModel struct {
	bun.BaseModel `bun:"table:paybridge_attempts"`

	ID             string     `bun:"id,pk"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	EventID        string     `bun:"event_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	AttemptNumber  int        `bun:"attempt_number,notnull"`
	Status         string     `bun:"status,notnull"`
	HTTPStatusCode int        `bun:"http_status_code"`
	ResponseBody   string     `bun:"response_body"`
	LatencyMs      int        `bun:"latency_ms"`
	ErrorMessage   string     `bun:"error_message"`
	NextAttemptAt  time.Time  `bun:"next_attempt_at"`
	NextRetryAt    *time.Time `bun:"next_retry_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	ClaimedAt      *time.Time `bun:"claimed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
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
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, err
	}
	a := &delivery.Attempt{
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
	}
	a.CreatedAt = m.CreatedAt
	a.UpdatedAt = m.UpdatedAt
	return a, nil
}

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:paybridge_dlq"`

	ID             string          `bun:"id,pk"`
	AttemptID      string          `bun:"attempt_id,notnull"`
	EventID        string          `bun:"event_id,notnull"`
	SubscriptionID string          `bun:"subscription_id,notnull"`
	EventType      string          `bun:"event_type,notnull"`
	Owner          string          `bun:"owner"`
	URL            string          `bun:"url"`
	Payload        json.RawMessage `bun:"payload,type:jsonb"`
	Error          string          `bun:"error"`
	AttemptCount   int             `bun:"attempt_count"`
	LastStatusCode int             `bun:"last_status_code"`
	ReplayedAt     *time.Time      `bun:"replayed_at"`
	FailedAt       time.Time       `bun:"failed_at,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
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
		return nil, err
	}
	attemptID, err := id.ParseAttemptID(m.AttemptID)
	if err != nil {
		return nil, err
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	e := &dlq.Entry{
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
	}
	e.CreatedAt = m.CreatedAt
	e.UpdatedAt = m.UpdatedAt
	return e, nil
}

type windowModel struct {
	bun.BaseModel `bun:"table:paybridge_metric_windows"`

	SubscriptionID  string    `bun:"subscription_id,pk"`
	PeriodStart     time.Time `bun:"period_start,pk"`
	TotalDeliveries int       `bun:"total_deliveries"`
	Successful      int       `bun:"successful"`
	Failed          int       `bun:"failed"`
	DeadLettered    int       `bun:"dead_lettered"`
	Retried         int       `bun:"retried"`
	AvgLatencyMs    float64   `bun:"avg_latency_ms"`
	P95LatencyMs    float64   `bun:"p95_latency_ms"`
	P99LatencyMs    float64   `bun:"p99_latency_ms"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
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
		return nil, err
	}
	w := &stats.Window{
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
	}
	w.CreatedAt = m.CreatedAt
	w.UpdatedAt = m.UpdatedAt
	return w, nil
}
