// Package ingest defines the inbound event ledger: the durable, unique-keyed
// record of every provider webhook PayBridge has accepted.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/provider"
)

// ProcessingStatus is the state of an inbound event in the processing
// state machine.
type ProcessingStatus string

const (
	// StatusPending indicates the event is awaiting processing.
	StatusPending ProcessingStatus = "pending"

	// StatusProcessing indicates a worker has claimed the event.
	StatusProcessing ProcessingStatus = "processing"

	// StatusSucceeded indicates processing completed and fan-out was enqueued.
	StatusSucceeded ProcessingStatus = "succeeded"

	// StatusFailed indicates the last processing attempt failed. Failed
	// events stay visible for replay and are never deleted.
	StatusFailed ProcessingStatus = "failed"
)

// transitions is the validated transition table for ProcessingStatus.
// failed -> processing covers scheduled retries; failed -> pending covers
// manual replay, which also clears the attempt counter.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSucceeded, StatusFailed},
	StatusFailed:     {StatusProcessing, StatusPending},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Event is one accepted provider webhook: the idempotency ledger row and
// audit record. Identity for deduplication is (Provider, ProviderEventID).
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Provider identifies which adapter accepted the webhook.
	Provider provider.Name `json:"provider"`

	// ProviderEventID is the provider's stable event identifier. Unique per
	// provider; a second receipt of the same id is a duplicate.
	ProviderEventID string `json:"provider_event_id"`

	// CanonicalType is the provider-agnostic event type used for matching.
	CanonicalType string `json:"canonical_event_type"`

	// RawPayload is the provider's native JSON body, stored verbatim.
	RawPayload json.RawMessage `json:"raw_payload"`

	// SignatureValid records the verification outcome at receipt time.
	// Always true for stored events; kept for the audit trail.
	SignatureValid bool `json:"signature_valid"`

	// ReceivedAt is when the webhook arrived.
	ReceivedAt time.Time `json:"received_at"`

	// Status is the current processing state.
	Status ProcessingStatus `json:"processing_status"`

	// ProcessingError is the error message from the last failed attempt.
	ProcessingError string `json:"processing_error,omitempty"`

	// ProcessedAt is when processing succeeded.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// ProcessAttempts is the number of processing attempts made so far.
	ProcessAttempts int `json:"process_attempts"`

	// NextProcessAt is when the processor may next claim this event.
	NextProcessAt time.Time `json:"next_process_at"`
}

// DataPayload returns the "data" object of the provider payload, or the whole
// payload when no data envelope exists. This is the business payload carried
// in outbound deliveries.
func (e *Event) DataPayload() json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(e.RawPayload, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return e.RawPayload
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Provider provider.Name
	Type     string
	Status   *ProcessingStatus
	From     *time.Time
	To       *time.Time
}
