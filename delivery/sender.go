package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/signature"
	"github.com/paybridge/paybridge/subscription"
)

const maxResponseBody = 1000 // cap on stored response body

// Payload is the outbound webhook body sent to client endpoints.
type Payload struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Data     json.RawMessage `json:"data"`
	Provider provider.Name   `json:"provider"`
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers an event to a subscription endpoint and returns the result.
// The body is signed with HMAC-SHA256 over "{timestamp}.{body}" using the
// subscription secret.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, evt *ingest.Event) Result {
	ts := time.Now().Unix()

	body, err := json.Marshal(Payload{
		ID:       evt.ID.String(),
		Type:     evt.CanonicalType,
		Created:  ts,
		Data:     evt.DataPayload(),
		Provider: evt.Provider,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PayBridge-Webhooks/1.0")
	req.Header.Set("X-PayBridge-Signature", signature.Sign(body, sub.Secret, ts))
	req.Header.Set("X-PayBridge-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-PayBridge-Event-Type", evt.CanonicalType)
	req.Header.Set("X-PayBridge-Event-ID", evt.ID.String())

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // URL is a user-configured webhook destination.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
