package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/signature"
	"github.com/paybridge/paybridge/subscription"
)

const testSecret = "whsec_test_secret_1234567890abcdef1234567890abcdef"

func testSubscription(url string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          "acct_1",
		URL:            url,
		Secret:         testSecret,
		SelectedEvents: []string{"payment.completed"},
		Active:         true,
		Health:         subscription.HealthHealthy,
	}
}

func testEvent() *ingest.Event {
	return &ingest.Event{
		Entity:          entity.New(),
		ID:              id.NewEventID(),
		Provider:        provider.Paystack,
		ProviderEventID: "12345",
		CanonicalType:   "payment.completed",
		RawPayload:      json.RawMessage(`{"event":"charge.success","data":{"amount":5000}}`),
		Status:          ingest.StatusSucceeded,
	}
}

func TestSenderSendsSignedRequest(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := testSubscription(srv.URL)
	evt := testEvent()

	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), sub, evt)

	if result.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if gotHeaders.Get("X-PayBridge-Signature") == "" {
		t.Error("missing signature header")
	}
	if gotHeaders.Get("X-PayBridge-Event-ID") != evt.ID.String() {
		t.Errorf("event id header = %q", gotHeaders.Get("X-PayBridge-Event-ID"))
	}
	if gotHeaders.Get("X-PayBridge-Event-Type") != "payment.completed" {
		t.Errorf("event type header = %q", gotHeaders.Get("X-PayBridge-Event-Type"))
	}

	// The signature must verify against the raw body and the sent timestamp.
	ts, err := strconv.ParseInt(gotHeaders.Get("X-PayBridge-Timestamp"), 10, 64)
	if err != nil {
		t.Fatalf("bad timestamp header: %v", err)
	}
	if !signature.Verify(gotBody, sub.Secret, ts, gotHeaders.Get("X-PayBridge-Signature")) {
		t.Error("signature does not verify against body and timestamp")
	}

	var payload delivery.Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != evt.ID.String() {
		t.Errorf("payload.ID = %q", payload.ID)
	}
	if payload.Type != "payment.completed" {
		t.Errorf("payload.Type = %q", payload.Type)
	}
	if payload.Provider != provider.Paystack {
		t.Errorf("payload.Provider = %q", payload.Provider)
	}
	// Data carries the "data" object of the provider payload, not the envelope.
	if string(payload.Data) != `{"amount":5000}` {
		t.Errorf("payload.Data = %s", payload.Data)
	}
}

func TestSenderRecordsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down") //nolint:errcheck
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), testSubscription(srv.URL), testEvent())

	if result.StatusCode != http.StatusBadGateway {
		t.Fatalf("StatusCode = %d, want 502", result.StatusCode)
	}
	if result.Response != "upstream down" {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestSenderConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // refuse connections

	sender := delivery.NewSender(time.Second)
	result := sender.Send(context.Background(), testSubscription(srv.URL), testEvent())

	if result.StatusCode != 0 {
		t.Fatalf("StatusCode = %d, want 0 for transport error", result.StatusCode)
	}
	if result.Error == "" {
		t.Fatal("expected transport error message")
	}
}

func TestSenderTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, strings.Repeat("x", 5000)) //nolint:errcheck
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), testSubscription(srv.URL), testEvent())

	if len(result.Response) > 1000 {
		t.Errorf("Response length = %d, want <= 1000", len(result.Response))
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(50 * time.Millisecond)
	result := sender.Send(context.Background(), testSubscription(srv.URL), testEvent())

	if result.StatusCode != 0 || result.Error == "" {
		t.Fatalf("expected timeout error, got status=%d error=%q", result.StatusCode, result.Error)
	}
}
