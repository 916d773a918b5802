package receiver_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/receiver"
	"github.com/paybridge/paybridge/store/memory"
)

const paystackKey = "sk_test_receiver"

func newTestHandler(t *testing.T) *receiver.Handler {
	t.Helper()

	bridge, err := paybridge.New(
		paybridge.WithStore(memory.New()),
		paybridge.WithProviders(provider.NewRegistry(provider.NewPaystack(paystackKey))),
		paybridge.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return receiver.NewHandler(bridge, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signPaystack(body []byte) string {
	mac := hmac.New(sha512.New, []byte(paystackKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func post(h http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestReceiveValidWebhook(t *testing.T) {
	h := newTestHandler(t)
	body := []byte(`{"event":"charge.success","data":{"id":302961}}`)

	w := post(h, "/webhooks/paystack", body, map[string]string{
		"X-Paystack-Signature": signPaystack(body),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "received" {
		t.Errorf("status = %q, want received", resp.Status)
	}
	if !strings.HasPrefix(resp.EventID, "evt_") {
		t.Errorf("event_id = %q", resp.EventID)
	}
}

func TestReceiveDuplicate(t *testing.T) {
	h := newTestHandler(t)
	body := []byte(`{"event":"charge.success","data":{"id":777}}`)
	headers := map[string]string{"X-Paystack-Signature": signPaystack(body)}

	first := post(h, "/webhooks/paystack", body, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first receive status = %d", first.Code)
	}
	var firstResp struct {
		EventID string `json:"event_id"`
	}
	json.Unmarshal(first.Body.Bytes(), &firstResp) //nolint:errcheck

	// Same provider event again: 200 so the provider stops retrying, same ID.
	second := post(h, "/webhooks/paystack", body, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate receive status = %d", second.Code)
	}
	var secondResp struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"`
	}
	json.Unmarshal(second.Body.Bytes(), &secondResp) //nolint:errcheck
	if secondResp.Status != "duplicate" {
		t.Errorf("status = %q, want duplicate", secondResp.Status)
	}
	if secondResp.EventID != firstResp.EventID {
		t.Errorf("duplicate returned %q, first was %q", secondResp.EventID, firstResp.EventID)
	}
}

func TestReceiveInvalidSignature(t *testing.T) {
	h := newTestHandler(t)
	body := []byte(`{"event":"charge.success","data":{"id":1}}`)

	tests := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"garbage", "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.sig != "" {
				headers["X-Paystack-Signature"] = tt.sig
			}
			w := post(h, "/webhooks/paystack", body, headers)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestReceiveMalformedPayload(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte(`{nope`)},
		{"no event id", []byte(`{"event":"charge.success","data":{}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(h, "/webhooks/paystack", tt.body, map[string]string{
				"X-Paystack-Signature": signPaystack(tt.body),
			})
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestReceiveUnknownProvider(t *testing.T) {
	h := newTestHandler(t)

	w := post(h, "/webhooks/square", []byte(`{}`), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReceiveOversizeBody(t *testing.T) {
	h := newTestHandler(t)
	body := bytes.Repeat([]byte("x"), 1<<20+1)

	w := post(h, "/webhooks/paystack", body, map[string]string{
		"X-Paystack-Signature": signPaystack(body),
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestReceiveMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/paystack", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
