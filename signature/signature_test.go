package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/paybridge/paybridge/signature"
)

func TestSignMatchesReference(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment.completed"}`)
	secret := "whsec_abc123"
	var ts int64 = 1735689600

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := signature.Sign(payload, secret, ts); got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)
	a := signature.Sign(payload, "whsec_x", 100)
	b := signature.Sign(payload, "whsec_x", 100)
	if a != b {
		t.Error("same inputs must produce the same signature")
	}
	if a == signature.Sign(payload, "whsec_x", 101) {
		t.Error("timestamp must be part of the signed content")
	}
	if a == signature.Sign(payload, "whsec_y", 100) {
		t.Error("secret must be part of the signed content")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"amount":5000}`)
	secret := "whsec_secret"
	var ts int64 = 1735689600
	sig := signature.Sign(payload, secret, ts)

	tests := []struct {
		name    string
		payload []byte
		secret  string
		ts      int64
		sig     string
		want    bool
	}{
		{"valid", payload, secret, ts, sig, true},
		{"tampered payload", []byte(`{"amount":9999}`), secret, ts, sig, false},
		{"wrong secret", payload, "whsec_other", ts, sig, false},
		{"wrong timestamp", payload, secret, ts + 1, sig, false},
		{"garbage signature", payload, secret, ts, "deadbeef", false},
		{"empty signature", payload, secret, ts, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signature.Verify(tt.payload, tt.secret, tt.ts, tt.sig); got != tt.want {
				t.Errorf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	s := signature.GenerateSecret()

	if !strings.HasPrefix(s, "whsec_") {
		t.Errorf("secret %q missing whsec_ prefix", s)
	}
	if len(s) != 70 {
		t.Errorf("secret length = %d, want 70", len(s))
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(s, "whsec_")); err != nil {
		t.Errorf("secret body is not hex: %v", err)
	}
	if s == signature.GenerateSecret() {
		t.Error("secrets must be unique")
	}
}
