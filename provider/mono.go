package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// monoAdapter verifies and normalizes Mono (KYC/open-banking) webhooks.
// Mono signs the raw body with HMAC-SHA256 of the account secret key and
// sends the hex digest in mono-webhook-signature.
type monoAdapter struct {
	secret string
}

// NewMono creates the Mono adapter.
func NewMono(secret string) Adapter {
	return &monoAdapter{secret: secret}
}

func (m *monoAdapter) Name() Name { return Mono }

func (m *monoAdapter) SignatureHeader() string { return "Mono-Webhook-Signature" }

func (m *monoAdapter) Verify(body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// monoEventMap maps Mono native events to canonical types.
var monoEventMap = map[string]string{
	"mono.events.account_linked":           "kyc.verified",
	"mono.events.account_updated":          "kyc.updated",
	"mono.events.reauthorisation_required": "kyc.reauth_required",
}

type monoPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (m *monoAdapter) Normalize(body []byte) (Normalized, error) {
	var payload monoPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Normalized{}, ErrMalformedPayload
	}

	if payload.Data.ID == "" {
		return Normalized{}, ErrMissingEventID
	}

	return Normalized{
		EventType: mapEvent(monoEventMap, Mono, payload.Event),
		EventID:   payload.Data.ID,
	}, nil
}
