package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

// paystackAdapter verifies and normalizes Paystack webhooks.
// Paystack signs the raw body with HMAC-SHA512 of the account secret key and
// sends the hex digest in X-Paystack-Signature.
type paystackAdapter struct {
	secret string
}

// NewPaystack creates the Paystack adapter.
func NewPaystack(secret string) Adapter {
	return &paystackAdapter{secret: secret}
}

func (p *paystackAdapter) Name() Name { return Paystack }

func (p *paystackAdapter) SignatureHeader() string { return "X-Paystack-Signature" }

func (p *paystackAdapter) Verify(body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// paystackEventMap maps Paystack native events to canonical types.
var paystackEventMap = map[string]string{
	"charge.success":       "payment.completed",
	"charge.failed":        "payment.failed",
	"transfer.success":     "transfer.completed",
	"transfer.failed":      "transfer.failed",
	"subscription.create":  "subscription.created",
	"subscription.disable": "subscription.cancelled",
}

type paystackPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
	} `json:"data"`
}

func (p *paystackAdapter) Normalize(body []byte) (Normalized, error) {
	var payload paystackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Normalized{}, ErrMalformedPayload
	}

	eventID := payload.Data.ID.String()
	if eventID == "" {
		eventID = payload.Data.Reference
	}
	if eventID == "" {
		return Normalized{}, ErrMissingEventID
	}

	return Normalized{
		EventType: mapEvent(paystackEventMap, Paystack, payload.Event),
		EventID:   eventID,
	}, nil
}

// mapEvent resolves a native event name against a provider mapping table,
// falling back to "{provider}.{native}" so unmapped events stay visible.
func mapEvent(table map[string]string, name Name, native string) string {
	if canonical, ok := table[native]; ok {
		return canonical
	}
	return string(name) + "." + native
}
