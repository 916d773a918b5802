package provider

import (
	"crypto/subtle"
	"encoding/json"
)

// flutterwaveAdapter verifies and normalizes Flutterwave webhooks.
// Flutterwave does not sign the body: it echoes a pre-shared secret hash in
// the verif-hash header, compared here in constant time.
type flutterwaveAdapter struct {
	secretHash string
}

// NewFlutterwave creates the Flutterwave adapter.
func NewFlutterwave(secretHash string) Adapter {
	return &flutterwaveAdapter{secretHash: secretHash}
}

func (f *flutterwaveAdapter) Name() Name { return Flutterwave }

func (f *flutterwaveAdapter) SignatureHeader() string { return "Verif-Hash" }

func (f *flutterwaveAdapter) Verify(_ []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	if subtle.ConstantTimeCompare([]byte(f.secretHash), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// flutterwaveEventMap maps Flutterwave native events to canonical types.
var flutterwaveEventMap = map[string]string{
	"charge.completed":   "payment.completed",
	"charge.failed":      "payment.failed",
	"transfer.completed": "transfer.completed",
	"transfer.failed":    "transfer.failed",
}

type flutterwavePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID    json.Number `json:"id"`
		TxRef string      `json:"tx_ref"`
	} `json:"data"`
}

func (f *flutterwaveAdapter) Normalize(body []byte) (Normalized, error) {
	var payload flutterwavePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Normalized{}, ErrMalformedPayload
	}

	eventID := payload.Data.ID.String()
	if eventID == "" {
		eventID = payload.Data.TxRef
	}
	if eventID == "" {
		return Normalized{}, ErrMissingEventID
	}

	return Normalized{
		EventType: mapEvent(flutterwaveEventMap, Flutterwave, payload.Event),
		EventID:   eventID,
	}, nil
}
