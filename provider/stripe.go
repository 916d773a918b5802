package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// stripeSignatureTolerance bounds how old a signed envelope timestamp may be.
// Mirrors the tolerance Stripe's own SDKs apply.
const stripeSignatureTolerance = 5 * time.Minute

// stripeAdapter verifies and normalizes Stripe webhooks.
// Stripe sends a signed envelope in the Stripe-Signature header:
// "t=<unix ts>,v1=<hex hmac>" where the HMAC-SHA256 input is "{t}.{body}".
type stripeAdapter struct {
	secret string
	now    func() time.Time
}

// NewStripe creates the Stripe adapter.
func NewStripe(secret string) Adapter {
	return &stripeAdapter{secret: secret, now: time.Now}
}

func (s *stripeAdapter) Name() Name { return Stripe }

func (s *stripeAdapter) SignatureHeader() string { return "Stripe-Signature" }

func (s *stripeAdapter) Verify(body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	ts, candidates, err := parseStripeSignature(signature)
	if err != nil {
		return err
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// parseStripeSignature splits "t=...,v1=...,v1=..." into the timestamp and
// the v1 signature candidates.
func parseStripeSignature(header string) (int64, []string, error) {
	var (
		ts         int64
		candidates []string
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if ts == 0 || len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}
	return ts, candidates, nil
}

// stripeEventMap maps Stripe native events to canonical types.
var stripeEventMap = map[string]string{
	"payment_intent.succeeded":      "payment.completed",
	"payment_intent.payment_failed": "payment.failed",
	"charge.succeeded":              "payment.completed",
	"charge.failed":                 "payment.failed",
	"customer.subscription.created": "subscription.created",
	"customer.subscription.updated": "subscription.updated",
	"customer.subscription.deleted": "subscription.cancelled",
	"payout.paid":                   "transfer.completed",
	"payout.failed":                 "transfer.failed",
}

type stripePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (s *stripeAdapter) Normalize(body []byte) (Normalized, error) {
	var payload stripePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Normalized{}, ErrMalformedPayload
	}

	if payload.ID == "" {
		return Normalized{}, ErrMissingEventID
	}

	return Normalized{
		EventType: mapEvent(stripeEventMap, Stripe, payload.Type),
		EventID:   payload.ID,
	}, nil
}
