// Package provider implements per-provider webhook verification and
// normalization for the payment/KYC providers PayBridge ingests from.
//
// Each provider is a closed variant behind the Adapter interface: it knows
// its signature scheme, its signature header, and how to map its native
// event names onto the canonical event vocabulary.
package provider

import (
	"errors"
	"fmt"
)

// Inbound verification/normalization errors. The receiver maps these onto
// HTTP statuses (401 for signature failures, 400 for payload failures).
var (
	// ErrUnknownProvider is returned when no adapter is registered under the
	// requested provider name.
	ErrUnknownProvider = errors.New("provider: unknown provider")

	// ErrMissingSignature is returned when the provider's signature header is
	// absent. Verification is never attempted with an empty value.
	ErrMissingSignature = errors.New("provider: missing signature header")

	// ErrInvalidSignature is returned when the signature check fails.
	ErrInvalidSignature = errors.New("provider: invalid signature")

	// ErrMalformedPayload is returned when the request body is not valid JSON.
	ErrMalformedPayload = errors.New("provider: malformed payload")

	// ErrMissingEventID is returned when no stable provider event id can be
	// extracted. An event without a stable identity cannot be deduplicated,
	// so it is rejected without being stored.
	ErrMissingEventID = errors.New("provider: missing event id")
)

// Name identifies a supported webhook provider.
type Name string

// Supported providers.
const (
	Paystack    Name = "paystack"
	Flutterwave Name = "flutterwave"
	Stripe      Name = "stripe"
	Mono        Name = "mono"
)

// Normalized is the canonical identity extracted from a provider payload.
type Normalized struct {
	// EventType is the canonical event type (e.g. "payment.completed").
	// Native events with no mapping become "{provider}.{native_event}" so
	// nothing is silently dropped.
	EventType string

	// EventID is the provider's stable event identifier, used as one half of
	// the (provider, event_id) idempotency key.
	EventID string
}

// Adapter verifies and normalizes webhooks for a single provider.
// Implementations are pure: they hold their secret but perform no I/O.
type Adapter interface {
	// Name returns the provider identifier used in routes and storage.
	Name() Name

	// SignatureHeader returns the HTTP header carrying the signature.
	SignatureHeader() string

	// Verify checks the signature over the raw request body.
	// Returns ErrMissingSignature when signature is empty, ErrInvalidSignature
	// when the check fails, nil when valid.
	Verify(body []byte, signature string) error

	// Normalize extracts the canonical event type and provider event id from
	// the raw JSON body.
	Normalize(body []byte) (Normalized, error)
}

// Registry holds the configured adapters, keyed by provider name.
type Registry struct {
	adapters map[Name]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Name]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name Name) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// Secrets configures every provider's verification secret.
type Secrets struct {
	// PaystackSecretKey signs Paystack webhooks (HMAC-SHA512).
	PaystackSecretKey string

	// FlutterwaveSecretHash is compared verbatim against the verif-hash header.
	FlutterwaveSecretHash string

	// StripeWebhookSecret signs the Stripe signed envelope (HMAC-SHA256).
	StripeWebhookSecret string

	// MonoSecretKey signs Mono webhooks (HMAC-SHA256).
	MonoSecretKey string
}

// DefaultRegistry builds a registry with all four supported providers.
func DefaultRegistry(secrets Secrets) *Registry {
	return NewRegistry(
		NewPaystack(secrets.PaystackSecretKey),
		NewFlutterwave(secrets.FlutterwaveSecretHash),
		NewStripe(secrets.StripeWebhookSecret),
		NewMono(secrets.MonoSecretKey),
	)
}
