// Package catalog is the registry of canonical event types PayBridge can
// normalize provider webhooks into and fan out to subscribers.
package catalog

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// ErrUnknownType is returned when an event type is not in the catalog.
var ErrUnknownType = errors.New("catalog: unknown event type")

// Definition describes one canonical event type.
type Definition struct {
	// Name is the dot-separated canonical type, "<family>.<action>",
	// e.g. "payment.completed".
	Name string `json:"name"`

	// Description explains when this event fires.
	Description string `json:"description"`

	// Schema is an optional JSON Schema describing the payload shape.
	// When set, test sends validate their payload against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Example is an optional example payload for documentation and test sends.
	Example json.RawMessage `json:"example,omitempty"`
}

// Catalog holds the registered event type definitions.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]Definition
}

// New creates a catalog seeded with the built-in canonical types.
func New() *Catalog {
	c := &Catalog{types: make(map[string]Definition)}
	for _, def := range builtins {
		c.types[def.Name] = def
	}
	return c
}

// Register adds or replaces a definition.
func (c *Catalog) Register(def Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[def.Name] = def
}

// Get returns the definition for a canonical type name.
func (c *Catalog) Get(name string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.types[name]
	if !ok {
		return Definition{}, ErrUnknownType
	}
	return def, nil
}

// Has reports whether the catalog knows the type.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// List returns all definitions sorted by name, for the available-events API.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]Definition, 0, len(c.types))
	for _, def := range c.types {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// builtins are the canonical types the provider adapters normalize into.
var builtins = []Definition{
	{
		Name:        "payment.completed",
		Description: "A charge settled successfully.",
		Example:     json.RawMessage(`{"id":"ch_123","amount":5000,"currency":"NGN","reference":"ref_123"}`),
	},
	{
		Name:        "payment.failed",
		Description: "A charge was declined or errored.",
		Example:     json.RawMessage(`{"id":"ch_124","amount":5000,"currency":"NGN","failure_reason":"insufficient_funds"}`),
	},
	{
		Name:        "transfer.completed",
		Description: "An outbound transfer or payout settled.",
		Example:     json.RawMessage(`{"id":"trf_123","amount":10000,"currency":"NGN"}`),
	},
	{
		Name:        "transfer.failed",
		Description: "An outbound transfer or payout failed.",
		Example:     json.RawMessage(`{"id":"trf_124","amount":10000,"currency":"NGN","failure_reason":"invalid_account"}`),
	},
	{
		Name:        "subscription.created",
		Description: "A billing subscription was created.",
		Example:     json.RawMessage(`{"id":"bsub_123","plan":"pro"}`),
	},
	{
		Name:        "subscription.updated",
		Description: "A billing subscription changed.",
		Example:     json.RawMessage(`{"id":"bsub_123","plan":"enterprise"}`),
	},
	{
		Name:        "subscription.cancelled",
		Description: "A billing subscription was cancelled or disabled.",
		Example:     json.RawMessage(`{"id":"bsub_123"}`),
	},
	{
		Name:        "kyc.verified",
		Description: "An identity check passed and the account is linked.",
		Example:     json.RawMessage(`{"id":"acct_123","institution":"GTBank"}`),
	},
	{
		Name:        "kyc.updated",
		Description: "Linked account details changed.",
		Example:     json.RawMessage(`{"id":"acct_123"}`),
	},
	{
		Name:        "kyc.reauth_required",
		Description: "A linked account needs the customer to re-authorise access.",
		Example:     json.RawMessage(`{"id":"acct_123"}`),
	},
}
