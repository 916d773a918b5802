package subscription

// Input is the creation/update payload for subscriptions.
type Input struct {
	// Owner identifies the principal that registers this endpoint.
	Owner string `json:"owner"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// SelectedEvents is the set of canonical event types to receive.
	SelectedEvents []string `json:"selected_events"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`
}
