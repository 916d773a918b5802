package subscription

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/signature"
)

// Service provides subscription management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new webhook subscription.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if in.Owner == "" {
		return nil, &ValidationError{Field: "owner", Message: "required"}
	}

	if len(in.SelectedEvents) == 0 {
		return nil, &ValidationError{Field: "selected_events", Message: "at least one event type required"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	sub := &Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          in.Owner,
		URL:            in.URL,
		Secret:         secret,
		SelectedEvents: in.SelectedEvents,
		Active:         true,
		Health:         HealthHealthy,
		RateLimit:      in.RateLimit,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID, "owner", sub.Owner, "url", sub.URL)
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		sub.URL = in.URL
	}
	if len(in.SelectedEvents) > 0 {
		sub.SelectedEvents = in.SelectedEvents
	}
	if in.RateLimit >= 0 {
		sub.RateLimit = in.RateLimit
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, opts)
}

// SetActive toggles a subscription. Re-enabling resets health to healthy so
// deliveries resume with a clean slate.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) error {
	return svc.store.SetActive(ctx, subID, active)
}

// RotateSecret generates a new signing secret for a subscription and returns
// it. The old secret stops validating immediately.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Secret = signature.GenerateSecret()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "subscription secret rotated", "subscription_id", subID)
	return sub.Secret, nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
