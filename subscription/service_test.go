package subscription_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/store/memory"
	"github.com/paybridge/paybridge/subscription"
)

func newService(st *memory.Store) *subscription.Service {
	return subscription.NewService(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validInput() subscription.Input {
	return subscription.Input{
		Owner:          "acct_1",
		URL:            "https://example.com/hook",
		SelectedEvents: []string{"payment.completed"},
	}
}

func TestCreate(t *testing.T) {
	svc := newService(memory.New())

	sub, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if sub.ID.IsNil() {
		t.Error("ID not assigned")
	}
	if !sub.Active {
		t.Error("new subscriptions start active")
	}
	if sub.Health != subscription.HealthHealthy {
		t.Errorf("Health = %q, want healthy", sub.Health)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Errorf("generated secret %q missing whsec_ prefix", sub.Secret)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService(memory.New())

	tests := []struct {
		name   string
		mutate func(*subscription.Input)
		field  string
	}{
		{"bad url", func(in *subscription.Input) { in.URL = "not a url" }, "url"},
		{"empty url", func(in *subscription.Input) { in.URL = "" }, "url"},
		{"no owner", func(in *subscription.Input) { in.Owner = "" }, "owner"},
		{"no events", func(in *subscription.Input) { in.SelectedEvents = nil }, "selected_events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var verr *subscription.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestCreateKeepsProvidedSecret(t *testing.T) {
	svc := newService(memory.New())

	in := validInput()
	in.Secret = "whsec_custom_secret"
	sub, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Secret != "whsec_custom_secret" {
		t.Errorf("Secret = %q", sub.Secret)
	}
}

func TestCreateDuplicateSecret(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	in := validInput()
	in.Secret = "whsec_shared"
	if _, err := svc.Create(ctx, in); err != nil {
		t.Fatalf("first create: %v", err)
	}

	if _, err := svc.Create(ctx, in); !errors.Is(err, paybridge.ErrDuplicateSecret) {
		t.Errorf("err = %v, want ErrDuplicateSecret", err)
	}
}

func TestUpdate(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, sub.ID, subscription.Input{
		URL:            "https://example.com/v2/hook",
		SelectedEvents: []string{"payment.completed", "transfer.completed"},
		RateLimit:      10,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.URL != "https://example.com/v2/hook" {
		t.Errorf("URL = %q", updated.URL)
	}
	if len(updated.SelectedEvents) != 2 {
		t.Errorf("SelectedEvents = %v", updated.SelectedEvents)
	}
	if updated.RateLimit != 10 {
		t.Errorf("RateLimit = %d", updated.RateLimit)
	}
	if updated.Secret != sub.Secret {
		t.Error("update must not touch the secret")
	}
}

func TestUpdateUnknown(t *testing.T) {
	svc := newService(memory.New())

	_, err := svc.Update(context.Background(), id.NewSubscriptionID(), validInput())
	if !errors.Is(err, paybridge.ErrSubscriptionNotFound) {
		t.Errorf("err = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, sub.ID); !errors.Is(err, paybridge.ErrSubscriptionNotFound) {
		t.Errorf("get after delete: err = %v", err)
	}
}

func TestSetActive(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := svc.Get(ctx, sub.ID)
	if got.Active || got.Health != subscription.HealthDisabled {
		t.Errorf("after disable: active=%v health=%q", got.Active, got.Health)
	}

	// Re-enabling resets health so deliveries resume cleanly.
	if err := svc.SetActive(ctx, sub.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = svc.Get(ctx, sub.ID)
	if !got.Active || got.Health != subscription.HealthHealthy {
		t.Errorf("after enable: active=%v health=%q", got.Active, got.Health)
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rotated, err := svc.RotateSecret(ctx, sub.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated == sub.Secret {
		t.Error("rotation must change the secret")
	}
	if !strings.HasPrefix(rotated, "whsec_") {
		t.Errorf("rotated secret %q missing whsec_ prefix", rotated)
	}

	got, _ := svc.Get(ctx, sub.ID)
	if got.Secret != rotated {
		t.Error("store not updated with rotated secret")
	}
}

func TestList(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	for _, owner := range []string{"acct_1", "acct_1", "acct_2"} {
		in := validInput()
		in.Owner = owner
		if _, err := svc.Create(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := svc.List(ctx, subscription.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	owned, err := svc.List(ctx, subscription.ListOpts{Owner: "acct_1"})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("owned = %d, want 2", len(owned))
	}
}

func TestHealthTransitions(t *testing.T) {
	tests := []struct {
		from, to subscription.Health
		want     bool
	}{
		{subscription.HealthHealthy, subscription.HealthDegraded, true},
		{subscription.HealthHealthy, subscription.HealthHealthy, true},
		{subscription.HealthDegraded, subscription.HealthFailing, true},
		{subscription.HealthDegraded, subscription.HealthHealthy, true},
		{subscription.HealthFailing, subscription.HealthHealthy, true},
		{subscription.HealthFailing, subscription.HealthDisabled, true},
		{subscription.HealthDisabled, subscription.HealthHealthy, true},
		{subscription.HealthDisabled, subscription.HealthDegraded, false},
		{subscription.HealthDisabled, subscription.HealthFailing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubscribed(t *testing.T) {
	sub := &subscription.Subscription{SelectedEvents: []string{"payment.completed", "kyc.verified"}}

	if !sub.Subscribed("payment.completed") {
		t.Error("selected type not matched")
	}
	if sub.Subscribed("transfer.failed") {
		t.Error("unselected type matched")
	}
}
