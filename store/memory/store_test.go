package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/dlq"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/internal/entity"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/stats"
	"github.com/paybridge/paybridge/store/memory"
	"github.com/paybridge/paybridge/subscription"
)

var eventSeq atomic.Int64

func newEvent(p provider.Name, eventType string) *ingest.Event {
	now := time.Now().UTC()
	return &ingest.Event{
		Entity:          entity.New(),
		ID:              id.NewEventID(),
		Provider:        p,
		ProviderEventID: strconv.FormatInt(eventSeq.Add(1), 10),
		CanonicalType:   eventType,
		RawPayload:      json.RawMessage(`{"event":"charge.success","data":{"amount":5000}}`),
		SignatureValid:  true,
		ReceivedAt:      now,
		Status:          ingest.StatusPending,
		NextProcessAt:   now,
	}
}

func newSub(owner, secret string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		Owner:          owner,
		URL:            "https://example.com/hook",
		Secret:         secret,
		SelectedEvents: []string{"payment.completed"},
		Active:         true,
		Health:         subscription.HealthHealthy,
	}
}

func newAttempt(subID, evtID id.ID, status delivery.Status, number int) *delivery.Attempt {
	return &delivery.Attempt{
		Entity:         entity.New(),
		ID:             id.NewAttemptID(),
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      "payment.completed",
		AttemptNumber:  number,
		Status:         status,
		NextAttemptAt:  time.Now().UTC().Add(-time.Second),
	}
}

func newEntry(subID id.ID, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		AttemptID:      id.NewAttemptID(),
		EventID:        id.NewEventID(),
		SubscriptionID: subID,
		EventType:      "payment.completed",
		Owner:          "acct_1",
		URL:            "https://example.com/hook",
		Payload:        json.RawMessage(`{"amount":5000}`),
		Error:          "service unavailable",
		AttemptCount:   5,
		LastStatusCode: 503,
		FailedAt:       failedAt,
	}
}

func TestCreateEventDedupe(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	winner := newEvent(provider.Paystack, "payment.completed")
	if err := st.CreateEvent(ctx, winner); err != nil {
		t.Fatalf("create: %v", err)
	}

	loser := newEvent(provider.Paystack, "payment.completed")
	loser.ProviderEventID = winner.ProviderEventID
	if err := st.CreateEvent(ctx, loser); !errors.Is(err, paybridge.ErrDuplicateEvent) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicateEvent", err)
	}

	got, err := st.GetEventByProviderID(ctx, provider.Paystack, winner.ProviderEventID)
	if err != nil {
		t.Fatalf("get by provider id: %v", err)
	}
	if got.ID.String() != winner.ID.String() {
		t.Errorf("idempotency key resolves to %s, want winner %s", got.ID, winner.ID)
	}

	// Same provider event ID under a different provider is a distinct event.
	other := newEvent(provider.Stripe, "payment.completed")
	other.ProviderEventID = winner.ProviderEventID
	if err := st.CreateEvent(ctx, other); err != nil {
		t.Errorf("cross-provider create err = %v", err)
	}
}

func TestGetEventUnknown(t *testing.T) {
	st := memory.New()
	if _, err := st.GetEvent(context.Background(), id.NewEventID()); !errors.Is(err, paybridge.ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}

func TestListEventsFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	paystack := newEvent(provider.Paystack, "payment.completed")
	stripe := newEvent(provider.Stripe, "transfer.completed")
	failed := newEvent(provider.Paystack, "payment.failed")
	failed.Status = ingest.StatusFailed
	for _, evt := range []*ingest.Event{paystack, stripe, failed} {
		if err := st.CreateEvent(ctx, evt); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	byProvider, err := st.ListEvents(ctx, ingest.ListOpts{Provider: provider.Paystack})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byProvider) != 2 {
		t.Errorf("provider filter = %d events, want 2", len(byProvider))
	}

	byType, _ := st.ListEvents(ctx, ingest.ListOpts{Type: "transfer.completed"})
	if len(byType) != 1 || byType[0].ID.String() != stripe.ID.String() {
		t.Errorf("type filter = %v", byType)
	}

	status := ingest.StatusFailed
	byStatus, _ := st.ListEvents(ctx, ingest.ListOpts{Status: &status})
	if len(byStatus) != 1 || byStatus[0].ID.String() != failed.ID.String() {
		t.Errorf("status filter = %v", byStatus)
	}

	page, _ := st.ListEvents(ctx, ingest.ListOpts{Limit: 2})
	if len(page) != 2 {
		t.Errorf("limit 2 = %d events", len(page))
	}
	rest, _ := st.ListEvents(ctx, ingest.ListOpts{Offset: 2})
	if len(rest) != 1 {
		t.Errorf("offset 2 = %d events, want 1", len(rest))
	}
	none, _ := st.ListEvents(ctx, ingest.ListOpts{Offset: 10})
	if len(none) != 0 {
		t.Errorf("offset past end = %d events, want 0", len(none))
	}
}

func TestClaimDue(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newEvent(provider.Paystack, "payment.completed")
	future := newEvent(provider.Paystack, "payment.completed")
	future.NextProcessAt = now.Add(time.Hour)
	retryable := newEvent(provider.Paystack, "payment.completed")
	retryable.Status = ingest.StatusFailed
	retryable.ProcessAttempts = 1
	exhausted := newEvent(provider.Paystack, "payment.completed")
	exhausted.Status = ingest.StatusFailed
	exhausted.ProcessAttempts = 3
	done := newEvent(provider.Paystack, "payment.completed")
	done.Status = ingest.StatusSucceeded

	for _, evt := range []*ingest.Event{due, future, retryable, exhausted, done} {
		if err := st.CreateEvent(ctx, evt); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := st.ClaimDue(ctx, now, 3, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d events, want 2 (due + retryable)", len(claimed))
	}
	for _, evt := range claimed {
		if evt.Status != ingest.StatusProcessing {
			t.Errorf("claimed event %s status = %q, want processing", evt.ID, evt.Status)
		}
	}

	// Claiming increments the attempt counter and makes the event invisible
	// to a second claim.
	stored, _ := st.GetEvent(ctx, due.ID)
	if stored.ProcessAttempts != 1 {
		t.Errorf("process attempts = %d, want 1", stored.ProcessAttempts)
	}
	again, _ := st.ClaimDue(ctx, now, 3, 10)
	if len(again) != 0 {
		t.Errorf("second claim = %d events, want 0", len(again))
	}
}

func TestEventTransitions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	evt := newEvent(provider.Paystack, "payment.completed")
	if err := st.CreateEvent(ctx, evt); err != nil {
		t.Fatalf("create: %v", err)
	}

	// pending -> succeeded skips processing and must be rejected.
	if err := st.MarkSucceeded(ctx, evt.ID, time.Now().UTC()); !errors.Is(err, paybridge.ErrInvalidTransition) {
		t.Fatalf("mark pending succeeded err = %v, want ErrInvalidTransition", err)
	}

	if _, err := st.ClaimDue(ctx, time.Now().UTC(), 3, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.MarkFailed(ctx, evt.ID, "ledger unavailable", time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stored, _ := st.GetEvent(ctx, evt.ID)
	if stored.Status != ingest.StatusFailed || stored.ProcessingError != "ledger unavailable" {
		t.Errorf("after failure: status=%q error=%q", stored.Status, stored.ProcessingError)
	}

	// Manual replay returns the event to pending and clears the counter.
	if err := st.ResetEvent(ctx, evt.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	stored, _ = st.GetEvent(ctx, evt.ID)
	if stored.Status != ingest.StatusPending || stored.ProcessAttempts != 0 {
		t.Errorf("after reset: status=%q attempts=%d", stored.Status, stored.ProcessAttempts)
	}

	// A pending event cannot be reset again.
	if err := st.ResetEvent(ctx, evt.ID); !errors.Is(err, paybridge.ErrInvalidTransition) {
		t.Errorf("reset pending err = %v, want ErrInvalidTransition", err)
	}
}

func TestSubscriptionSecretIndex(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first := newSub("acct_1", "whsec_aaa")
	if err := st.CreateSubscription(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	clash := newSub("acct_2", "whsec_aaa")
	if err := st.CreateSubscription(ctx, clash); !errors.Is(err, paybridge.ErrDuplicateSecret) {
		t.Fatalf("duplicate secret err = %v, want ErrDuplicateSecret", err)
	}

	second := newSub("acct_2", "whsec_bbb")
	if err := st.CreateSubscription(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Rotating onto a taken secret is rejected; onto a free one re-indexes.
	second.Secret = "whsec_aaa"
	if err := st.UpdateSubscription(ctx, second); !errors.Is(err, paybridge.ErrDuplicateSecret) {
		t.Fatalf("update to taken secret err = %v, want ErrDuplicateSecret", err)
	}
	second.Secret = "whsec_ccc"
	if err := st.UpdateSubscription(ctx, second); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Deleting frees the secret for reuse.
	if err := st.DeleteSubscription(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	reuse := newSub("acct_3", "whsec_aaa")
	if err := st.CreateSubscription(ctx, reuse); err != nil {
		t.Errorf("reuse freed secret err = %v", err)
	}
}

func TestMatch(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	subscribed := newSub("acct_1", "whsec_aaa")
	inactive := newSub("acct_2", "whsec_bbb")
	inactive.Active = false
	other := newSub("acct_3", "whsec_ccc")
	other.SelectedEvents = []string{"transfer.completed"}
	for _, sub := range []*subscription.Subscription{subscribed, inactive, other} {
		if err := st.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	matched, err := st.Match(ctx, "payment.completed")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matched) != 1 || matched[0].ID.String() != subscribed.ID.String() {
		t.Errorf("match = %v, want only the active subscriber", matched)
	}
}

func TestDeliveryHealthTracking(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	sub := newSub("acct_1", "whsec_aaa")
	if err := st.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := st.RecordDeliveryFailure(ctx, sub.ID, now, false); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if sub.Health != subscription.HealthDegraded {
		t.Errorf("after retryable failure health = %q, want degraded", sub.Health)
	}

	if err := st.RecordDeliveryFailure(ctx, sub.ID, now, true); err != nil {
		t.Fatalf("record dead letter: %v", err)
	}
	if sub.Health != subscription.HealthFailing || sub.FailureCount != 1 {
		t.Errorf("after dead letter: health=%q failures=%d", sub.Health, sub.FailureCount)
	}

	if err := st.RecordDeliverySuccess(ctx, sub.ID, now); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if sub.Health != subscription.HealthHealthy || sub.SuccessCount != 1 {
		t.Errorf("after success: health=%q successes=%d", sub.Health, sub.SuccessCount)
	}
	if sub.LastDeliveryAt == nil {
		t.Error("LastDeliveryAt not stamped")
	}

	// A disabled subscription never drifts back into the live states from
	// delivery outcomes of in-flight attempts.
	if err := st.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := st.RecordDeliveryFailure(ctx, sub.ID, now, true); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if sub.Health != subscription.HealthDisabled {
		t.Errorf("disabled sub health = %q after failure, want disabled", sub.Health)
	}
}

func TestDequeueClaims(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	a := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusPending, 1)
	future := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusPending, 1)
	future.NextAttemptAt = time.Now().UTC().Add(time.Hour)
	if err := st.EnqueueBatch(ctx, []*delivery.Attempt{a, future}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := st.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID.String() != a.ID.String() {
		t.Fatalf("dequeue = %v, want only the due attempt", claimed)
	}

	// Claimed attempts stay invisible until the outcome is written.
	again, _ := st.Dequeue(ctx, 10)
	if len(again) != 0 {
		t.Fatalf("second dequeue = %d attempts, want 0", len(again))
	}

	done := time.Now().UTC()
	claimed[0].Status = delivery.StatusSuccess
	claimed[0].CompletedAt = &done
	if err := st.UpdateAttempt(ctx, claimed[0]); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The claim is released but the attempt is terminal, so the queue
	// stays empty.
	final, _ := st.Dequeue(ctx, 10)
	if len(final) != 0 {
		t.Errorf("dequeue after completion = %d attempts, want 0", len(final))
	}
}

func TestUpdateAttemptTransitions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	a := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusPending, 1)
	if err := st.Enqueue(ctx, a); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Writing the same status back is a plain update, not a transition.
	same := *a
	same.ErrorMessage = "still waiting"
	if err := st.UpdateAttempt(ctx, &same); err != nil {
		t.Fatalf("same-status update: %v", err)
	}

	succeeded := *a
	succeeded.Status = delivery.StatusSuccess
	if err := st.UpdateAttempt(ctx, &succeeded); err != nil {
		t.Fatalf("pending -> success: %v", err)
	}

	reopened := succeeded
	reopened.Status = delivery.StatusPending
	if err := st.UpdateAttempt(ctx, &reopened); !errors.Is(err, paybridge.ErrInvalidTransition) {
		t.Errorf("success -> pending err = %v, want ErrInvalidTransition", err)
	}

	missing := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusPending, 1)
	if err := st.UpdateAttempt(ctx, missing); !errors.Is(err, paybridge.ErrAttemptNotFound) {
		t.Errorf("unknown attempt err = %v, want ErrAttemptNotFound", err)
	}
}

func TestUpdateAttemptRejectsSecondSuccess(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	subID := id.NewSubscriptionID()
	evtID := id.NewEventID()
	first := newAttempt(subID, evtID, delivery.StatusPending, 1)
	second := newAttempt(subID, evtID, delivery.StatusPending, 2)
	for _, a := range []*delivery.Attempt{first, second} {
		if err := st.Enqueue(ctx, a); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	won := *first
	won.Status = delivery.StatusSuccess
	if err := st.UpdateAttempt(ctx, &won); err != nil {
		t.Fatalf("first success: %v", err)
	}

	// A second success for the same (subscription, event) pair is rejected.
	dup := *second
	dup.Status = delivery.StatusSuccess
	if err := st.UpdateAttempt(ctx, &dup); !errors.Is(err, paybridge.ErrAlreadyDelivered) {
		t.Errorf("second success err = %v, want ErrAlreadyDelivered", err)
	}

	// Re-writing the winning attempt itself stays allowed.
	won.ErrorMessage = ""
	if err := st.UpdateAttempt(ctx, &won); err != nil {
		t.Errorf("rewrite of winning attempt: %v", err)
	}

	// The pair for another subscription is unaffected.
	other := newAttempt(id.NewSubscriptionID(), evtID, delivery.StatusPending, 1)
	if err := st.Enqueue(ctx, other); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	otherWon := *other
	otherWon.Status = delivery.StatusSuccess
	if err := st.UpdateAttempt(ctx, &otherWon); err != nil {
		t.Errorf("success for other subscription: %v", err)
	}
}

func TestHasSuccessAndSuccessor(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	subID := id.NewSubscriptionID()
	evtID := id.NewEventID()
	first := newAttempt(subID, evtID, delivery.StatusFailed, 1)
	if err := st.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if ok, _ := st.HasSuccess(ctx, subID, evtID); ok {
		t.Error("HasSuccess = true with only a failed attempt")
	}
	if ok, _ := st.HasSuccessor(ctx, first); ok {
		t.Error("HasSuccessor = true with no later attempt")
	}

	second := newAttempt(subID, evtID, delivery.StatusSuccess, 2)
	if err := st.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if ok, _ := st.HasSuccess(ctx, subID, evtID); !ok {
		t.Error("HasSuccess = false after a successful attempt")
	}
	if ok, _ := st.HasSuccessor(ctx, first); !ok {
		t.Error("HasSuccessor = false with attempt 2 present")
	}
	if ok, _ := st.HasSuccess(ctx, id.NewSubscriptionID(), evtID); ok {
		t.Error("HasSuccess leaks across subscriptions")
	}
}

func TestListCompletedInWindow(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	subID := id.NewSubscriptionID()
	from := time.Now().UTC().Truncate(time.Hour)
	to := from.Add(time.Hour)

	inWindow := newAttempt(subID, id.NewEventID(), delivery.StatusSuccess, 1)
	inWindow.CreatedAt = from.Add(time.Minute)
	atBoundary := newAttempt(subID, id.NewEventID(), delivery.StatusFailed, 1)
	atBoundary.CreatedAt = to
	before := newAttempt(subID, id.NewEventID(), delivery.StatusSuccess, 1)
	before.CreatedAt = from.Add(-time.Minute)
	running := newAttempt(subID, id.NewEventID(), delivery.StatusPending, 1)
	running.CreatedAt = from.Add(time.Minute)
	if err := st.EnqueueBatch(ctx, []*delivery.Attempt{inWindow, atBoundary, before, running}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	completed, err := st.ListCompletedInWindow(ctx, subID, from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(completed) != 1 || completed[0].ID.String() != inWindow.ID.String() {
		t.Errorf("window [from, to) = %d attempts, want only the in-window terminal one", len(completed))
	}
}

func TestFindMissedRetries(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusFailed, 1)
	past := now.Add(-time.Minute)
	overdue.NextRetryAt = &past

	upcoming := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusFailed, 1)
	futureAt := now.Add(time.Hour)
	upcoming.NextRetryAt = &futureAt

	terminal := newAttempt(id.NewSubscriptionID(), id.NewEventID(), delivery.StatusFailed, 1)

	if err := st.EnqueueBatch(ctx, []*delivery.Attempt{overdue, upcoming, terminal}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	missed, err := st.FindMissedRetries(ctx, now, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(missed) != 1 || missed[0].ID.String() != overdue.ID.String() {
		t.Errorf("missed retries = %d, want only the overdue attempt", len(missed))
	}
}

func TestDLQReplay(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	entry := newEntry(id.NewSubscriptionID(), time.Now().UTC())
	if err := st.Push(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	if err := st.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	stored, _ := st.GetDLQ(ctx, entry.ID)
	if stored.ReplayedAt == nil {
		t.Error("ReplayedAt not stamped")
	}

	// The replay continues the pair's numbering past the dead-lettered
	// attempt.
	attempts, _ := st.ListByEvent(ctx, entry.EventID)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	replayed := attempts[0]
	if replayed.Status != delivery.StatusPending || replayed.AttemptNumber != entry.AttemptCount+1 {
		t.Errorf("replayed attempt: status=%q number=%d, want pending %d",
			replayed.Status, replayed.AttemptNumber, entry.AttemptCount+1)
	}

	if err := st.Replay(ctx, id.NewDLQID()); !errors.Is(err, paybridge.ErrDLQNotFound) {
		t.Errorf("unknown entry err = %v, want ErrDLQNotFound", err)
	}
}

func TestDLQReplayBulk(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := st.Push(ctx, newEntry(id.NewSubscriptionID(), now.Add(-time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	outside := newEntry(id.NewSubscriptionID(), now.Add(-time.Hour))
	if err := st.Push(ctx, outside); err != nil {
		t.Fatalf("push: %v", err)
	}

	count, err := st.ReplayBulk(ctx, now.Add(-10*time.Minute), now)
	if err != nil {
		t.Fatalf("replay bulk: %v", err)
	}
	if count != 3 {
		t.Errorf("replayed = %d, want 3", count)
	}

	// Replayed entries are skipped on a second pass.
	count, _ = st.ReplayBulk(ctx, now.Add(-10*time.Minute), now)
	if count != 0 {
		t.Errorf("second pass replayed = %d, want 0", count)
	}
}

func TestDLQPurge(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	old := newEntry(id.NewSubscriptionID(), now.Add(-48*time.Hour))
	recent := newEntry(id.NewSubscriptionID(), now)
	for _, e := range []*dlq.Entry{old, recent} {
		if err := st.Push(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	count, err := st.Purge(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if count != 1 {
		t.Errorf("purged = %d, want 1", count)
	}
	if total, _ := st.CountDLQ(ctx); total != 1 {
		t.Errorf("remaining = %d, want 1", total)
	}
	if _, err := st.GetDLQ(ctx, old.ID); !errors.Is(err, paybridge.ErrDLQNotFound) {
		t.Errorf("purged entry still readable: %v", err)
	}
}

func TestListDLQFilters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	subID := id.NewSubscriptionID()
	mine := newEntry(subID, now)
	theirs := newEntry(id.NewSubscriptionID(), now)
	theirs.Owner = "acct_2"
	theirs.EventType = "transfer.failed"
	for _, e := range []*dlq.Entry{mine, theirs} {
		if err := st.Push(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	tests := []struct {
		name string
		opts dlq.ListOpts
		want int
	}{
		{"all", dlq.ListOpts{}, 2},
		{"by owner", dlq.ListOpts{Owner: "acct_2"}, 1},
		{"by subscription", dlq.ListOpts{SubscriptionID: &subID}, 1},
		{"by event type", dlq.ListOpts{EventType: "transfer.failed"}, 1},
		{"no match", dlq.ListOpts{Owner: "acct_9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.ListDLQ(ctx, tt.opts)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("entries = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestUpsertWindowReplaces(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	subID := id.NewSubscriptionID()
	period := time.Now().UTC().Truncate(time.Hour)

	first := &stats.Window{Entity: entity.New(), SubscriptionID: subID, PeriodStart: period, TotalDeliveries: 5, Successful: 3}
	if err := st.UpsertWindow(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second := &stats.Window{Entity: entity.New(), SubscriptionID: subID, PeriodStart: period, TotalDeliveries: 8, Successful: 8}
	if err := st.UpsertWindow(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	windows, err := st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &subID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("windows = %d, want 1 after re-aggregation", len(windows))
	}
	if windows[0].TotalDeliveries != 8 {
		t.Errorf("total = %d, want the replacement's 8", windows[0].TotalDeliveries)
	}

	other := &stats.Window{Entity: entity.New(), SubscriptionID: subID, PeriodStart: period.Add(time.Hour), TotalDeliveries: 1}
	if err := st.UpsertWindow(ctx, other); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	from := period.Add(30 * time.Minute)
	later, _ := st.ListWindows(ctx, stats.ListOpts{SubscriptionID: &subID, From: &from})
	if len(later) != 1 || !later[0].PeriodStart.Equal(period.Add(time.Hour)) {
		t.Errorf("from filter = %v", later)
	}
}

func TestCloseRejectsPing(t *testing.T) {
	st := memory.New()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping open store: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.Ping(context.Background()); !errors.Is(err, paybridge.ErrStoreClosed) {
		t.Errorf("ping closed store err = %v, want ErrStoreClosed", err)
	}
}
