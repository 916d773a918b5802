package delivery_test

import (
	"testing"
	"time"

	"github.com/paybridge/paybridge/delivery"
)

func TestRetrierDecide(t *testing.T) {
	schedule := []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute}
	retrier := delivery.NewRetrier(schedule)

	tests := []struct {
		name    string
		result  delivery.Result
		attempt *delivery.Attempt
		want    delivery.Decision
	}{
		{
			name:    "200 OK -> Delivered",
			result:  delivery.Result{StatusCode: 200},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Delivered,
		},
		{
			name:    "201 Created -> Delivered",
			result:  delivery.Result{StatusCode: 201},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Delivered,
		},
		{
			name:    "204 No Content -> Delivered",
			result:  delivery.Result{StatusCode: 204},
			attempt: &delivery.Attempt{AttemptNumber: 3},
			want:    delivery.Delivered,
		},
		{
			name:    "299 -> Delivered",
			result:  delivery.Result{StatusCode: 299},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Delivered,
		},
		{
			name:    "410 Gone -> DisableSubscription",
			result:  delivery.Result{StatusCode: 410},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.DisableSubscription,
		},
		{
			name:    "410 Gone on last attempt still disables",
			result:  delivery.Result{StatusCode: 410},
			attempt: &delivery.Attempt{AttemptNumber: 3},
			want:    delivery.DisableSubscription,
		},
		{
			name:    "400 Bad Request -> Retry (fixed schedule covers 4xx)",
			result:  delivery.Result{StatusCode: 400},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Retry,
		},
		{
			name:    "429 Too Many Requests -> Retry",
			result:  delivery.Result{StatusCode: 429},
			attempt: &delivery.Attempt{AttemptNumber: 2},
			want:    delivery.Retry,
		},
		{
			name:    "500 Internal Server Error -> Retry",
			result:  delivery.Result{StatusCode: 500},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Retry,
		},
		{
			name:    "500 -> DeadLetter (schedule exhausted)",
			result:  delivery.Result{StatusCode: 500},
			attempt: &delivery.Attempt{AttemptNumber: 3},
			want:    delivery.DeadLetter,
		},
		{
			name:    "404 -> DeadLetter (schedule exhausted)",
			result:  delivery.Result{StatusCode: 404},
			attempt: &delivery.Attempt{AttemptNumber: 3},
			want:    delivery.DeadLetter,
		},
		{
			name:    "0 (connection error) -> Retry",
			result:  delivery.Result{StatusCode: 0, Error: "connection refused"},
			attempt: &delivery.Attempt{AttemptNumber: 1},
			want:    delivery.Retry,
		},
		{
			name:    "0 (timeout) -> DeadLetter (schedule exhausted)",
			result:  delivery.Result{StatusCode: 0, Error: "context deadline exceeded"},
			attempt: &delivery.Attempt{AttemptNumber: 3},
			want:    delivery.DeadLetter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retrier.Decide(tt.result, tt.attempt)
			if got != tt.want {
				t.Errorf("Decide() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetrierNextRetryAt(t *testing.T) {
	retrier := delivery.NewRetrier(nil) // default schedule

	tests := []struct {
		name          string
		attemptNumber int
		wantDelay     time.Duration
	}{
		{"attempt 1 -> 1m", 1, time.Minute},
		{"attempt 2 -> 10m", 2, 10 * time.Minute},
		{"attempt 3 -> 1h", 3, time.Hour},
		{"attempt 4 -> 6h", 4, 6 * time.Hour},
		{"attempt 5 -> 24h", 5, 24 * time.Hour},
		{"attempt 10 -> 24h (capped at last)", 10, 24 * time.Hour},
		{"attempt 0 -> 1m (floored at first)", 0, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			next := retrier.NextRetryAt(tt.attemptNumber)
			after := time.Now().UTC()

			expectedMin := before.Add(tt.wantDelay)
			expectedMax := after.Add(tt.wantDelay)

			if next.Before(expectedMin.Add(-time.Millisecond)) || next.After(expectedMax.Add(time.Millisecond)) {
				t.Errorf("NextRetryAt(%d) = %v, expected between %v and %v",
					tt.attemptNumber, next, expectedMin, expectedMax)
			}
		})
	}
}

func TestRetrierMaxAttempts(t *testing.T) {
	if got := delivery.NewRetrier(nil).MaxAttempts(); got != 5 {
		t.Errorf("default MaxAttempts() = %d, want 5", got)
	}
	if got := delivery.NewRetrier([]time.Duration{time.Second}).MaxAttempts(); got != 1 {
		t.Errorf("MaxAttempts() = %d, want 1", got)
	}
}

func TestNewRetryAttempt(t *testing.T) {
	prev := &delivery.Attempt{
		AttemptNumber: 2,
		Status:        delivery.StatusFailed,
		EventType:     "payment.completed",
	}
	fireAt := time.Now().UTC().Add(time.Minute)

	next := delivery.NewRetryAttempt(prev, fireAt)
	if next.AttemptNumber != 3 {
		t.Errorf("AttemptNumber = %d, want 3", next.AttemptNumber)
	}
	if next.Status != delivery.StatusPending {
		t.Errorf("Status = %s, want pending", next.Status)
	}
	if !next.NextAttemptAt.Equal(fireAt) {
		t.Errorf("NextAttemptAt = %v, want %v", next.NextAttemptAt, fireAt)
	}
	if next.EventType != prev.EventType {
		t.Errorf("EventType = %q, want %q", next.EventType, prev.EventType)
	}
	if next.ID.IsNil() || next.ID.String() == prev.ID.String() {
		t.Error("successor must get a fresh ID")
	}
}
