package delivery

import (
	"net/http"
	"time"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the delivery was successful (2xx).
	Delivered Decision = iota

	// Retry means a successor attempt should fire after the backoff.
	Retry

	// DeadLetter means the retry schedule is exhausted.
	DeadLetter

	// DisableSubscription means the endpoint reported itself gone (410) and
	// the subscription must stop receiving deliveries permanently.
	DisableSubscription
)

// DefaultRetrySchedule is the fixed backoff schedule indexed by attempt
// number: 1 min, 10 min, 1 hr, 6 hr, 24 hr.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	10 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

// Retrier decides what to do after a delivery attempt.
type Retrier struct {
	schedule []time.Duration
}

// NewRetrier creates a retrier with the given backoff schedule. A nil
// schedule uses DefaultRetrySchedule.
func NewRetrier(schedule []time.Duration) *Retrier {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &Retrier{schedule: schedule}
}

// MaxAttempts is the retry ceiling implied by the schedule length.
func (r *Retrier) MaxAttempts() int {
	return len(r.schedule)
}

// Decide determines what to do with an attempt after dispatch.
//
// Decision matrix:
//   - 2xx → Delivered
//   - 410 → DisableSubscription (the endpoint no longer exists)
//   - any other status, timeout, or connection error → Retry while attempts
//     remain, DeadLetter once the schedule is exhausted
func (r *Retrier) Decide(res Result, a *Attempt) Decision {
	code := res.StatusCode

	if code >= 200 && code < 300 {
		return Delivered
	}

	if code == http.StatusGone {
		return DisableSubscription
	}

	if a.AttemptNumber < r.MaxAttempts() {
		return Retry
	}
	return DeadLetter
}

// NextRetryAt returns when the successor of the given attempt should fire.
// The schedule is 1-indexed by attempt number.
func (r *Retrier) NextRetryAt(attemptNumber int) time.Time {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	return time.Now().UTC().Add(r.schedule[idx])
}
