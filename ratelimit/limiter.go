package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter applies per-subscription token bucket rate limiting to outbound
// deliveries. Buckets are keyed by subscription ID and created lazily.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	rate     float64 // tokens per second
}

// New creates a rate limiter with no buckets.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a delivery to the subscription may proceed now.
// A rate of 0 or below means unlimited.
func (l *Limiter) Allow(subscriptionID string, rate int) bool {
	if rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(subscriptionID, float64(rate))
	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a delivery slot opens or the context is cancelled.
// A rate of 0 or below returns immediately.
func (l *Limiter) Wait(ctx context.Context, subscriptionID string, rate int) error {
	if rate <= 0 {
		return nil
	}

	for {
		if l.Allow(subscriptionID, rate) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(float64(time.Second) / float64(rate))):
			// Estimated time until the next token.
		}
	}
}

// Reset drops the bucket for a subscription, e.g. after its limit changes.
func (l *Limiter) Reset(subscriptionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, subscriptionID)
}

func (l *Limiter) bucketFor(subscriptionID string, rate float64) *bucket {
	b, ok := l.buckets[subscriptionID]
	if !ok {
		// New buckets start full so a burst up to the limit is allowed.
		b = &bucket{
			tokens:   rate,
			lastFill: time.Now(),
			rate:     rate,
		}
		l.buckets[subscriptionID] = b
	}
	return b
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate // burst size equals the rate
	}
	b.lastFill = now
}
