package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/paybridge/paybridge/ratelimit"
)

func TestAllowUnlimited(t *testing.T) {
	l := ratelimit.New()

	for i := 0; i < 1000; i++ {
		if !l.Allow("sub_1", 0) {
			t.Fatal("rate 0 must never limit")
		}
	}
	if !l.Allow("sub_1", -5) {
		t.Fatal("negative rate must never limit")
	}
}

func TestAllowBurstThenLimit(t *testing.T) {
	l := ratelimit.New()

	// A fresh bucket holds a full burst equal to the rate.
	for i := 0; i < 5; i++ {
		if !l.Allow("sub_1", 5) {
			t.Fatalf("burst request %d denied", i)
		}
	}
	if l.Allow("sub_1", 5) {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestAllowRefills(t *testing.T) {
	l := ratelimit.New()

	// Drain the bucket.
	for l.Allow("sub_1", 50) {
	}

	// At 50/s a token appears within ~20ms.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l.Allow("sub_1", 50) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bucket never refilled")
}

func TestAllowIsolatesSubscriptions(t *testing.T) {
	l := ratelimit.New()

	for l.Allow("sub_1", 3) {
	}
	if !l.Allow("sub_2", 3) {
		t.Fatal("draining one subscription must not affect another")
	}
}

func TestReset(t *testing.T) {
	l := ratelimit.New()

	for l.Allow("sub_1", 2) {
	}
	l.Reset("sub_1")

	// A reset bucket starts full again.
	if !l.Allow("sub_1", 2) {
		t.Fatal("reset should restore the burst")
	}
}

func TestWaitUnlimited(t *testing.T) {
	l := ratelimit.New()

	if err := l.Wait(context.Background(), "sub_1", 0); err != nil {
		t.Fatalf("Wait with rate 0: %v", err)
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	l := ratelimit.New()

	for l.Allow("sub_1", 100) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "sub_1", 100); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait took longer than the refill interval allows")
	}
}

func TestWaitCancelled(t *testing.T) {
	l := ratelimit.New()

	for l.Allow("sub_1", 1) {
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx, "sub_1", 1); err == nil {
		t.Fatal("Wait should return the context error after cancellation")
	}
}
