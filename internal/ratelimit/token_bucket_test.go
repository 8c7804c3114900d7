package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucket_StartsFull(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("Allow #%d=false, bucket should start full", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("Allow succeeded on empty bucket")
	}
}

func TestTokenBucket_RefillsAtRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clock, 10, 2)

	if !b.Allow(10) {
		t.Fatalf("drain failed")
	}
	if b.Allow(1) {
		t.Fatalf("Allow succeeded with zero tokens")
	}

	clock.advance(500 * time.Millisecond) // 1 token at 2/sec
	if !b.Allow(1) {
		t.Fatalf("expected 1 token after 500ms")
	}
	if b.Allow(1) {
		t.Fatalf("expected no second token after 500ms")
	}

	clock.advance(time.Hour)
	if !b.Allow(10) {
		t.Fatalf("bucket should clamp back to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("bucket refilled beyond capacity")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("drain failed")
	}

	clock.now = time.Unix(500, 0)
	if b.Allow(1) {
		t.Fatalf("backwards clock must not refill")
	}

	clock.now = time.Unix(501, 0)
	if !b.Allow(1) {
		t.Fatalf("refill should resume from the re-anchored time")
	}
}

func TestTokenBucket_NonPositiveCostAlwaysAllowed(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(0, 0)}, 0, 0)
	if !b.Allow(0) || !b.Allow(-5) {
		t.Fatalf("non-positive cost must always be allowed")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket allowed a token")
	}
}
