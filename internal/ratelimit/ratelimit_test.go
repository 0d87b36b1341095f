package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	base := time.Now()
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3}).
		WithClock(func() time.Time { return base })

	for i := 0; i < 3; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1}).
		WithClock(func() time.Time { return now })

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// 60 rpm = 1 token per second.
	now = now.Add(time.Second)
	if err := l.Allow("u1"); err != nil {
		t.Fatalf("request after refill rejected: %v", err)
	}
}

func TestAllow_UsersIsolated(t *testing.T) {
	base := time.Now()
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1}).
		WithClock(func() time.Time { return base })

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("u1 rejected: %v", err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected u1 rate limited, got %v", err)
	}
	if err := l.Allow("u2"); err != nil {
		t.Fatalf("u2 should be unaffected by u1's bucket: %v", err)
	}
}
