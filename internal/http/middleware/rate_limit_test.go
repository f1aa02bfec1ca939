package middleware

import (
	"fmt"
	"testing"
	"time"
)

func newTestLimiter(minuteLimit, hourLimit int) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(minuteLimit, hourLimit)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	rl, now := newTestLimiter(1, 5)

	if _, ok := rl.Allow("test@example.com"); !ok {
		t.Fatal("first request must pass")
	}

	retryAfter, ok := rl.Allow("test@example.com")
	if ok {
		t.Fatal("second request within a minute must be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter %v outside (0, 60s]", retryAfter)
	}

	// 30 seconds in: still blocked, with the remaining wait reported.
	*now = now.Add(30 * time.Second)
	retryAfter, ok = rl.Allow("test@example.com")
	if ok {
		t.Fatal("request at 30s must be rejected")
	}
	if retryAfter != 30*time.Second {
		t.Fatalf("expected 30s wait, got %v", retryAfter)
	}

	// Window counted from the first request, so it reopens at t+60s.
	*now = now.Add(30 * time.Second)
	if _, ok := rl.Allow("test@example.com"); !ok {
		t.Fatal("request after the minute window must pass")
	}
}

func TestRateLimiter_HourWindow(t *testing.T) {
	rl, now := newTestLimiter(1, 5)

	for i := 0; i < 5; i++ {
		if _, ok := rl.Allow("test@example.com"); !ok {
			t.Fatalf("request %d must pass", i+1)
		}
		*now = now.Add(2 * time.Minute)
	}

	// Sixth request inside the hour: the hour window is the binding one,
	// so the wait exceeds a minute.
	retryAfter, ok := rl.Allow("test@example.com")
	if ok {
		t.Fatal("sixth request within an hour must be rejected")
	}
	if retryAfter != 50*time.Minute {
		t.Fatalf("expected 50m wait until the hour window reopens, got %v", retryAfter)
	}

	*now = now.Add(50 * time.Minute)
	if _, ok := rl.Allow("test@example.com"); !ok {
		t.Fatal("request after the hour window must pass")
	}
}

func TestRateLimiter_PerEmailIsolation(t *testing.T) {
	rl, _ := newTestLimiter(1, 5)

	if _, ok := rl.Allow("one@example.com"); !ok {
		t.Fatal("first email must pass")
	}
	if _, ok := rl.Allow("two@example.com"); !ok {
		t.Fatal("second email must not share the first one's window")
	}
	if _, ok := rl.Allow("one@example.com"); ok {
		t.Fatal("first email must still be limited")
	}
}

func TestRateLimiter_RecordDiscardedAfterWindow(t *testing.T) {
	rl, now := newTestLimiter(1, 5)

	rl.Allow("test@example.com")
	*now = now.Add(2 * time.Minute)

	// A check after the window discards the stale record entirely.
	if _, ok := rl.Allow("test@example.com"); !ok {
		t.Fatal("request after an elapsed window must pass")
	}
	rl.mu.Lock()
	w := rl.minute["test@example.com"]
	rl.mu.Unlock()
	if w == nil || w.count != 1 {
		t.Fatalf("expected a fresh record with count 1, got %+v", w)
	}
}

func TestRateLimiter_SweepPrunesAbandonedEmails(t *testing.T) {
	rl, now := newTestLimiter(1, 5)

	for i := 0; i < 100; i++ {
		rl.Allow(fmt.Sprintf("user%d@example.com", i))
	}

	*now = now.Add(2 * time.Hour)
	rl.Allow("fresh@example.com")

	rl.mu.Lock()
	minuteLen, hourLen := len(rl.minute), len(rl.hour)
	rl.mu.Unlock()
	if minuteLen != 1 || hourLen != 1 {
		t.Fatalf("stale records not swept: minute=%d hour=%d", minuteLen, hourLen)
	}
}
