package middleware

import (
	"sync"
	"time"
)

// RateLimiter gates code issuance per normalized email with two independent
// windows, by default 1 request/minute and 5 requests/hour. Each window is
// counted from the first request in it and the record is discarded once the
// window has fully elapsed, not on a fixed reset schedule.
//
// Constructed once at process start and handed to the handlers; no global
// state. The clock is injectable for tests.
type RateLimiter struct {
	mu     sync.Mutex
	minute map[string]*window
	hour   map[string]*window

	minuteLimit int
	hourLimit   int

	lastSweep time.Time
	now       func() time.Time
}

type window struct {
	start time.Time
	count int
}

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

func NewRateLimiter(minuteLimit, hourLimit int) *RateLimiter {
	return &RateLimiter{
		minute:      make(map[string]*window),
		hour:        make(map[string]*window),
		minuteLimit: minuteLimit,
		hourLimit:   hourLimit,
		now:         time.Now,
	}
}

// Allow reports whether a request for email may proceed, counting it against
// both windows when it may. On rejection retryAfter is how long the caller
// must wait until both windows admit a request.
func (rl *RateLimiter) Allow(email string) (retryAfter time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	minuteWait := check(rl.minute, email, rl.minuteLimit, minuteWindow, now)
	hourWait := check(rl.hour, email, rl.hourLimit, hourWindow, now)

	if minuteWait > 0 || hourWait > 0 {
		if hourWait > minuteWait {
			return hourWait, false
		}
		return minuteWait, false
	}

	bump(rl.minute, email, now)
	bump(rl.hour, email, now)
	return 0, true
}

// check returns 0 when the window admits another request, or the wait until
// it would. Stale records are discarded on the way.
func check(m map[string]*window, key string, limit int, dur time.Duration, now time.Time) time.Duration {
	w, exists := m[key]
	if !exists {
		return 0
	}
	if now.Sub(w.start) >= dur {
		delete(m, key)
		return 0
	}
	if w.count >= limit {
		return w.start.Add(dur).Sub(now)
	}
	return 0
}

func bump(m map[string]*window, key string, now time.Time) {
	if w, exists := m[key]; exists {
		w.count++
		return
	}
	m[key] = &window{start: now, count: 1}
}

// sweepLocked prunes fully elapsed records so abandoned emails do not
// accumulate. Runs at most once per hour window.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < hourWindow {
		return
	}
	rl.lastSweep = now
	for key, w := range rl.minute {
		if now.Sub(w.start) >= minuteWindow {
			delete(rl.minute, key)
		}
	}
	for key, w := range rl.hour {
		if now.Sub(w.start) >= hourWindow {
			delete(rl.hour, key)
		}
	}
}
