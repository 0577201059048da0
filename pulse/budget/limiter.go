package budget

import (
	"sync"
	"time"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/errors"
)

// Limiter caps accepted submissions in any trailing window. A max of zero
// or less disables it.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	// accepted submission times, oldest first
	stamps []time.Time
}

// NewLimiter creates a limiter on the wall clock
func NewLimiter(n int, window time.Duration) *Limiter {
	return NewLimiterWithClock(n, window, time.Now)
}

// LimiterFromConfig paces submissions per hour from the budget section
func LimiterFromConfig(cfg am.BudgetConfig) *Limiter {
	return NewLimiter(cfg.MaxSubmissionsPerHour, time.Hour)
}

// NewLimiterWithClock creates a limiter reading time from now
func NewLimiterWithClock(n int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{max: n, window: window, now: now}
}

// Allow takes a slot or fails with ErrRateLimited, detailing when the next
// slot opens
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max <= 0 {
		return nil
	}

	now := l.now()
	l.expire(now)
	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return nil
	}

	err := errors.Wrapf(errors.ErrRateLimited, "%d submissions in the last %s (limit %d)", len(l.stamps), l.window, l.max)
	return errors.WithDetailf(err, "Next slot in %s", l.retryAfter(now).Round(time.Second))
}

// RetryAfter is how long until Allow can succeed, zero when a slot is free
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max <= 0 {
		return 0
	}
	now := l.now()
	l.expire(now)
	if len(l.stamps) < l.max {
		return 0
	}
	return l.retryAfter(now)
}

// retryAfter assumes the window is full; a lowered max may need several
// of the oldest stamps to expire
func (l *Limiter) retryAfter(now time.Time) time.Duration {
	oldest := l.stamps[len(l.stamps)-l.max]
	return oldest.Add(l.window).Sub(now)
}

func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Stats returns submissions in the current window and the slots left,
// or -1 slots when limiting is off
func (l *Limiter) Stats() (inWindow int, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expire(l.now())
	inWindow = len(l.stamps)
	if l.max <= 0 {
		return inWindow, -1
	}
	return inWindow, max(l.max-inWindow, 0)
}

// SetMax changes the limit. Submissions already in the window still count.
func (l *Limiter) SetMax(n int) {
	l.mu.Lock()
	l.max = n
	l.mu.Unlock()
}
