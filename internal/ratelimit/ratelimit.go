// Package ratelimit provides a sliding-window limiter shared by all
// scan workers to bound outbound classification calls.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter admits at most calls acquisitions within any trailing
// period. Saturated callers sleep until the oldest call leaves the
// window instead of failing.
type Limiter struct {
	mu     sync.Mutex
	calls  int
	period time.Duration
	made   []time.Time
	logger *slog.Logger

	// now and sleep are replaceable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter admitting calls acquisitions per period.
func New(calls int, period time.Duration, logger *slog.Logger) *Limiter {
	if calls < 1 {
		calls = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		calls:  calls,
		period: period,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Acquire blocks until a call slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.trim(now)

		if len(l.made) < l.calls {
			l.made = append(l.made, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.period - now.Sub(l.made[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		l.logger.Warn("rate limit reached", "sleep", wait.Round(time.Millisecond))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight returns the number of acquisitions in the current window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.now())
	return len(l.made)
}

// trim drops timestamps that have left the window. Caller holds mu.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.made) && !l.made[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.made = append(l.made[:0], l.made[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
