// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package upstream

import (
	"context"
	"sync"
	"time"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// Limiter enforces a call budget of max requests per trailing window.
// Acquire blocks until a slot frees up, so concurrent fetch workers
// sharing one Limiter can never exceed the upstream ceiling in aggregate.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter allowing max calls per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// NewLimiterWithClock creates a limiter with an injected clock and sleep,
// for deterministic tests.
func NewLimiterWithClock(max int, window time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *Limiter {
	return &Limiter{max: max, window: window, now: now, sleep: sleep}
}

// Acquire blocks until a call slot is available within the trailing
// window or ctx expires, in which case it returns a rate-limit timeout.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return lcerr.Wrap(err, lcerr.CodeUpstreamRateLimitTimeout,
				"timed out waiting for a rate limit slot")
		}
	}
}

// tryAcquire records a call if the budget allows and returns how long to
// wait otherwise.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) < l.max {
		l.calls = append(l.calls, now)
		return 0, true
	}

	// Oldest call in the window decides when the next slot opens.
	wait := l.window - now.Sub(l.calls[0]) + 10*time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

// InFlight returns how many calls are currently counted in the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
