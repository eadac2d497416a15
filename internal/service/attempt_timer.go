package service

import (
	"context"
	"sync"
	"time"
)

// DeadlineFunc returns the persisted deadline of an attempt, or false when
// the attempt is untimed.
type DeadlineFunc func() (time.Time, bool)

// AttemptTimer counts down to a deadline it re-reads on every tick, and
// calls onExpire exactly once when the deadline passes.
type AttemptTimer struct {
	interval time.Duration
	deadline DeadlineFunc
	onExpire func()

	// Now is swappable for tests.
	Now func() time.Time

	mu        sync.Mutex
	remaining time.Duration
	known     bool
	expired   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewAttemptTimer(interval time.Duration, deadline DeadlineFunc, onExpire func()) *AttemptTimer {
	if interval <= 0 {
		interval = time.Second
	}
	return &AttemptTimer{
		interval: interval,
		deadline: deadline,
		onExpire: onExpire,
		Now:      time.Now,
	}
}

// Start evaluates the deadline once and, for timed attempts, starts ticking.
// An untimed attempt leaves the timer inactive.
func (t *AttemptTimer) Start(ctx context.Context) {
	if !t.tick() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !t.tick() {
					return
				}
			}
		}
	}()
}

// tick recomputes the remaining time and reports whether ticking should go on.
func (t *AttemptTimer) tick() bool {
	deadline, ok := t.deadline()

	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return false
	}
	if !ok {
		t.known = false
		t.remaining = 0
		t.mu.Unlock()
		return false
	}
	t.known = true
	t.remaining = deadline.Sub(t.Now())
	if t.remaining > 0 {
		t.mu.Unlock()
		return true
	}
	t.remaining = 0
	t.expired = true
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
	return false
}

// Stop halts ticking and waits for the ticking goroutine to exit.
func (t *AttemptTimer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Remaining returns the time left and false for an untimed attempt.
func (t *AttemptTimer) Remaining() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining, t.known
}

func (t *AttemptTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}
