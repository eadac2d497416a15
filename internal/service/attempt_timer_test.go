package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAttemptTimer_ExpiresExactlyOnce(t *testing.T) {
	clk := newFakeClock()
	deadline := clk.Now().Add(3 * time.Second)
	var fired int32
	timer := NewAttemptTimer(time.Hour, func() (time.Time, bool) { return deadline, true }, func() {
		atomic.AddInt32(&fired, 1)
	})
	timer.Now = clk.Now

	if !timer.tick() {
		t.Fatal("timer stopped before the deadline")
	}
	if rem, ok := timer.Remaining(); !ok || rem != 3*time.Second {
		t.Errorf("Remaining = %v, %v", rem, ok)
	}

	clk.Advance(5 * time.Second)
	if timer.tick() {
		t.Error("timer kept ticking after the deadline")
	}
	if timer.tick() {
		t.Error("timer ticked again after expiry")
	}
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Errorf("onExpire fired %d times", n)
	}
	if rem, _ := timer.Remaining(); rem != 0 {
		t.Errorf("Remaining after expiry = %v", rem)
	}
	if !timer.Expired() {
		t.Error("Expired = false")
	}
}

func TestAttemptTimer_RereadsPersistedDeadline(t *testing.T) {
	clk := newFakeClock()
	var mu sync.Mutex
	deadline := clk.Now().Add(time.Minute)
	timer := NewAttemptTimer(time.Hour, func() (time.Time, bool) {
		mu.Lock()
		defer mu.Unlock()
		return deadline, true
	}, nil)
	timer.Now = clk.Now

	timer.tick()
	mu.Lock()
	deadline = deadline.Add(-30 * time.Second)
	mu.Unlock()
	timer.tick()

	if rem, _ := timer.Remaining(); rem != 30*time.Second {
		t.Errorf("Remaining = %v, want 30s", rem)
	}
}

func TestAttemptTimer_UntimedStaysInactive(t *testing.T) {
	var fired int32
	timer := NewAttemptTimer(10*time.Millisecond, func() (time.Time, bool) { return time.Time{}, false }, func() {
		atomic.AddInt32(&fired, 1)
	})
	timer.Start(testContext(t))
	time.Sleep(30 * time.Millisecond)
	timer.Stop()

	if _, ok := timer.Remaining(); ok {
		t.Error("untimed attempt reports a remaining time")
	}
	if timer.Expired() || atomic.LoadInt32(&fired) != 0 {
		t.Error("untimed attempt expired")
	}
}

func TestAttemptTimer_StartTicksUntilExpiry(t *testing.T) {
	deadline := time.Now().Add(40 * time.Millisecond)
	done := make(chan struct{})
	timer := NewAttemptTimer(5*time.Millisecond, func() (time.Time, bool) { return deadline, true }, func() { close(done) })
	timer.Start(testContext(t))
	defer timer.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}
}
