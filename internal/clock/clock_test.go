package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueTimersInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Minute, func() { fired = append(fired, "late") })

	c.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("unexpected firing order: %v", fired)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", c.Pending())
	}
	if got := c.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Fatalf("expected clock at 3s, got %v", got)
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	called := false
	tm := c.AfterFunc(time.Second, func() { called = true })
	if !tm.Stop() {
		t.Fatal("expected Stop to report an armed timer")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Hour)
	if called {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeTimerCanReArmFromCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var arm func()
	arm = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, arm)
		}
	}
	c.AfterFunc(time.Second, arm)
	c.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("expected 3 firings, got %d", count)
	}
}
