package clock

import (
	"testing"
	"time"
)

func TestTestClockFiresAlertsInOrder(t *testing.T) {
	t.Parallel()

	c := NewTestClock(0)
	var fired []string

	c.SetTimeAlert("b", 200, func(name string, ts int64) { fired = append(fired, name) })
	c.SetTimeAlert("a", 100, func(name string, ts int64) { fired = append(fired, name) })
	c.SetTimeAlert("c", 300, func(name string, ts int64) { fired = append(fired, name) })

	c.AdvanceTime(250)

	want := []string{"a", "b"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i], want[i])
		}
	}
	if got := c.NowNs(); got != 250 {
		t.Errorf("NowNs() = %d, want 250", got)
	}
}

func TestTestClockTimerRepeats(t *testing.T) {
	t.Parallel()

	c := NewTestClock(0)
	count := 0
	c.SetTimer("tick", 10, 0, 35, func(name string, ts int64) { count++ })

	c.AdvanceTime(40)

	if count != 4 {
		t.Errorf("timer fired %d times, want 4", count)
	}
	for _, n := range c.TimerNames() {
		if n == "tick" {
			t.Errorf("timer %q should have been removed after stop time", n)
		}
	}
}

func TestTestClockCancel(t *testing.T) {
	t.Parallel()

	c := NewTestClock(0)
	fired := false
	c.SetTimeAlert("x", 50, func(name string, ts int64) { fired = true })
	c.Cancel("x")
	c.AdvanceTime(100)

	if fired {
		t.Error("canceled alert should not fire")
	}
}

func TestLiveClockNowAdvances(t *testing.T) {
	t.Parallel()

	c := NewLiveClock()
	t1 := c.NowNs()
	time.Sleep(time.Millisecond)
	t2 := c.NowNs()
	if t2 <= t1 {
		t.Errorf("LiveClock did not advance: %d -> %d", t1, t2)
	}
}
