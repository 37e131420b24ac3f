package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := 0
	f.AfterFunc(3*time.Second, func() { fired++ })

	f.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatalf("fired = %d before deadline", fired)
	}
	f.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d at deadline, want 1", fired)
	}
	f.Advance(time.Hour)
	if fired != 1 {
		t.Errorf("one-shot timer fired %d times", fired)
	}
}

func TestFakeOrdersCallbacksByDeadline(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var order []string
	f.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	f.AfterFunc(time.Second, func() { order = append(order, "a") })
	f.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	f.Advance(5 * time.Second)
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestFakeNowInsideCallback(t *testing.T) {
	start := time.Unix(100, 0)
	f := NewFake(start)
	var seen time.Time
	f.AfterFunc(4*time.Second, func() { seen = f.Now() })
	f.Advance(10 * time.Second)

	if got := seen.Sub(start); got != 4*time.Second {
		t.Errorf("Now() inside callback = +%v, want +4s", got)
	}
	if got := f.Now().Sub(start); got != 10*time.Second {
		t.Errorf("Now() after Advance = +%v, want +10s", got)
	}
}

func TestFakeChainedTimersFireInWindow(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var at []time.Duration
	start := f.Now()
	var step func()
	step = func() {
		at = append(at, f.Now().Sub(start))
		if len(at) < 3 {
			f.AfterFunc(time.Second, step)
		}
	}
	f.AfterFunc(time.Second, step)
	f.Advance(10 * time.Second)

	if len(at) != 3 {
		t.Fatalf("chained fires = %v, want 3", at)
	}
	if at[2] != 3*time.Second {
		t.Errorf("third fire at %v, want 3s", at[2])
	}
}

func TestFakeEveryAndStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticks := 0
	tk := f.Every(time.Second, func() { ticks++ })

	f.Advance(3500 * time.Millisecond)
	if ticks != 3 {
		t.Fatalf("ticks = %d, want 3", ticks)
	}
	if !tk.Stop() {
		t.Error("Stop() on active ticker = false")
	}
	if tk.Stop() {
		t.Error("second Stop() = true")
	}
	f.Advance(5 * time.Second)
	if ticks != 3 {
		t.Errorf("ticks after stop = %d, want 3", ticks)
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.Pending())
	}
}

func TestFakeStopFromInsideCallback(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticks := 0
	var tk Timer
	tk = f.Every(time.Second, func() {
		ticks++
		if ticks == 2 {
			tk.Stop()
		}
	})
	f.Advance(10 * time.Second)
	if ticks != 2 {
		t.Errorf("ticks = %d, want 2", ticks)
	}
}
