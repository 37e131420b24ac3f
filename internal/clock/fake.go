package clock

import (
	"sync"
	"time"
)

// Fake is a virtual clock. Time only moves when Advance is called, and due
// callbacks run synchronously on the caller's goroutine in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[*fakeTimer]struct{}
}

// NewFake creates a virtual clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[*fakeTimer]struct{}),
	}
}

type fakeTimer struct {
	clock  *Fake
	at     time.Time
	seq    uint64
	period time.Duration
	fn     func()
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run once, d after the current virtual time.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, 0, fn)
}

// Every schedules fn to run every d.
func (f *Fake) Every(d time.Duration, fn func()) Timer {
	return f.schedule(d, d, fn)
}

func (f *Fake) schedule(d, period time.Duration, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, period: period, fn: fn}
	f.timers[t] = struct{}{}
	return t
}

// Advance moves the clock forward by d, firing every callback that becomes due.
// Callbacks scheduled by other callbacks fire too if they fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.at
		if next.period > 0 {
			f.seq++
			next.at = next.at.Add(next.period)
			next.seq = f.seq
		} else {
			delete(f.timers, next)
		}
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// Pending returns the number of scheduled callbacks that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) nextDue(target time.Time) *fakeTimer {
	var next *fakeTimer
	for t := range f.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t]; !ok {
		return false
	}
	delete(t.clock.timers, t)
	return true
}
