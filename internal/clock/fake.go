package clock

import (
	"sort"
	"time"
)

// Fake is a manually advanced clock and timer set for tests. Timers fire on
// the goroutine calling Advance or Flush, in due-time order.
type Fake struct {
	wall      time.Duration
	lag       time.Duration
	suspended bool
	seq       int
	timers    []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	period  time.Duration
	seq     int
	done    <-chan struct{}
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() { t.stopped = true }

func NewFake() *Fake { return &Fake{} }

// Now returns the clock time, excluding time spent suspended.
func (f *Fake) Now() float64 { return (f.wall - f.lag).Seconds() }

// Elapsed returns the wall time since the fake was created.
func (f *Fake) Elapsed() time.Duration { return f.wall }

func (f *Fake) Suspend()        { f.suspended = true }
func (f *Fake) Resume()         { f.suspended = false }
func (f *Fake) Suspended() bool { return f.suspended }

func (f *Fake) add(t *fakeTimer) *fakeTimer {
	f.seq++
	t.seq = f.seq
	f.timers = append(f.timers, t)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.add(&fakeTimer{at: f.wall + d, f: fn})
}

func (f *Fake) Tick(d time.Duration, fn func()) Timer {
	return f.add(&fakeTimer{at: f.wall + d, period: d, f: fn})
}

func (f *Fake) Await(done <-chan struct{}, fn func()) Timer {
	return f.add(&fakeTimer{done: done, f: fn})
}

// Pending returns the number of live timers.
func (f *Fake) Pending() int {
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves wall time forward by d, firing every timer that falls due.
func (f *Fake) Advance(d time.Duration) {
	target := f.wall + d
	for {
		f.Flush()
		t := f.nextDue(target)
		if t == nil {
			break
		}
		f.moveTo(t.at)
		if t.period > 0 {
			t.at += t.period
		} else {
			t.stopped = true
		}
		t.f()
	}
	f.moveTo(target)
	f.Flush()
}

// Flush runs Await callbacks whose channels are closed.
func (f *Fake) Flush() {
	for {
		fired := false
		for _, t := range f.live() {
			if t.done == nil || t.stopped {
				continue
			}
			select {
			case <-t.done:
				t.stopped = true
				t.f()
				fired = true
			default:
			}
		}
		if !fired {
			return
		}
	}
}

func (f *Fake) moveTo(at time.Duration) {
	if at <= f.wall {
		return
	}
	if f.suspended {
		f.lag += at - f.wall
	}
	f.wall = at
}

func (f *Fake) live() []*fakeTimer {
	out := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	f.timers = out
	return append([]*fakeTimer(nil), out...)
}

func (f *Fake) nextDue(target time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.live() {
		if t.done == nil && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}
