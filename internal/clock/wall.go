package clock

import (
	"sync"
	"time"
)

// Wall is a suspendable clock backed by the monotonic system clock. It starts
// suspended at zero, like an audio context that has not been resumed yet.
type Wall struct {
	mu        sync.Mutex
	now       func() time.Time
	base      time.Time
	elapsed   time.Duration
	suspended bool
}

func NewWall() *Wall {
	return &Wall{now: time.Now, suspended: true}
}

func (w *Wall) Now() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current().Seconds()
}

func (w *Wall) current() time.Duration {
	if w.suspended {
		return w.elapsed
	}
	return w.elapsed + w.now().Sub(w.base)
}

func (w *Wall) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.suspended {
		return
	}
	w.elapsed = w.current()
	w.suspended = true
}

func (w *Wall) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.suspended {
		return
	}
	w.base = w.now()
	w.suspended = false
}
