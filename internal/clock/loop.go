package clock

import (
	"context"
	"sync"
	"time"
)

// Loop runs posted functions sequentially on a single goroutine. Timers
// created by the loop deliver their callbacks through it, so everything
// scheduled on a Loop behaves as one cooperative thread.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run processes posted functions until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case f := <-l.queue:
			f()
		}
	}
}

// Close stops the loop. Pending functions are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Post queues f without waiting. It reports false when the loop is closed.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *Loop) Do(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// loopTimer is only touched from the loop goroutine except for the
// underlying runtime timer, which is safe to stop concurrently.
type loopTimer struct {
	stopped bool
	rt      *time.Timer
	ticker  *time.Ticker
	cancel  chan struct{}
}

func (t *loopTimer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	if t.rt != nil {
		t.rt.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
	}
	if t.cancel != nil {
		close(t.cancel)
	}
}

func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.rt = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			f()
		})
	})
	return t
}

func (l *Loop) Tick(d time.Duration, f func()) Timer {
	t := &loopTimer{ticker: time.NewTicker(d), cancel: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.cancel:
				return
			case <-l.done:
				return
			case <-t.ticker.C:
				l.Post(func() {
					if !t.stopped {
						f()
					}
				})
			}
		}
	}()
	return t
}

func (l *Loop) Await(done <-chan struct{}, f func()) Timer {
	t := &loopTimer{cancel: make(chan struct{})}
	go func() {
		select {
		case <-t.cancel:
		case <-l.done:
		case <-done:
			l.Post(func() {
				if t.stopped {
					return
				}
				t.stopped = true
				f()
			})
		}
	}()
	return t
}
