// Package clock provides the time sources and timers playback runs on.
//
// Times are float64 seconds, matching audio clocks. All callbacks scheduled
// through a Timers implementation run one at a time; a Timer stopped from
// within that sequence never fires afterwards.
package clock

import (
	"math"
	"time"
)

// Source is a monotonically non-decreasing real-time clock in seconds.
type Source interface {
	Now() float64
}

// Suspender is a Source that the host can freeze. Time spent suspended does
// not advance Now.
type Suspender interface {
	Source
	Suspend()
	Resume()
}

// Timer is a handle to a pending callback.
type Timer interface {
	Stop()
}

// Timers schedules callbacks.
type Timers interface {
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Tick runs f every d until stopped. The first call happens after d.
	Tick(d time.Duration, f func()) Timer
	// Await runs f once done is closed.
	Await(done <-chan struct{}, f func()) Timer
}

// Round rounds seconds to millisecond precision. Comparisons between
// scheduling passes are made on rounded values so float noise cannot flip them.
func Round(sec float64) float64 {
	return math.Round((sec+1e-9)*1000) / 1000
}

