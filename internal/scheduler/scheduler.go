// Package scheduler decides which score step plays next and when.
//
// The scheduler remembers only the step it scheduled most recently and the
// clock time assigned to it (the Anchor). Every later time is derived from
// the anchor plus the score distance to the next step, so tempo changes take
// effect on the next undelivered step. A periodic pass commits every step
// whose time falls before the horizon and stops at the first one that does
// not. Partial ranges and looping are supported; see Start.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/steps"
)

// Config holds the scheduling constants.
type Config struct {
	// InitDelay is the safety margin applied when playback is positioned by Seek.
	InitDelay time.Duration
	// ClockInterval is the period of the scheduling pass.
	ClockInterval time.Duration
	// Horizon is how far ahead of the clock steps may be committed.
	Horizon time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitDelay:     100 * time.Millisecond,
		ClockInterval: 200 * time.Millisecond,
		Horizon:       400 * time.Millisecond,
	}
}

// Event is one scheduled step.
type Event struct {
	Delay    float64 // seconds from now, never negative
	Notes    []steps.NoteRef
	Index    int
	Stopping bool // last step of a non-looping range
}

// Range selects steps [Start, End). Looping wraps from End back to Start.
type Range struct {
	Start int
	End   int
}

// Anchor is the most recently scheduled step and its clock time. Anchors are
// values: a pass receives one and returns its successor.
type Anchor struct {
	Index int
	Time  float64
}

type Scheduler struct {
	cfg      Config
	steps    *steps.Index
	clock    clock.Source
	timers   clock.Timers
	callback func(Event)
	log      *slog.Logger

	playing bool
	looping bool
	rng     Range
	anchor  *Anchor
	ticker  clock.Timer

	wholeNote float64 // seconds
}

// New returns a scheduler over idx. wholeNote is the duration of a whole note
// in seconds.
func New(idx *steps.Index, wholeNote float64, src clock.Source, timers clock.Timers, cfg Config, callback func(Event), log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = DefaultConfig().ClockInterval
	}
	return &Scheduler{
		cfg:       cfg,
		steps:     idx,
		clock:     src,
		timers:    timers,
		callback:  callback,
		log:       log,
		wholeNote: wholeNote,
	}
}

// Start sets the range and looping mode and starts playing. A zero End
// selects the whole score.
func (s *Scheduler) Start(r Range, looping bool) {
	s.rng = s.clampRange(r)
	s.looping = looping
	s.Resume()
}

// Pause stops the periodic pass. The anchor is kept, so Resume continues
// right after the last scheduled step.
func (s *Scheduler) Pause() {
	s.playing = false
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// Resume runs one pass immediately and restarts the periodic pass.
func (s *Scheduler) Resume() {
	if s.rng.End == 0 {
		s.rng = s.clampRange(s.rng)
	}
	s.playing = true
	s.pass()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = s.timers.Tick(s.cfg.ClockInterval, s.pass)
}

// Reset stops playing and forgets the anchor; the next Start begins at the
// range start.
func (s *Scheduler) Reset() {
	s.Pause()
	s.anchor = nil
}

// Seek positions playback so that step index is the next one scheduled, as
// if the step before it had just been scheduled. Seeking to 0 forgets the
// anchor so the range start comes next; a playing scheduler restarts its pass.
func (s *Scheduler) Seek(index int) {
	last := s.steps.Len() - 1
	if last < 1 || index <= 0 {
		playing := s.playing
		s.Reset()
		if playing {
			s.Resume()
		}
		return
	}
	index = steps.Clamp(index, 1, last)
	prev := index - 1
	delta := s.steps.Delta(prev, index).Float64() * s.wholeNote
	t := clock.Round(s.clock.Now()-delta) + s.cfg.InitDelay.Seconds()
	s.anchor = &Anchor{Index: prev, Time: t}
}

// SetRange updates the bounds without disturbing playback.
func (s *Scheduler) SetRange(r Range) {
	s.rng = s.clampRange(r)
}

func (s *Scheduler) SetLooping(looping bool) { s.looping = looping }

// SetWholeNote changes the tempo. It applies from the next undelivered step.
func (s *Scheduler) SetWholeNote(sec float64) {
	if sec > 0 {
		s.wholeNote = sec
	}
}

func (s *Scheduler) WholeNote() float64 { return s.wholeNote }
func (s *Scheduler) Playing() bool      { return s.playing }
func (s *Scheduler) Looping() bool      { return s.looping }
func (s *Scheduler) Range() Range       { return s.rng }

// Anchor returns the current anchor, if any.
func (s *Scheduler) Anchor() (Anchor, bool) {
	if s.anchor == nil {
		return Anchor{}, false
	}
	return *s.anchor, true
}

// clampRange keeps the range inside the scoreable steps. The trailing empty
// step is never played, so End is at most Len-1.
func (s *Scheduler) clampRange(r Range) Range {
	last := s.steps.Len() - 1
	if last < 1 {
		return Range{}
	}
	if r.End <= 0 || r.End > last {
		r.End = last
	}
	r.Start = steps.Clamp(r.Start, 0, r.End-1)
	return r
}

func (s *Scheduler) pass() {
	if !s.playing {
		return
	}
	events, anchor := s.plan(clock.Round(s.clock.Now()), s.anchor)
	s.anchor = anchor
	for _, ev := range events {
		s.callback(ev)
	}
}

// plan computes the events due before the horizon, starting after prev.
// It returns them with the anchor of the last step it committed.
func (s *Scheduler) plan(now float64, prev *Anchor) ([]Event, *Anchor) {
	if s.rng.End <= 0 || s.steps.Len() < 2 {
		return nil, prev
	}
	horizon := clock.Round(now + s.cfg.Horizon.Seconds())
	var events []Event
	for {
		index, at := s.rng.Start, now
		if prev != nil {
			next := min(prev.Index+1, s.steps.Len()-1)
			at = prev.Time + s.steps.Delta(prev.Index, next).Float64()*s.wholeNote
			index = next
			// >= also covers a range that shrank behind the anchor.
			if next >= s.rng.End {
				if !s.looping {
					break
				}
				index = s.rng.Start
			}
		}
		if clock.Round(at) >= horizon {
			break
		}
		delay := clock.Round(at - now)
		stopping := !s.looping && index == s.rng.End-1
		if delay < 0 {
			s.log.Warn("missed step", "step", index, "late_ms", int(-delay*1000))
		}
		if delay >= 0 || stopping {
			events = append(events, Event{
				Delay:    max(0, delay),
				Notes:    s.steps.At(index).Notes,
				Index:    index,
				Stopping: stopping,
			})
		}
		prev = &Anchor{Index: index, Time: at}
	}
	return events, prev
}
