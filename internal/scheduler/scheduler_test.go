package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/position"
	"github.com/cbegin/stepcue/internal/steps"
)

type note struct {
	name   string
	length position.Position
}

func (n *note) Length() position.Position { return n.length }

type group []*note

func nt(name string, num, den int64) *note {
	return &note{name: name, length: position.New(num, den)}
}

// phrase: 3/8, 1/8, 1/8, 1/8 rest, 1/8, 1/8 rest, 1/1 chord
func phrase() *steps.Index {
	return load(
		[]group{{nt("C5", 3, 8)}},
		[]group{{nt("D5", 1, 8)}},
		[]group{{nt("E5", 1, 8)}},
		[]group{{nt("R", 1, 8)}},
		[]group{{nt("C5", 1, 8)}},
		[]group{{nt("R", 1, 8)}},
		[]group{{nt("G5", 1, 1), nt("G4", 1, 1), nt("E4", 1, 1)}},
	)
}

func load(positions ...[]group) *steps.Index {
	x := steps.New()
	for _, entries := range positions {
		refs := make([][]steps.NoteRef, len(entries))
		for i, g := range entries {
			for _, n := range g {
				refs[i] = append(refs[i], n)
			}
		}
		x.LoadNotes(refs)
	}
	return x
}

type harness struct {
	t      *testing.T
	fake   *clock.Fake
	sched  *Scheduler
	events []Event
	seen   int
}

func newHarness(t *testing.T, idx *steps.Index, wholeNote float64) *harness {
	h := &harness{t: t, fake: clock.NewFake()}
	cfg := Config{InitDelay: 0, ClockInterval: 100 * time.Millisecond, Horizon: 200 * time.Millisecond}
	h.sched = New(idx, wholeNote, h.fake, h.fake, cfg, func(ev Event) {
		h.events = append(h.events, ev)
	}, nil)
	return h
}

// scheduled formats events emitted since the last call.
func (h *harness) scheduled() string {
	fresh := h.events[h.seen:]
	h.seen = len(h.events)
	var parts []string
	for _, ev := range fresh {
		names := make([]string, len(ev.Notes))
		for i, n := range ev.Notes {
			names[i] = n.(*note).name
		}
		s := fmt.Sprintf("%s in %ss", strings.Join(names, "+"), strconv.FormatFloat(clock.Round(ev.Delay), 'f', -1, 64))
		if ev.Stopping {
			s += " and STOP"
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}

func (h *harness) tick() string {
	h.fake.Advance(100 * time.Millisecond)
	at := strconv.FormatFloat(clock.Round(h.fake.Now()), 'f', -1, 64)
	return at + "s: " + h.scheduled()
}

func TestCompletePlayback(t *testing.T) {
	idx := phrase()
	require.Equal(t, 8, idx.Len())
	h := newHarness(t, idx, 1) // steps at 0, 0.375, 0.5, 0.625, 0.75, 0.875, 1

	h.sched.Start(Range{Start: 0, End: 7}, false)
	assert.Equal(t, "C5 in 0s", h.scheduled())
	assert.Equal(t, 1, h.fake.Pending())

	want := []string{
		"0.1s: -",
		"0.2s: D5 in 0.175s",
		"0.3s: -",
		"0.4s: E5 in 0.1s",
		"0.5s: R in 0.125s",
		"0.6s: C5 in 0.15s",
		"0.7s: R in 0.175s",
		"0.8s: -",
		"0.9s: G5+G4+E4 in 0.1s and STOP",
	}
	for _, w := range want {
		assert.Equal(t, w, h.tick())
	}
	// the trailing empty step due at 2s is never emitted
	for i := 0; i < 12; i++ {
		assert.True(t, strings.HasSuffix(h.tick(), ": -"))
	}
}

func TestAcceleratedPlayback(t *testing.T) {
	h := newHarness(t, phrase(), 0.4) // steps at 0, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4
	h.sched.Start(Range{Start: 0, End: 7}, false)
	assert.Equal(t, "C5 in 0s; D5 in 0.15s", h.scheduled())
	assert.Equal(t, "0.1s: E5 in 0.1s; R in 0.15s", h.tick())
	assert.Equal(t, "0.2s: C5 in 0.1s; R in 0.15s", h.tick())
	assert.Equal(t, "0.3s: G5+G4+E4 in 0.1s and STOP", h.tick())
}

func TestPartialPlayback(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.Start(Range{Start: 1, End: 5}, false)
	assert.Equal(t, "D5 in 0s; E5 in 0.125s", h.scheduled())
	assert.Equal(t, "0.1s: R in 0.15s", h.tick())
	assert.Equal(t, "0.2s: C5 in 0.175s and STOP", h.tick())
	assert.Equal(t, "0.3s: -", h.tick())
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, phrase(), 0.8) // steps at 0, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8
	h.sched.Start(Range{Start: 0, End: 7}, false)
	assert.Equal(t, "C5 in 0s", h.scheduled())
	assert.Equal(t, "0.1s: -", h.tick())
	assert.Equal(t, "0.2s: D5 in 0.1s", h.tick())
	assert.Equal(t, "0.3s: E5 in 0.1s", h.tick())
	assert.Equal(t, "0.4s: R in 0.1s", h.tick())

	h.sched.Pause()
	assert.Equal(t, 0, h.fake.Pending())
	assert.False(t, h.sched.Playing())

	h.sched.Resume()
	assert.Equal(t, "-", h.scheduled()) // 0.5 was already scheduled
	assert.Equal(t, "0.5s: C5 in 0.1s", h.tick())
	assert.Equal(t, "0.6s: R in 0.1s", h.tick())
	assert.Equal(t, "0.7s: G5+G4+E4 in 0.1s and STOP", h.tick())
}

func TestPausedSchedulerEmitsNothing(t *testing.T) {
	h := newHarness(t, phrase(), 0.8)
	h.sched.Start(Range{End: 7}, false)
	h.scheduled()
	h.sched.Pause()
	for i := 0; i < 10; i++ {
		assert.True(t, strings.HasSuffix(h.tick(), ": -"))
	}
}

func TestLoopingWrapsToRangeStart(t *testing.T) {
	h := newHarness(t, phrase(), 0.4)
	h.sched.Start(Range{Start: 0, End: 7}, true)
	assert.Equal(t, "C5 in 0s; D5 in 0.15s", h.scheduled())
	round := func(v float64) string { return strconv.FormatFloat(clock.Round(v), 'f', -1, 64) }
	for i := 0; i < 10; i++ {
		base := 0.8 * float64(i)
		assert.Equal(t, round(base+0.1)+"s: E5 in 0.1s; R in 0.15s", h.tick())
		assert.Equal(t, round(base+0.2)+"s: C5 in 0.1s; R in 0.15s", h.tick())
		assert.Equal(t, round(base+0.3)+"s: G5+G4+E4 in 0.1s", h.tick())
		assert.Equal(t, round(base+0.4)+"s: -", h.tick())
		assert.Equal(t, round(base+0.5)+"s: -", h.tick())
		assert.Equal(t, round(base+0.6)+"s: -", h.tick())
		assert.Equal(t, round(base+0.7)+"s: C5 in 0.1s", h.tick())
		assert.Equal(t, round(base+0.8)+"s: D5 in 0.15s", h.tick())
	}
	for _, ev := range h.events {
		assert.NotEqual(t, 7, ev.Index)
		assert.False(t, ev.Stopping)
	}
}

func TestInterleavedVoicesFollowPositions(t *testing.T) {
	// voice 1: C5 1/4, D5 1/2, E5 1/4 tied to E5 1/4, R 1/4, C5 1/2
	// voice 2: E4 1/2, F4 1/2, G4 1/2, E4 1/2
	idx := load(
		[]group{{nt("C5", 1, 4)}, {nt("E4", 1, 2)}},
		[]group{{nt("D5", 1, 2)}},
		[]group{{nt("F4", 1, 2)}},
		[]group{{nt("E5", 1, 4)}},
		[]group{{nt("E5", 1, 4)}, {nt("G4", 1, 2)}},
		[]group{{nt("R", 1, 4)}},
		[]group{{nt("C5", 1, 2)}, {nt("E4", 1, 2)}},
	)
	require.Equal(t, 8, idx.Len())
	h := newHarness(t, idx, 0.4) // steps at 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6
	h.sched.Start(Range{End: 7}, false)
	assert.Equal(t, "C5+E4 in 0s; D5 in 0.1s", h.scheduled())
	assert.Equal(t, "0.1s: F4 in 0.1s", h.tick())
	assert.Equal(t, "0.2s: E5 in 0.1s", h.tick())
	assert.Equal(t, "0.3s: E5+G4 in 0.1s", h.tick())
	assert.Equal(t, "0.4s: R in 0.1s", h.tick())
	assert.Equal(t, "0.5s: C5+E4 in 0.1s and STOP", h.tick())
}

func TestRepeatedPassesOnFrozenClockDoNotDuplicate(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.Start(Range{End: 7}, false)
	h.fake.Suspend()
	for i := 0; i < 5; i++ {
		h.fake.Advance(100 * time.Millisecond)
	}
	seen := map[int]int{}
	for _, ev := range h.events {
		seen[ev.Index]++
	}
	assert.Equal(t, map[int]int{0: 1}, seen)
}

func TestSeekManufacturesAnchor(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.cfg.InitDelay = 100 * time.Millisecond
	h.fake.Advance(time.Second)
	h.sched.Seek(2)

	a, ok := h.sched.Anchor()
	require.True(t, ok)
	assert.Equal(t, 1, a.Index)
	assert.InDelta(t, 1-0.125+0.1, a.Time, 1e-9)

	h.sched.Start(Range{End: 7}, false)
	assert.Equal(t, "E5 in 0.1s", h.scheduled())
}

func TestSeekClampsAndZeroResets(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.Seek(99)
	a, ok := h.sched.Anchor()
	require.True(t, ok)
	assert.Equal(t, 6, a.Index)

	h.sched.Seek(0)
	_, ok = h.sched.Anchor()
	assert.False(t, ok)
	assert.False(t, h.sched.Playing())
}

func TestSetRangeClamps(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.SetRange(Range{Start: -4, End: 40})
	assert.Equal(t, Range{Start: 0, End: 7}, h.sched.Range())
	h.sched.SetRange(Range{Start: 9, End: 3})
	assert.Equal(t, Range{Start: 2, End: 3}, h.sched.Range())
}

func TestTempoChangeAppliesToNextStep(t *testing.T) {
	h := newHarness(t, phrase(), 1)
	h.sched.Start(Range{End: 7}, false)
	assert.Equal(t, "C5 in 0s", h.scheduled())
	h.sched.SetWholeNote(0.4) // D5 now due at 0.15
	assert.Equal(t, "0.1s: D5 in 0.05s; E5 in 0.1s; R in 0.15s", h.tick())
	assert.Equal(t, 0.4, h.sched.WholeNote())
}

func TestLateStepsDroppedExceptStop(t *testing.T) {
	h := newHarness(t, phrase(), 0.4)
	h.sched.Start(Range{End: 7}, false)
	h.scheduled()
	h.sched.Pause()
	// the clock runs on while no pass happens
	h.fake.Advance(time.Second)
	h.sched.Resume()
	// all overdue steps are dropped except the final one, which carries the stop flag
	assert.Equal(t, "G5+G4+E4 in 0s and STOP", h.scheduled())
}

func TestEmptyIndexIsInert(t *testing.T) {
	h := newHarness(t, steps.New(), 1)
	h.sched.Start(Range{}, false)
	assert.Equal(t, "-", h.scheduled())
}
