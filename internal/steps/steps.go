// Package steps builds the ordered, gapless list of score steps that playback
// is scheduled against.
//
// Voice entries carry no start time, only durations. Index reconstructs
// absolute positions by relying on the score being densely packed: every note
// or rest is immediately followed by another one in its voice. Each note added
// to a step prepares an empty step right after it, and the earliest empty step
// is where the next group of entries belongs. Once a score is loaded one empty
// step remains at the end; it marks the end of the last step and is the wrap
// target when looping over the whole score.
package steps

import (
	"iter"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/cbegin/stepcue/internal/position"
)

// NoteRef is an opaque handle to a note or rest in the score model. It must be
// comparable; identical handles are stored once per step.
type NoteRef interface {
	Length() position.Position
}

// Step is the set of notes and rests sharing one score position.
type Step struct {
	Position position.Position
	Notes    []NoteRef
}

// Empty reports whether no note starts at this step.
func (s *Step) Empty() bool { return len(s.Notes) == 0 }

func (s *Step) add(n NoteRef) {
	if slices.Contains(s.Notes, n) {
		return
	}
	s.Notes = append(s.Notes, n)
}

// Index is the step list of one loaded score. It is mutated only by
// LoadNotes and is read-only during playback.
type Index struct {
	steps []*Step
	open  int // index of the earliest empty step, -1 before the first load
}

func New() *Index {
	return &Index{open: -1}
}

// LoadNotes places one iterator position's voice entries on the timeline.
// It must be called once per position, in document order.
func (x *Index) LoadNotes(entries [][]NoteRef) {
	if x.open < 0 {
		x.open, _ = x.getOrCreate(position.Zero)
	}
	step := x.steps[x.open]
	filled := x.open
	for _, entry := range entries {
		for _, n := range entry {
			step.add(n)
			i, created := x.getOrCreate(step.Position.Add(n.Length()))
			if created && i <= filled {
				filled++
			}
		}
	}
	x.open = x.nextOpen(filled)
}

// Build loads every non-empty iterator position of a score and returns the
// index with the number of positions loaded.
func Build(positions iter.Seq[[][]NoteRef]) (*Index, int) {
	x := New()
	count := 0
	for entries := range positions {
		if len(entries) == 0 {
			continue
		}
		x.LoadNotes(entries)
		count++
	}
	return x, count
}

// getOrCreate returns the index of the step at pos, inserting it in order
// when absent.
func (x *Index) getOrCreate(pos position.Position) (int, bool) {
	i, found := slices.BinarySearchFunc(x.steps, pos, func(s *Step, p position.Position) int {
		return s.Position.Cmp(p)
	})
	if found {
		return i, false
	}
	x.steps = slices.Insert(x.steps, i, &Step{Position: pos})
	return i, true
}

func (x *Index) nextOpen(from int) int {
	for i := from; i < len(x.steps); i++ {
		if x.steps[i].Empty() {
			return i
		}
	}
	// Only zero-length notes were added, so the next entries start at the
	// same position.
	return from
}

// Len returns the number of steps including the trailing empty one.
func (x *Index) Len() int { return len(x.steps) }

// At returns step i. It panics when i is out of range, like a slice index.
func (x *Index) At(i int) *Step { return x.steps[i] }

// Position returns the score position of step i.
func (x *Index) Position(i int) position.Position { return x.steps[i].Position }

// Delta returns the score distance from step i to step j.
func (x *Index) Delta(i, j int) position.Position {
	return x.steps[j].Position.Sub(x.steps[i].Position)
}

// Steps returns the step list. Callers must not modify it.
func (x *Index) Steps() []*Step { return x.steps }

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
