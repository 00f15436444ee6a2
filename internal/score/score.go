// Package score holds the note model played by the engine and the readers
// that build it from MML text and YAML documents.
//
// A score is a list of parts, each with one or more voices. A voice is a
// gapless sequence of entries: a note, a rest or a chord. Entries carry
// only their length; absolute positions are derived by walking the voices.
package score

import (
	"fmt"
	"iter"
	"strings"

	"github.com/cbegin/stepcue/internal/position"
	"github.com/cbegin/stepcue/internal/steps"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is one sounding note or rest.
type Note struct {
	voice    string
	length   position.Position
	halfTone int
	rest     bool
	tie      *Tie
}

// Tie links notes of the same pitch that sound as one.
type Tie struct {
	Notes []*Note
}

func (n *Note) Length() position.Position { return n.length }
func (n *Note) Voice() string             { return n.voice }
func (n *Note) HalfTone() int             { return n.halfTone }
func (n *Note) Rest() bool                { return n.rest }

// Tie returns the first note of n's tie and the notes continuing it.
func (n *Note) Tie() (steps.NoteRef, []steps.NoteRef) {
	if n.tie == nil || len(n.tie.Notes) == 0 {
		return nil, nil
	}
	rest := make([]steps.NoteRef, 0, len(n.tie.Notes)-1)
	for _, r := range n.tie.Notes[1:] {
		rest = append(rest, r)
	}
	return n.tie.Notes[0], rest
}

// Tied reports whether n continues a tie.
func (n *Note) Tied() bool {
	return n.tie != nil && len(n.tie.Notes) > 0 && n.tie.Notes[0] != n
}

// String names the note, e.g. "C#5" or "R".
func (n *Note) String() string {
	if n.rest {
		return "R"
	}
	return fmt.Sprintf("%s%d", noteNames[((n.halfTone%12)+12)%12], n.halfTone/12)
}

// Entry is one voice event. Chord notes share the entry's length.
type Entry struct {
	Notes []*Note
}

func (e Entry) Length() position.Position {
	if len(e.Notes) == 0 {
		return position.Zero
	}
	return e.Notes[0].length
}

type Voice struct {
	ID      string
	Entries []Entry
}

// Length returns the total length of the voice.
func (v *Voice) Length() position.Position {
	total := position.Zero
	for _, e := range v.Entries {
		total = total.Add(e.Length())
	}
	return total
}

type Part struct {
	ID     string
	Name   string
	Voices []*Voice
}

type Score struct {
	Title string
	// Beats is the rhythm denominator: beats per whole note.
	Beats int
	// BPM is the declared tempo, 0 when the score does not set one.
	BPM   float64
	Parts []*Part
}

// Voices lists every voice ID in part order.
func (s *Score) Voices() []string {
	var ids []string
	for _, p := range s.Parts {
		for _, v := range p.Voices {
			ids = append(ids, v.ID)
		}
	}
	return ids
}

func (s *Score) BeatsPerWhole() int { return s.Beats }
func (s *Score) Tempo() float64     { return s.BPM }

// Length returns the length of the longest voice.
func (s *Score) Length() position.Position {
	longest := position.Zero
	for _, p := range s.Parts {
		for _, v := range p.Voices {
			if l := v.Length(); longest.Less(l) {
				longest = l
			}
		}
	}
	return longest
}

// padVoices ends every voice shorter than the score with a rest, so all
// voices finish together and no voice leaves a gap before the score's end.
func (s *Score) padVoices() {
	end := s.Length()
	for _, p := range s.Parts {
		for _, v := range p.Voices {
			if l := v.Length(); l.Less(end) {
				rest := &Note{voice: v.ID, length: end.Sub(l), rest: true}
				v.Entries = append(v.Entries, Entry{Notes: []*Note{rest}})
			}
		}
	}
}

// Entries walks all voices together and yields, for each position where
// an entry starts, the entries starting there in part and voice order.
func (s *Score) Entries() iter.Seq[[][]steps.NoteRef] {
	return func(yield func([][]steps.NoteRef) bool) {
		type walker struct {
			voice *Voice
			next  int
			at    position.Position
		}
		var walkers []*walker
		for _, p := range s.Parts {
			for _, v := range p.Voices {
				walkers = append(walkers, &walker{voice: v})
			}
		}
		for {
			var at position.Position
			found := false
			for _, w := range walkers {
				if w.next < len(w.voice.Entries) && (!found || w.at.Less(at)) {
					at, found = w.at, true
				}
			}
			if !found {
				return
			}
			var group [][]steps.NoteRef
			for _, w := range walkers {
				if w.next >= len(w.voice.Entries) || !w.at.Equal(at) {
					continue
				}
				e := w.voice.Entries[w.next]
				refs := make([]steps.NoteRef, len(e.Notes))
				for i, n := range e.Notes {
					refs[i] = n
				}
				group = append(group, refs)
				w.at = w.at.Add(e.Length())
				w.next++
			}
			if !yield(group) {
				return
			}
		}
	}
}

// Describe lists the notes of a step as a short label, e.g. "C5+E4".
func Describe(notes []steps.NoteRef) string {
	names := make([]string, 0, len(notes))
	for _, n := range notes {
		if s, ok := n.(fmt.Stringer); ok {
			names = append(names, s.String())
		} else {
			names = append(names, "?")
		}
	}
	return strings.Join(names, "+")
}
