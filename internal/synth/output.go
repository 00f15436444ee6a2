package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/cbegin/stepcue/internal/voicebank"
)

// Instruments plays named presets on a Synth with times in seconds of
// rendered audio. It implements voicebank.Output and clock.Source.
type Instruments struct {
	s *Synth
}

func (s *Synth) Instruments() *Instruments { return &Instruments{s: s} }

// Now returns the rendered time in seconds.
func (i *Instruments) Now() float64 {
	return float64(i.s.Frame()) / i.s.sampleRate
}

// Load checks that a preset exists. Presets are built in, so there is
// nothing to fetch.
func (i *Instruments) Load(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("synth: unknown instrument %q", name)
	}
	return nil
}

// Schedule plays notes on the named preset at time at. Unknown names fall
// back to the default instrument.
func (i *Instruments) Schedule(name string, at float64, notes []voicebank.NoteSpec) <-chan struct{} {
	p, ok := Lookup(name)
	if !ok {
		p = presets[voicebank.DefaultInstrument]
	}
	return i.s.Schedule(p, int64(math.Round(at*i.s.sampleRate)), notes)
}

func (i *Instruments) Stop() { i.s.Stop() }

// Idle reports whether nothing is queued or sounding.
func (i *Instruments) Idle() bool {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if len(i.s.events) > 0 {
		return false
	}
	for j := range i.s.voices {
		if i.s.voices[j].active {
			return false
		}
	}
	return true
}
