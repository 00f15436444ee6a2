// Package voicebank turns score notes into timed sound requests.
//
// Every voice of a score has a Voice configuration selecting its instrument,
// volume and octave shift. Notes of one step are collected into a Batch keyed
// by instrument and handed to an Output, which plays them at an absolute clock
// time and reports completion through a channel.
package voicebank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cbegin/stepcue/internal/steps"
)

const DefaultInstrument = "acoustic_grand_piano"

var ErrUnknownVoice = errors.New("unknown voice")

// Note is implemented by score notes that can be sounded.
type Note interface {
	Voice() string
	// HalfTone is the MIDI note number, middle C = 60.
	HalfTone() int
	Rest() bool
}

// NoteSpec is one sound request. Rests occupy time without sounding.
type NoteSpec struct {
	Pitch    int
	Duration float64 // seconds
	Gain     float64
	Rest     bool
}

// Batch groups the notes of one step by instrument.
type Batch map[string][]NoteSpec

// Len returns the number of notes in the batch.
func (b Batch) Len() int {
	n := 0
	for _, notes := range b {
		n += len(notes)
	}
	return n
}

// Output is a sound backend.
type Output interface {
	// Load makes an instrument ready to play. Loading twice is allowed.
	Load(ctx context.Context, instrument string) error
	// Schedule plays notes starting at the clock time at. The returned
	// channel is closed once every note has finished.
	Schedule(instrument string, at float64, notes []NoteSpec) <-chan struct{}
	// Stop silences all sound and closes every outstanding channel.
	Stop()
}

type Voice struct {
	ID          string  `json:"id"`
	Instrument  string  `json:"instrument"`
	Volume      float64 `json:"volume"`
	OctaveShift int     `json:"octaveShift"`
}

// Pitch applies the octave shift to a half tone.
func (v Voice) Pitch(halfTone int) int {
	return halfTone + v.OctaveShift*12
}

type Bank struct {
	mu         sync.Mutex
	out        Output
	instrument string
	voices     map[string]*Voice
	order      []string
	loaded     map[string]bool
	log        *slog.Logger
}

// New returns a bank playing through out. Voices start on instrument, or
// DefaultInstrument when it is empty.
func New(out Output, instrument string, log *slog.Logger) *Bank {
	if instrument == "" {
		instrument = DefaultInstrument
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bank{
		out:        out,
		instrument: instrument,
		voices:     map[string]*Voice{},
		loaded:     map[string]bool{},
		log:        log,
	}
}

// Init replaces the voice set. Voices keep their settings when their ID was
// already known.
func (b *Bank) Init(voiceIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	voices := make(map[string]*Voice, len(voiceIDs))
	order := make([]string, 0, len(voiceIDs))
	for _, id := range voiceIDs {
		if _, dup := voices[id]; dup {
			continue
		}
		v, ok := b.voices[id]
		if !ok {
			v = &Voice{ID: id, Instrument: b.instrument, Volume: 1}
		}
		voices[id] = v
		order = append(order, id)
	}
	b.voices = voices
	b.order = order
}

// Voices returns a copy of the voice configurations in score order.
func (b *Bank) Voices() []Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Voice, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.voices[id])
	}
	return out
}

// Prepare loads every instrument a voice uses.
func (b *Bank) Prepare(ctx context.Context) error {
	b.mu.Lock()
	var pending []string
	seen := map[string]bool{}
	for _, id := range b.order {
		inst := b.voices[id].Instrument
		if !b.loaded[inst] && !seen[inst] {
			seen[inst] = true
			pending = append(pending, inst)
		}
	}
	b.mu.Unlock()
	for _, inst := range pending {
		if err := b.load(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bank) load(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.out.Load(ctx, instrument); err != nil {
		return fmt.Errorf("load instrument %q: %w", instrument, err)
	}
	b.mu.Lock()
	b.loaded[instrument] = true
	b.mu.Unlock()
	b.log.Debug("instrument loaded", "instrument", instrument)
	return nil
}

// SetInstrument loads instrument and assigns it to the voice.
func (b *Bank) SetInstrument(ctx context.Context, voiceID, instrument string) error {
	if _, err := b.lookup(voiceID); err != nil {
		return err
	}
	if err := b.load(ctx, instrument); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.voices[voiceID]; ok {
		v.Instrument = instrument
	}
	return nil
}

func (b *Bank) SetVolume(voiceID string, gain float64) error {
	if gain < 0 {
		return fmt.Errorf("volume %v out of range", gain)
	}
	return b.update(voiceID, func(v *Voice) { v.Volume = gain })
}

func (b *Bank) SetOctaveShift(voiceID string, shift int) error {
	return b.update(voiceID, func(v *Voice) { v.OctaveShift = shift })
}

func (b *Bank) update(voiceID string, f func(*Voice)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.voices[voiceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
	}
	f(v)
	return nil
}

func (b *Bank) lookup(voiceID string) (Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.voices[voiceID]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
	}
	return *v, nil
}

// AddNote appends a note lasting duration seconds to the batch. Notes that
// do not implement Note are skipped.
func (b *Bank) AddNote(batch Batch, n steps.NoteRef, duration float64) {
	note, ok := n.(Note)
	if !ok {
		return
	}
	v, err := b.lookup(note.Voice())
	if err != nil {
		v = Voice{ID: note.Voice(), Instrument: b.instrument, Volume: 1}
		b.log.Debug("note from unconfigured voice", "voice", note.Voice())
	}
	spec := NoteSpec{Duration: duration, Gain: v.Volume, Rest: note.Rest()}
	if !spec.Rest {
		spec.Pitch = v.Pitch(note.HalfTone())
	}
	batch[v.Instrument] = append(batch[v.Instrument], spec)
}

// Schedule hands the batch to the output. The returned channel is closed once
// every note has finished, immediately for an empty batch.
func (b *Bank) Schedule(batch Batch, at float64) <-chan struct{} {
	done := make(chan struct{})
	if batch.Len() == 0 {
		close(done)
		return done
	}
	pending := make([]<-chan struct{}, 0, len(batch))
	for inst, notes := range batch {
		if len(notes) == 0 {
			continue
		}
		pending = append(pending, b.out.Schedule(inst, at, notes))
	}
	if len(pending) == 1 {
		return pending[0]
	}
	go func() {
		defer close(done)
		for _, ch := range pending {
			<-ch
		}
	}()
	return done
}

// Stop silences every instrument.
func (b *Bank) Stop() {
	b.out.Stop()
}
