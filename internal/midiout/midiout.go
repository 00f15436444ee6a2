// Package midiout plays voice bank batches on a MIDI output port.
//
// Messages are planned against a clock.Source and sent when it reaches
// their time. Each instrument gets its own channel with a General MIDI
// program change.
package midiout

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/voicebank"
)

// Sender writes one message to the port.
type Sender func(msg midi.Message) error

const drumChannel = 9

// programs maps instrument names to General MIDI programs.
var programs = map[string]uint8{
	"acoustic_grand_piano":  0,
	"electric_piano":        4,
	"marimba":               12,
	"church_organ":          19,
	"acoustic_guitar_nylon": 24,
	"acoustic_bass":         32,
	"violin":                40,
	"cello":                 42,
	"choir_aahs":            52,
	"trumpet":               56,
	"clarinet":              71,
	"flute":                 73,
	"square":                80,
	"pulse":                 80,
	"pulse_narrow":          80,
	"sawtooth":              81,
	"triangle":              74,
}

// Program returns the General MIDI program for an instrument name.
func Program(instrument string) (uint8, bool) {
	p, ok := programs[strings.ToLower(instrument)]
	return p, ok
}

type group struct {
	done chan struct{}
}

type planned struct {
	at  float64
	seq int
	msg midi.Message
	g   *group // closed when this entry is due
}

type plan []planned

func (h plan) Len() int { return len(h) }
func (h plan) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h plan) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *plan) Push(x interface{}) { *h = append(*h, x.(planned)) }
func (h *plan) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type noteKey struct{ ch, key uint8 }

// Output implements voicebank.Output.
type Output struct {
	mu       sync.Mutex
	send     Sender
	clock    clock.Source
	log      *slog.Logger
	channels map[string]uint8
	next     uint8
	queue    plan
	seq      int
	sounding map[noteKey]int
}

var _ voicebank.Output = (*Output)(nil)

func New(send Sender, src clock.Source, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	return &Output{
		send:     send,
		clock:    src,
		log:      log,
		channels: map[string]uint8{},
		sounding: map[noteKey]int{},
	}
}

// Open connects to the named output port, or the first port when name is
// empty. A MIDI driver must be registered by the caller.
func Open(name string) (Sender, error) {
	var (
		out drivers.Out
		err error
	)
	if name == "" {
		out, err = midi.OutPort(0)
	} else {
		out, err = midi.FindOutPort(name)
	}
	if err != nil {
		return nil, fmt.Errorf("midiout: open %q: %w", name, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("midiout: send to %s: %w", out, err)
	}
	return send, nil
}

// Ports lists the available output port names.
func Ports() []string {
	var names []string
	for _, port := range midi.GetOutPorts() {
		names = append(names, port.String())
	}
	return names
}

// Load assigns the instrument a channel and sends its program change.
func (o *Output) Load(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	program, ok := Program(instrument)
	if !ok {
		return fmt.Errorf("midiout: no General MIDI program for %q", instrument)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.channels[instrument]; ok {
		return nil
	}
	ch := o.allocate(instrument)
	if err := o.send(midi.ProgramChange(ch, program)); err != nil {
		return fmt.Errorf("midiout: program change: %w", err)
	}
	o.log.Debug("midi program", "instrument", instrument, "channel", ch, "program", program)
	return nil
}

func (o *Output) allocate(instrument string) uint8 {
	ch := o.next
	if ch == drumChannel {
		ch++
	}
	o.next = (ch + 1) % 16
	o.channels[instrument] = ch
	return ch
}

// Schedule plans note on and note off messages. The channel closes when the
// longest note, or rest, has ended.
func (o *Output) Schedule(instrument string, at float64, notes []voicebank.NoteSpec) <-chan struct{} {
	g := &group{done: make(chan struct{})}
	if len(notes) == 0 {
		close(g.done)
		return g.done
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.channels[instrument]
	if !ok {
		ch = o.allocate(instrument)
	}
	end := at
	for _, n := range notes {
		end = max(end, at+n.Duration)
		if n.Rest {
			continue
		}
		key := uint8(clampInt(n.Pitch, 0, 127))
		o.push(at, midi.NoteOn(ch, key, velocity(n.Gain)), nil)
		o.push(at+n.Duration, midi.NoteOff(ch, key), nil)
	}
	o.push(end, nil, g)
	return g.done
}

func (o *Output) push(at float64, msg midi.Message, g *group) {
	o.seq++
	heap.Push(&o.queue, planned{at: at, seq: o.seq, msg: msg, g: g})
}

// Flush sends every message due at or before now.
func (o *Output) Flush(now float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.queue.Len() > 0 && clock.Round(o.queue[0].at) <= clock.Round(now) {
		p := heap.Pop(&o.queue).(planned)
		if p.g != nil {
			close(p.g.done)
			continue
		}
		o.write(p.msg)
	}
}

func (o *Output) write(msg midi.Message) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		o.sounding[noteKey{ch, key}]++
	case msg.GetNoteEnd(&ch, &key):
		k := noteKey{ch, key}
		if o.sounding[k] <= 1 {
			delete(o.sounding, k)
		} else {
			o.sounding[k]--
		}
	}
	if err := o.send(msg); err != nil {
		o.log.Warn("midi send failed", "msg", msg.String(), "err", err)
	}
}

// Run flushes on every tick until ctx is done.
func (o *Output) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Flush(o.clock.Now())
		}
	}
}

// Stop silences sounding notes, drops planned messages and closes every
// outstanding channel.
func (o *Output) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.queue {
		if p.g != nil {
			close(p.g.done)
		}
	}
	o.queue = nil
	for k := range o.sounding {
		if err := o.send(midi.NoteOff(k.ch, k.key)); err != nil {
			o.log.Warn("midi send failed", "err", err)
		}
	}
	clear(o.sounding)
}

func velocity(gain float64) uint8 {
	return uint8(clampInt(int(math.Round(gain*100)), 1, 127))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
