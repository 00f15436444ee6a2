package voicebank

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/stepcue/internal/position"
)

type note struct {
	voice string
	tone  int
	rest  bool
}

func (n *note) Length() position.Position { return position.New(1, 4) }
func (n *note) Voice() string             { return n.voice }
func (n *note) HalfTone() int             { return n.tone }
func (n *note) Rest() bool                { return n.rest }

type call struct {
	instrument string
	at         float64
	notes      []NoteSpec
}

type fakeOutput struct {
	mu      sync.Mutex
	loads   []string
	calls   []call
	pending []chan struct{}
	fail    string
}

func (o *fakeOutput) Load(_ context.Context, instrument string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if instrument == o.fail {
		return errors.New("no such instrument")
	}
	o.loads = append(o.loads, instrument)
	return nil
}

func (o *fakeOutput) Schedule(instrument string, at float64, notes []NoteSpec) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call{instrument, at, notes})
	ch := make(chan struct{})
	o.pending = append(o.pending, ch)
	return ch
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.pending {
		close(ch)
	}
	o.pending = nil
}

func closedWithin(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	default:
	}
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

func TestInitKeepsKnownVoices(t *testing.T) {
	b := New(&fakeOutput{}, "", nil)
	b.Init([]string{"P1.1", "P1.2", "P1.1"})
	require.NoError(t, b.SetVolume("P1.2", 0.5))

	b.Init([]string{"P1.2", "P2.1"})
	voices := b.Voices()
	require.Len(t, voices, 2)
	assert.Equal(t, Voice{ID: "P1.2", Instrument: DefaultInstrument, Volume: 0.5}, voices[0])
	assert.Equal(t, Voice{ID: "P2.1", Instrument: DefaultInstrument, Volume: 1}, voices[1])
}

func TestPrepareLoadsEachInstrumentOnce(t *testing.T) {
	out := &fakeOutput{}
	b := New(out, "square", nil)
	b.Init([]string{"a", "b", "c"})
	require.NoError(t, b.SetInstrument(context.Background(), "c", "triangle"))
	require.NoError(t, b.Prepare(context.Background()))
	require.NoError(t, b.Prepare(context.Background()))
	assert.Equal(t, []string{"triangle", "square"}, out.loads)
}

func TestSetInstrumentErrors(t *testing.T) {
	out := &fakeOutput{fail: "kazoo"}
	b := New(out, "", nil)
	b.Init([]string{"a"})

	err := b.SetInstrument(context.Background(), "missing", "square")
	assert.ErrorIs(t, err, ErrUnknownVoice)

	err = b.SetInstrument(context.Background(), "a", "kazoo")
	assert.Error(t, err)
	assert.Equal(t, DefaultInstrument, b.Voices()[0].Instrument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.SetInstrument(ctx, "a", "square"), context.Canceled)
}

func TestAddNoteAppliesVoiceConfig(t *testing.T) {
	b := New(&fakeOutput{}, "square", nil)
	b.Init([]string{"a", "b"})
	require.NoError(t, b.SetOctaveShift("a", -1))
	require.NoError(t, b.SetVolume("b", 0.25))
	require.Error(t, b.SetVolume("b", -1))

	batch := Batch{}
	b.AddNote(batch, &note{voice: "a", tone: 60}, 0.5)
	b.AddNote(batch, &note{voice: "b", tone: 64}, 0.25)
	b.AddNote(batch, &note{voice: "b", rest: true}, 0.25)
	b.AddNote(batch, &note{voice: "zz", tone: 67}, 1)

	assert.Equal(t, Batch{
		"square": {
			{Pitch: 48, Duration: 0.5, Gain: 1},
			{Pitch: 64, Duration: 0.25, Gain: 0.25},
			{Duration: 0.25, Gain: 0.25, Rest: true},
			{Pitch: 67, Duration: 1, Gain: 1},
		},
	}, batch)
	assert.Equal(t, 4, batch.Len())
}

func TestScheduleEmptyBatchCompletesImmediately(t *testing.T) {
	out := &fakeOutput{}
	b := New(out, "", nil)
	done := b.Schedule(Batch{}, 1)
	assert.True(t, closedWithin(done, 0))
	assert.Empty(t, out.calls)
}

func TestScheduleWaitsForAllInstruments(t *testing.T) {
	out := &fakeOutput{}
	b := New(out, "", nil)
	batch := Batch{
		"square":   {{Pitch: 60, Duration: 0.1, Gain: 1}},
		"triangle": {{Pitch: 48, Duration: 0.1, Gain: 1}},
	}
	done := b.Schedule(batch, 2.5)
	require.Len(t, out.calls, 2)
	for _, c := range out.calls {
		assert.Equal(t, 2.5, c.at)
	}

	out.mu.Lock()
	close(out.pending[0])
	out.pending = out.pending[1:]
	out.mu.Unlock()
	assert.False(t, closedWithin(done, 20*time.Millisecond))

	b.Stop()
	assert.True(t, closedWithin(done, time.Second))
}
