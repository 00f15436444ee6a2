package synth

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/cbegin/stepcue/internal/voicebank"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func render(s *Synth, frames int) []float32 {
	buf := make([]float32, frames*2)
	s.Process(buf)
	return buf
}

func peak(buf []float32) float64 {
	var p float64
	for _, x := range buf {
		p = max(p, math.Abs(float64(x)))
	}
	return p
}

func TestScheduledNoteStartsAndCompletes(t *testing.T) {
	s := New(1000, DefaultParams())
	p, _ := Lookup("triangle")
	done := s.Schedule(p, 10, []voicebank.NoteSpec{{Pitch: 69, Duration: 0.05, Gain: 1}})

	if got := peak(render(s, 10)); got != 0 {
		t.Fatalf("expected silence before the start frame, got peak %v", got)
	}
	if isClosed(done) {
		t.Fatalf("group completed before it started")
	}
	if got := peak(render(s, 40)); got == 0 {
		t.Fatalf("expected sound while the note plays")
	}
	if s.ActiveVoiceCount() != 1 {
		t.Fatalf("expected one active voice, got %d", s.ActiveVoiceCount())
	}
	render(s, 11)
	if !isClosed(done) {
		t.Fatalf("expected group to complete at its end frame")
	}
	if s.Frame() != 61 {
		t.Fatalf("expected frame 61, got %d", s.Frame())
	}
}

func TestGroupWaitsForLongestNote(t *testing.T) {
	s := New(1000, DefaultParams())
	p, _ := Lookup("square")
	done := s.Schedule(p, 0, []voicebank.NoteSpec{
		{Pitch: 60, Duration: 0.01, Gain: 1},
		{Pitch: 64, Duration: 0.03, Gain: 1},
	})
	render(s, 20)
	if isClosed(done) {
		t.Fatalf("group completed before its longest note")
	}
	render(s, 11)
	if !isClosed(done) {
		t.Fatalf("expected group to complete")
	}
}

func TestRestTakesTimeSilently(t *testing.T) {
	s := New(1000, DefaultParams())
	p, _ := Lookup("acoustic_grand_piano")
	done := s.Schedule(p, 0, []voicebank.NoteSpec{{Duration: 0.02, Rest: true}})
	buf := render(s, 15)
	if isClosed(done) {
		t.Fatalf("rest completed early")
	}
	if got := peak(buf); got != 0 {
		t.Fatalf("expected a silent rest, got peak %v", got)
	}
	render(s, 10)
	if !isClosed(done) {
		t.Fatalf("expected rest to complete")
	}
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("rest should not take a voice")
	}
}

func TestScheduleInPastStartsNow(t *testing.T) {
	s := New(1000, DefaultParams())
	render(s, 100)
	if _, ok := Lookup("sine"); ok {
		t.Fatalf("sine is not a registered preset")
	}
	p, _ := Lookup("electric_piano")
	done := s.Schedule(p, 0, []voicebank.NoteSpec{{Pitch: 72, Duration: 0.01, Gain: 1}})
	render(s, 10)
	if isClosed(done) {
		t.Fatalf("late note should play its full length")
	}
	render(s, 1)
	if !isClosed(done) {
		t.Fatalf("expected late note to complete")
	}
}

func TestStopClosesPendingGroups(t *testing.T) {
	s := New(1000, DefaultParams())
	p, _ := Lookup("violin")
	playing := s.Schedule(p, 0, []voicebank.NoteSpec{{Pitch: 60, Duration: 1, Gain: 1}})
	queued := s.Schedule(p, 500, []voicebank.NoteSpec{{Pitch: 62, Duration: 1, Gain: 1}})
	render(s, 50)
	s.Stop()
	if !isClosed(playing) || !isClosed(queued) {
		t.Fatalf("expected Stop to close every group")
	}
	render(s, 1000)
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("expected voices to release after Stop, got %d", s.ActiveVoiceCount())
	}
}

func TestEmptyScheduleIsDone(t *testing.T) {
	s := New(1000, DefaultParams())
	if !isClosed(s.Schedule(Preset{}, 0, nil)) {
		t.Fatalf("expected empty group to be done")
	}
}

func TestVoiceStealing(t *testing.T) {
	s := New(1000, Params{Voices: 2, MasterGain: 0.25})
	p, _ := Lookup("church_organ")
	var groups []<-chan struct{}
	for i := range 4 {
		groups = append(groups, s.Schedule(p, 0, []voicebank.NoteSpec{{Pitch: 60 + i, Duration: 0.02, Gain: 1}}))
	}
	render(s, 5)
	if s.ActiveVoiceCount() != 2 {
		t.Fatalf("expected voice limit of 2, got %d", s.ActiveVoiceCount())
	}
	render(s, 20)
	for i, g := range groups {
		if !isClosed(g) {
			t.Fatalf("group %d did not complete", i)
		}
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if !slices.Contains(names, voicebank.DefaultInstrument) {
		t.Fatalf("expected %s in %v", voicebank.DefaultInstrument, names)
	}
	if !slices.IsSorted(names) {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestVibratoStaysBounded(t *testing.T) {
	l := lfo{depth: 0.5, rateHz: 5, shape: LFOTriangle}
	for range 2000 {
		if v := l.Sample(1000); v < -0.5 || v > 0.5 {
			t.Fatalf("lfo out of range: %v", v)
		}
	}
	if (&lfo{}).Sample(1000) != 0 {
		t.Fatalf("inactive lfo should be flat")
	}
}

func TestInstruments(t *testing.T) {
	s := New(1000, DefaultParams())
	out := s.Instruments()
	if err := out.Load(context.Background(), "flute"); err != nil {
		t.Fatalf("load flute: %v", err)
	}
	if err := out.Load(context.Background(), "kazoo"); err == nil {
		t.Fatalf("expected unknown instrument error")
	}
	done := out.Schedule("kazoo", 0.01, []voicebank.NoteSpec{{Pitch: 60, Duration: 0.01, Gain: 1}})
	if out.Idle() {
		t.Fatalf("expected queued note")
	}
	render(s, 25)
	if !isClosed(done) {
		t.Fatalf("expected note to complete")
	}
	if got := out.Now(); got != 0.025 {
		t.Fatalf("expected now 0.025, got %v", got)
	}
	render(s, 1000)
	if !out.Idle() {
		t.Fatalf("expected synth to go idle after release")
	}
}
