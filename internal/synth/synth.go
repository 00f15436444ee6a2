// Package synth is a small polyphonic synthesizer whose notes are scheduled
// against its own rendered-frame counter.
package synth

import (
	"math"
	"sync"

	"github.com/cbegin/stepcue/internal/voicebank"
)

const twoPi = math.Pi * 2

const never = math.MaxInt64

type Params struct {
	Voices     int
	MasterGain float64
	LPFCutoff  float64 // lowpass filter cutoff in Hz (0 = disabled)
}

func DefaultParams() Params {
	return Params{
		Voices:     24,
		MasterGain: 0.25,
		LPFCutoff:  12000,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active    bool
	id        int
	age       int
	preset    Preset
	freq      float64
	phase     float64
	gain      float64
	env       float64
	envState  envState
	noiseLFSR uint16
	vibrato   lfo
}

type group struct {
	pending int
	done    chan struct{}
}

type event struct {
	start, end int64
	pitch      int
	gain       float64
	rest       bool
	preset     Preset
	started    bool
	voiceID    int
	g          *group
}

type Synth struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params
	voices     []voice
	nextID     int
	frame      int64
	events     []*event
	nextEvent  int64
	dcPrevIn   float64
	dcPrevOut  float64
	lpf        float64
	lpfAlpha   float64
}

func New(sampleRate int, params Params) *Synth {
	if params.Voices <= 0 {
		params.Voices = DefaultParams().Voices
	}
	s := &Synth{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Voices),
		nextEvent:  never,
	}
	for i := range s.voices {
		s.voices[i].noiseLFSR = uint16(0xACE1 + i*97)
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		s.lpfAlpha = dt / (rc + dt)
	}
	return s
}

func (s *Synth) SampleRate() int { return int(s.sampleRate) }

// Frame returns the number of frames rendered so far.
func (s *Synth) Frame() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Schedule queues notes to start at startFrame. A start frame already
// rendered is moved to the next frame. The returned channel is closed when
// the last note of the group reaches its end frame; rests only take time.
func (s *Synth) Schedule(p Preset, startFrame int64, notes []voicebank.NoteSpec) <-chan struct{} {
	done := make(chan struct{})
	if len(notes) == 0 {
		close(done)
		return done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if startFrame < s.frame {
		startFrame = s.frame
	}
	g := &group{pending: len(notes), done: done}
	for _, n := range notes {
		frames := int64(math.Round(n.Duration * s.sampleRate))
		if frames < 0 {
			frames = 0
		}
		gain := n.Gain
		if gain < 0 {
			gain = 0
		}
		s.events = append(s.events, &event{
			start:  startFrame,
			end:    startFrame + frames,
			pitch:  n.Pitch,
			gain:   gain,
			rest:   n.Rest,
			preset: p,
			g:      g,
		})
	}
	s.nextEvent = min(s.nextEvent, startFrame)
	return done
}

// Stop releases every sounding voice, drops queued notes and closes the
// channels of all outstanding groups.
func (s *Synth) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.voices {
		v := &s.voices[i]
		if v.active && v.envState != envRelease {
			v.envState = envRelease
		}
	}
	closed := map[*group]bool{}
	for _, e := range s.events {
		if !closed[e.g] {
			closed[e.g] = true
			close(e.g.done)
		}
	}
	s.events = nil
	s.nextEvent = never
}

// ActiveVoiceCount returns the number of sounding voices.
func (s *Synth) ActiveVoiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

// Process renders interleaved stereo frames into dst.
func (s *Synth) Process(dst []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(dst); i += 2 {
		if s.frame >= s.nextEvent {
			s.handleEvents()
		}
		x := s.renderFrame()
		dst[i] = x
		dst[i+1] = x
		s.frame++
	}
}

func (s *Synth) handleEvents() {
	next := int64(never)
	kept := s.events[:0]
	for _, e := range s.events {
		if !e.started && e.start <= s.frame {
			e.started = true
			if !e.rest {
				e.voiceID = s.noteOn(e)
			}
		}
		if e.started && e.end <= s.frame {
			if !e.rest {
				s.noteOff(e.voiceID)
			}
			e.g.pending--
			if e.g.pending == 0 {
				close(e.g.done)
			}
			continue
		}
		if e.started {
			next = min(next, e.end)
		} else {
			next = min(next, e.start)
		}
		kept = append(kept, e)
	}
	clear(s.events[len(kept):])
	s.events = kept
	s.nextEvent = next
}

func (s *Synth) noteOn(e *event) int {
	slot := s.stealVoice()
	id := s.nextID
	s.nextID++
	v := &s.voices[slot]
	v.active = true
	v.id = id
	v.age = 0
	v.preset = e.preset
	v.freq = midiToFreq(e.pitch)
	v.phase = 0
	v.gain = e.gain
	v.env = 0
	v.envState = envAttack
	v.vibrato = lfo{depth: e.preset.VibratoDepth, rateHz: e.preset.VibratoRate, shape: e.preset.VibratoShape}
	if v.noiseLFSR == 0 {
		v.noiseLFSR = 0xACE1
	}
	return id
}

func (s *Synth) noteOff(id int) {
	for i := range s.voices {
		v := &s.voices[i]
		if v.active && v.id == id && v.envState != envRelease {
			v.envState = envRelease
		}
	}
}

func (s *Synth) renderFrame() float32 {
	var out float64
	for i := range s.voices {
		v := &s.voices[i]
		if !v.active {
			continue
		}
		v.age++
		env := s.advanceEnv(v)
		if !v.active {
			continue
		}
		freq := v.freq
		if v.vibrato.Active() {
			freq *= math.Pow(2, v.vibrato.Sample(s.sampleRate)/12.0)
		}
		out += s.renderWave(v, freq) * env * v.preset.Level * v.gain
	}
	out *= s.params.MasterGain
	out = s.dcBlock(out)
	if s.lpfAlpha > 0 {
		s.lpf += s.lpfAlpha * (out - s.lpf)
		out = s.lpf
	}
	return float32(clamp(out, -1, 1))
}

func (s *Synth) dcBlock(x float64) float64 {
	const r = 0.995
	y := x - s.dcPrevIn + r*s.dcPrevOut
	s.dcPrevIn = x
	s.dcPrevOut = y
	return y
}

// polyBLEP reduces aliasing at waveform discontinuities.
// t is the phase position [0,1), dt is the phase increment per sample.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func pulse(phase, dt, duty float64) float64 {
	out := -1.0
	if phase < duty {
		out = 1
	}
	out += polyBLEP(phase, dt)
	out -= polyBLEP(math.Mod(phase-duty+1, 1), dt)
	return out
}

func (s *Synth) renderWave(v *voice, freq float64) float64 {
	dt := freq / s.sampleRate
	v.phase += dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	switch v.preset.Wave {
	case WavePulse12:
		return pulse(v.phase, dt, 0.125)
	case WavePulse25:
		return pulse(v.phase, dt, 0.25)
	case WaveSquare:
		return pulse(v.phase, dt, 0.5)
	case WaveTriangle:
		return 2*math.Abs(2*v.phase-1) - 1
	case WaveSaw:
		return 2*v.phase - 1 - polyBLEP(v.phase, dt)
	case WaveSine:
		return math.Sin(twoPi * v.phase)
	case WaveNoise:
		if v.phase < dt {
			bit := (v.noiseLFSR ^ (v.noiseLFSR >> 1)) & 1
			v.noiseLFSR = (v.noiseLFSR >> 1) | (bit << 15)
		}
		if v.noiseLFSR&1 == 1 {
			return 1
		}
		return -1
	default:
		return 0
	}
}

func (s *Synth) stealVoice() int {
	for i := range s.voices {
		if !s.voices[i].active {
			return i
		}
	}
	// Steal the oldest releasing voice, or failing that the oldest active voice.
	oldestRelease := -1
	oldestReleaseAge := -1
	oldestActive := 0
	oldestActiveAge := -1
	for i := range s.voices {
		v := &s.voices[i]
		if v.envState == envRelease && v.age > oldestReleaseAge {
			oldestRelease = i
			oldestReleaseAge = v.age
		}
		if v.age > oldestActiveAge {
			oldestActive = i
			oldestActiveAge = v.age
		}
	}
	if oldestRelease >= 0 {
		return oldestRelease
	}
	return oldestActive
}

func (s *Synth) advanceEnv(v *voice) float64 {
	p := v.preset
	switch v.envState {
	case envAttack:
		step := 1.0
		if p.Attack > 0 {
			step = 1.0 / (p.Attack * s.sampleRate)
		}
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		step := 1.0
		if p.Decay > 0 {
			step = (1 - p.Sustain) / (p.Decay * s.sampleRate)
		}
		v.env -= step
		if v.env <= p.Sustain {
			v.env = p.Sustain
			v.envState = envSustain
		}
	case envSustain:
	case envRelease:
		step := 1.0
		if p.Release > 0 {
			step = max(p.Sustain, 0.05) / (p.Release * s.sampleRate)
		}
		v.env -= step
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
