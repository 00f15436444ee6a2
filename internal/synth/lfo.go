package synth

import "math"

type LFOShape int

const (
	LFOSine LFOShape = iota
	LFOTriangle
	LFOSquare
	LFOSaw
)

// lfo is a per-voice low-frequency oscillator. Sample returns a value in
// [-depth, +depth] and advances one frame.
type lfo struct {
	depth  float64
	rateHz float64
	shape  LFOShape
	phase  float64 // [0, 1)
}

func (l *lfo) Active() bool { return l.depth != 0 && l.rateHz != 0 }

func (l *lfo) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate == 0 {
		return 0
	}
	var v float64
	switch l.shape {
	case LFOTriangle:
		if l.phase < 0.5 {
			v = 4*l.phase - 1
		} else {
			v = 3 - 4*l.phase
		}
	case LFOSquare:
		v = -1
		if l.phase < 0.5 {
			v = 1
		}
	case LFOSaw:
		v = 1 - 2*l.phase
	default:
		v = math.Sin(twoPi * l.phase)
	}
	l.phase += l.rateHz / sampleRate
	for l.phase >= 1 {
		l.phase--
	}
	return v * l.depth
}
