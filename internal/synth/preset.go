package synth

import (
	"slices"
)

type Wave int

const (
	WavePulse12 Wave = iota
	WavePulse25
	WaveSquare
	WaveTriangle
	WaveSaw
	WaveSine
	WaveNoise
)

// Preset is an instrument: a waveform with an ADSR envelope and optional
// vibrato.
type Preset struct {
	Wave    Wave
	Attack  float64 // seconds
	Decay   float64 // seconds
	Sustain float64 // level 0..1
	Release float64 // seconds
	Level   float64

	VibratoDepth float64 // semitones
	VibratoRate  float64 // Hz
	VibratoShape LFOShape
}

var presets = map[string]Preset{
	"acoustic_grand_piano": {Wave: WaveTriangle, Attack: 0.004, Decay: 0.6, Sustain: 0.35, Release: 0.25, Level: 1},
	"electric_piano":       {Wave: WaveSine, Attack: 0.004, Decay: 0.8, Sustain: 0.3, Release: 0.3, Level: 1},
	"square":               {Wave: WaveSquare, Attack: 0.005, Decay: 0.15, Sustain: 0.65, Release: 0.1, Level: 0.6},
	"pulse":                {Wave: WavePulse25, Attack: 0.005, Decay: 0.15, Sustain: 0.65, Release: 0.1, Level: 0.6},
	"pulse_narrow":         {Wave: WavePulse12, Attack: 0.005, Decay: 0.15, Sustain: 0.65, Release: 0.1, Level: 0.6},
	"triangle":             {Wave: WaveTriangle, Attack: 0.005, Decay: 0.05, Sustain: 0.9, Release: 0.08, Level: 1},
	"sawtooth":             {Wave: WaveSaw, Attack: 0.01, Decay: 0.2, Sustain: 0.6, Release: 0.15, Level: 0.5},
	"church_organ":         {Wave: WaveSquare, Attack: 0.02, Decay: 0.01, Sustain: 1, Release: 0.12, Level: 0.5},
	"flute": {
		Wave: WaveSine, Attack: 0.06, Decay: 0.1, Sustain: 0.8, Release: 0.15, Level: 1,
		VibratoDepth: 0.12, VibratoRate: 5.5, VibratoShape: LFOTriangle,
	},
	"violin": {
		Wave: WaveSaw, Attack: 0.08, Decay: 0.1, Sustain: 0.85, Release: 0.2, Level: 0.45,
		VibratoDepth: 0.2, VibratoRate: 6, VibratoShape: LFOSine,
	},
	"noise": {Wave: WaveNoise, Attack: 0.001, Decay: 0.08, Sustain: 0.2, Release: 0.05, Level: 0.4},
}

// Lookup returns the preset registered under name.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// Names lists the registered presets in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
