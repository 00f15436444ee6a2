// Package config loads the player configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/stepcue/internal/engine"
	"github.com/cbegin/stepcue/internal/scheduler"
	"github.com/cbegin/stepcue/internal/voicebank"
)

const (
	BackendAudio = "audio"
	BackendMIDI  = "midi"
)

// SchedulerConfig holds the scheduling constants. Durations are written as
// Go duration strings, e.g. "200ms".
type SchedulerConfig struct {
	InitDelay     time.Duration `yaml:"init_delay"`
	ClockInterval time.Duration `yaml:"clock_interval"`
	Horizon       time.Duration `yaml:"horizon"`
}

// VoiceConfig overrides the settings of one score voice.
type VoiceConfig struct {
	Instrument  string   `yaml:"instrument,omitempty"`
	Volume      *float64 `yaml:"volume,omitempty"`
	OctaveShift int      `yaml:"octave_shift,omitempty"`
}

type Config struct {
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	CompensationMs float64         `yaml:"compensation_ms"`
	DefaultBPM     float64         `yaml:"default_bpm"`
	Looping        bool            `yaml:"looping"`

	Backend    string `yaml:"backend"`
	SampleRate int    `yaml:"sample_rate"`
	Instrument string `yaml:"instrument"`
	MIDIPort   string `yaml:"midi_port,omitempty"`

	Listen string                 `yaml:"listen,omitempty"`
	Voices map[string]VoiceConfig `yaml:"voices,omitempty"`
}

func Default() *Config {
	sched := scheduler.DefaultConfig()
	opts := engine.DefaultOptions()
	return &Config{
		Scheduler: SchedulerConfig{
			InitDelay:     sched.InitDelay,
			ClockInterval: sched.ClockInterval,
			Horizon:       sched.Horizon,
		},
		CompensationMs: opts.CompensationMs,
		DefaultBPM:     opts.DefaultBPM,
		Backend:        BackendAudio,
		SampleRate:     48000,
		Instrument:     voicebank.DefaultInstrument,
	}
}

// Path returns the default location of the configuration file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "stepcue", "config.yaml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.InitDelay < 0 {
		errs = append(errs, fmt.Errorf("scheduler.init_delay %v must not be negative", c.Scheduler.InitDelay))
	}
	if c.Scheduler.ClockInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.clock_interval %v must be positive", c.Scheduler.ClockInterval))
	}
	if c.Scheduler.Horizon < c.Scheduler.ClockInterval {
		errs = append(errs, fmt.Errorf("scheduler.horizon %v must be at least clock_interval %v", c.Scheduler.Horizon, c.Scheduler.ClockInterval))
	}
	if c.CompensationMs < 0 {
		errs = append(errs, fmt.Errorf("compensation_ms %v must not be negative", c.CompensationMs))
	}
	if !engine.ValidTempo(c.DefaultBPM) {
		errs = append(errs, fmt.Errorf("default_bpm %v must be between %d and %d", c.DefaultBPM, engine.MinTempo, engine.MaxTempo))
	}
	switch c.Backend {
	case BackendAudio:
		if c.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
		}
	case BackendMIDI:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be %q or %q", c.Backend, BackendAudio, BackendMIDI))
	}
	for id, v := range c.Voices {
		if v.Volume != nil && *v.Volume < 0 {
			errs = append(errs, fmt.Errorf("voices.%s.volume %v must not be negative", id, *v.Volume))
		}
	}
	return errors.Join(errs...)
}

// EngineOptions converts the playback settings.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Scheduler: scheduler.Config{
			InitDelay:     c.Scheduler.InitDelay,
			ClockInterval: c.Scheduler.ClockInterval,
			Horizon:       c.Scheduler.Horizon,
		},
		CompensationMs: c.CompensationMs,
		DefaultBPM:     c.DefaultBPM,
	}
}
