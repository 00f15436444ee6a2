// Package audio plays the synthesizer through the system audio device.
//
// The Context's clock is the amount of audio rendered so far: it only moves
// while the player pulls samples, so suspending the player freezes time.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/cbegin/stepcue/internal/synth"
	"github.com/cbegin/stepcue/internal/voicebank"
)

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Context is a suspendable clock and a voicebank.Output. It starts
// suspended.
type Context struct {
	*synth.Instruments

	mu        sync.Mutex
	synth     *synth.Synth
	player    *ebitaudio.Player
	reader    *StreamReader
	suspended bool
	log       *slog.Logger
}

var _ voicebank.Output = (*Context)(nil)

func New(sampleRate int, params synth.Params, log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	s := synth.New(sampleRate, params)
	reader := NewStreamReader(s)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("audio: new player: %w", err)
	}
	return &Context{
		Instruments: s.Instruments(),
		synth:       s,
		player:      pl,
		reader:      reader,
		suspended:   true,
		log:         log,
	}, nil
}

func (c *Context) Load(ctx context.Context, instrument string) error {
	if err := c.Instruments.Load(ctx, instrument); err != nil {
		return err
	}
	c.log.Debug("preset ready", "instrument", instrument)
	return nil
}

func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended {
		return
	}
	c.player.Pause()
	c.suspended = true
}

func (c *Context) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended {
		return
	}
	c.player.Play()
	c.suspended = false
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.player.Pause()
	if err := c.player.Close(); err != nil {
		return err
	}
	return c.reader.Close()
}
