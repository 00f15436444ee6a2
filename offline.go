package stepcue

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/engine"
	"github.com/cbegin/stepcue/internal/score"
	"github.com/cbegin/stepcue/internal/synth"
	"github.com/cbegin/stepcue/internal/voicebank"
)

type RenderOptions struct {
	SampleRate  int
	BlockFrames int
	// MaxSeconds bounds the output, for looping or runaway scores.
	MaxSeconds float64
	Instrument string
	Looping    bool
	Synth      synth.Params
	Engine     engine.Options
	Logger     *slog.Logger
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		SampleRate:  48000,
		BlockFrames: 256,
		MaxSeconds:  600,
		Instrument:  voicebank.DefaultInstrument,
		Synth:       synth.DefaultParams(),
		Engine:      engine.DefaultOptions(),
	}
}

type nopCursor struct{}

func (nopCursor) Show()  {}
func (nopCursor) Hide()  {}
func (nopCursor) Reset() {}
func (nopCursor) Next()  {}

// Render plays sc through the scheduling engine on a simulated clock and
// returns interleaved stereo samples. Rendering runs until playback has
// stopped and the last note has released, or MaxSeconds is reached.
func Render(ctx context.Context, sc *score.Score, opts RenderOptions) ([]float32, error) {
	def := DefaultRenderOptions()
	if opts.SampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = def.BlockFrames
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = def.MaxSeconds
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Engine.Logger = opts.Logger

	s := synth.New(opts.SampleRate, opts.Synth)
	out := s.Instruments()
	bank := voicebank.New(out, opts.Instrument, opts.Logger)
	fake := clock.NewFake()
	eng := engine.New(bank, nopCursor{}, fake, fake, opts.Engine)
	if err := eng.LoadScore(sc); err != nil {
		return nil, err
	}
	eng.SetLooping(opts.Looping)
	if err := eng.Play(ctx); err != nil {
		return nil, err
	}

	sr := int64(opts.SampleRate)
	block := int64(opts.BlockFrames)
	maxFrames := int64(opts.MaxSeconds * float64(opts.SampleRate))
	buf := make([]float32, block*2)
	var samples []float32
	var frames int64
	for frames < maxFrames {
		if err := ctx.Err(); err != nil {
			eng.Stop()
			return nil, err
		}
		next := min(frames+block, maxFrames)
		// Timers due within the block run first so their notes land in it.
		target := time.Duration(next * int64(time.Second) / sr)
		fake.Advance(target - fake.Elapsed())
		n := next - frames
		s.Process(buf[:n*2])
		samples = append(samples, buf[:n*2]...)
		frames = next
		if eng.State() != engine.Playing && out.Idle() {
			break
		}
	}
	eng.Stop()
	return samples, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
