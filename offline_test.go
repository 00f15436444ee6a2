package stepcue

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/cbegin/stepcue/internal/score"
)

func firstSound(samples []float32) int {
	for i := 0; i < len(samples); i += 2 {
		if math.Abs(float64(samples[i])) > 1e-6 {
			return i / 2
		}
	}
	return -1
}

func TestRenderPlaysWholeScore(t *testing.T) {
	sc, err := score.Parse("t120 o5 l8 cdefgab>c")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	opts := DefaultRenderOptions()
	opts.SampleRate = 8000
	opts.BlockFrames = 80
	samples, err := Render(context.Background(), sc, opts)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(samples)%2 != 0 {
		t.Fatalf("expected interleaved stereo, got %d samples", len(samples))
	}
	// Eight eighths at 120 BPM last 2s, plus the release of the last note.
	frames := len(samples) / 2
	if frames < 2*8000 || frames > 5*8000 {
		t.Fatalf("unexpected render length %d frames", frames)
	}
	if got := firstSound(samples); got != 0 {
		t.Fatalf("expected the first step to sound immediately, got frame %d", got)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	sc, err := score.Parse("t150 l16 {ceg}4 r8 c&c d")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	opts := DefaultRenderOptions()
	opts.SampleRate = 8000
	a, err := Render(context.Background(), sc, opts)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	b, err := Render(context.Background(), sc, opts)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("render lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("renders differ at sample %d", i)
		}
	}
}

func TestRenderLoopingStopsAtLimit(t *testing.T) {
	sc, err := score.Parse("c4 d4")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	opts := DefaultRenderOptions()
	opts.SampleRate = 4000
	opts.Looping = true
	opts.MaxSeconds = 3
	samples, err := Render(context.Background(), sc, opts)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := len(samples) / 2; got != 12000 {
		t.Fatalf("expected 12000 frames, got %d", got)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	sc, _ := score.Parse("c")
	if _, err := Render(context.Background(), sc, RenderOptions{}); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := DefaultRenderOptions()
	opts.SampleRate = 8000
	if _, err := Render(ctx, sc, opts); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestEncodeWAVFloat32LE(t *testing.T) {
	wav := EncodeWAVFloat32LE([]float32{0.5, -0.5, 1, -1}, 44100, 2)
	if len(wav) != 44+16 {
		t.Fatalf("expected %d bytes, got %d", 44+16, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	if format := binary.LittleEndian.Uint16(wav[20:]); format != 3 {
		t.Fatalf("expected IEEE float format, got %d", format)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 44100 {
		t.Fatalf("expected 44100 Hz, got %d", rate)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(wav[48:])); got != -0.5 {
		t.Fatalf("expected second sample -0.5, got %v", got)
	}
}
