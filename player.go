package stepcue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/stepcue/internal/audio"
	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/config"
	"github.com/cbegin/stepcue/internal/engine"
	"github.com/cbegin/stepcue/internal/midiout"
	"github.com/cbegin/stepcue/internal/score"
	"github.com/cbegin/stepcue/internal/steps"
	"github.com/cbegin/stepcue/internal/synth"
	"github.com/cbegin/stepcue/internal/voicebank"
)

var ErrClosed = errors.New("player closed")

type (
	State    = engine.State
	Cursor   = engine.Cursor
	Voice    = voicebank.Voice
	NoteSpec = voicebank.NoteSpec
	Config   = config.Config
)

const (
	StateInit    = engine.Init
	StatePlaying = engine.Playing
	StatePaused  = engine.Paused
	StateStopped = engine.Stopped
)

// Tempo bounds accepted by SetTempo, in BPM.
const (
	MinTempo = engine.MinTempo
	MaxTempo = engine.MaxTempo
)

// Backend plays sound and provides the clock it is scheduled against.
type Backend interface {
	Load(ctx context.Context, instrument string) error
	Schedule(instrument string, at float64, notes []NoteSpec) <-chan struct{}
	Stop()
	Now() float64
	Suspend()
	Resume()
}

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind  int // EventStep, EventLoopCompleted, EventStateChanged or EventPlaybackEnded
	Step  int
	State State
}

const (
	EventStep int = iota
	EventLoopCompleted
	EventStateChanged
	EventPlaybackEnded
)

// Status is a snapshot of the playback state.
type Status struct {
	Title      string  `json:"title"`
	State      string  `json:"state"`
	Step       int     `json:"step"`
	Steps      int     `json:"steps"`
	Tempo      float64 `json:"tempo"`
	Looping    bool    `json:"looping"`
	RangeStart int     `json:"rangeStart"`
	RangeEnd   int     `json:"rangeEnd"`
	Session    string  `json:"session,omitempty"`
}

// StepInfo describes one densified step.
type StepInfo struct {
	Index    int    `json:"index"`
	Position string `json:"position"`
	Notes    string `json:"notes"`
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend Backend
	cursor  Cursor
}

func WithConfig(cfg *Config) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) PlayerOption {
	return func(pc *playerConfig) {
		pc.logger = logger
	}
}

// WithBackend replaces the backend selected by the configuration.
func WithBackend(b Backend) PlayerOption {
	return func(pc *playerConfig) {
		pc.backend = b
	}
}

// WithCursor installs the visual cursor. Its methods are called on the
// player's loop goroutine and must not block.
func WithCursor(c Cursor) PlayerOption {
	return func(pc *playerConfig) {
		pc.cursor = c
	}
}

// Player plays one score at a time. Its methods are safe for concurrent use;
// playback itself runs on a single internal goroutine.
type Player struct {
	mu        sync.Mutex
	cfg       *config.Config
	log       *slog.Logger
	loop      *clock.Loop
	backend   Backend
	bank      *voicebank.Bank
	engine    *engine.Engine
	parser    *score.Parser
	title     string
	lastStep  int
	done      chan struct{}
	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
	cancel    context.CancelFunc
}

type observer struct{ p *Player }

func (o observer) CursorMoved(step int) { o.p.cursorMoved(step) }
func (o observer) StateChanged(s State) { o.p.stateChanged(s) }

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	pc := playerConfig{}
	for _, opt := range opts {
		opt(&pc)
	}
	if pc.cfg == nil {
		pc.cfg = config.Default()
	}
	if err := pc.cfg.Validate(); err != nil {
		return nil, err
	}
	if pc.logger == nil {
		pc.logger = slog.Default()
	}
	if pc.cursor == nil {
		pc.cursor = nopCursor{}
	}
	if pc.backend == nil {
		b, err := newBackend(pc.cfg, pc.logger)
		if err != nil {
			return nil, err
		}
		pc.backend = b
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		cfg:     pc.cfg,
		log:     pc.logger,
		loop:    clock.NewLoop(),
		backend: pc.backend,
		parser:  score.NewParser(score.DefaultParserConfig()),
		cancel:  cancel,
	}
	p.bank = voicebank.New(pc.backend, pc.cfg.Instrument, pc.logger)
	eo := pc.cfg.EngineOptions()
	eo.Logger = pc.logger
	eo.Observer = observer{p}
	p.engine = engine.New(p.bank, pc.cursor, pc.backend, p.loop, eo)
	p.engine.SetLooping(pc.cfg.Looping)

	go p.loop.Run(ctx)
	if r, ok := pc.backend.(interface{ Run(context.Context) }); ok {
		go r.Run(ctx)
	}
	return p, nil
}

type midiBackend struct {
	*midiout.Output
	*clock.Wall
}

func (b *midiBackend) Run(ctx context.Context) {
	b.Output.Run(ctx, time.Millisecond)
}

func (b *midiBackend) Close() error {
	b.Output.Stop()
	return midi.CloseDriver()
}

func newBackend(cfg *config.Config, log *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMIDI:
		send, err := midiout.Open(cfg.MIDIPort)
		if err != nil {
			return nil, err
		}
		wall := clock.NewWall()
		return &midiBackend{Output: midiout.New(send, wall, log), Wall: wall}, nil
	default:
		return audio.New(cfg.SampleRate, synth.DefaultParams(), log)
	}
}

func (p *Player) do(f func()) error {
	if !p.loop.Do(f) {
		return ErrClosed
	}
	return nil
}

// Load replaces the current score. Voice overrides from the configuration
// are applied to the new score's voices.
func (p *Player) Load(sc *score.Score) error {
	var err error
	if doErr := p.do(func() { err = p.engine.LoadScore(sc) }); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.title = sc.Title
	p.mu.Unlock()
	p.applyVoiceConfig()
	return nil
}

func (p *Player) LoadMML(src string) error {
	sc, err := p.parser.Parse(src)
	if err != nil {
		return err
	}
	return p.Load(sc)
}

func (p *Player) LoadFile(path string) error {
	sc, err := score.Load(path, p.parser)
	if err != nil {
		return err
	}
	return p.Load(sc)
}

func (p *Player) applyVoiceConfig() {
	for id, vc := range p.cfg.Voices {
		if vc.Instrument != "" {
			if err := p.bank.SetInstrument(context.Background(), id, vc.Instrument); err != nil {
				p.log.Warn("voice config", "voice", id, "err", err)
				continue
			}
		}
		if vc.Volume != nil {
			if err := p.bank.SetVolume(id, *vc.Volume); err != nil {
				p.log.Debug("voice config", "voice", id, "err", err)
			}
		}
		if vc.OctaveShift != 0 {
			if err := p.bank.SetOctaveShift(id, vc.OctaveShift); err != nil {
				p.log.Debug("voice config", "voice", id, "err", err)
			}
		}
	}
}

// Play loads every instrument the score needs, then starts playback from the
// start of the range.
func (p *Player) Play(ctx context.Context) error {
	if err := p.engine.Prepare(ctx); err != nil {
		return err
	}
	var err error
	if doErr := p.do(func() {
		if err = p.engine.Start(); err == nil {
			p.mu.Lock()
			if p.done == nil {
				p.done = make(chan struct{})
			}
			p.mu.Unlock()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

func (p *Player) Pause() error  { return p.do(p.engine.Pause) }
func (p *Player) Resume() error { return p.do(p.engine.Resume) }
func (p *Player) Stop() error   { return p.do(p.engine.Stop) }

// Toggle pauses a playing player, resumes a paused one and starts a stopped
// one.
func (p *Player) Toggle(ctx context.Context) error {
	var st State
	if err := p.do(func() { st = p.engine.State() }); err != nil {
		return err
	}
	switch st {
	case StatePlaying:
		return p.Pause()
	case StatePaused:
		return p.Resume()
	default:
		return p.Play(ctx)
	}
}

func (p *Player) JumpToStep(n int) error {
	return p.do(func() { p.engine.JumpToStep(n) })
}

func (p *Player) SetTempo(bpm float64) error {
	var err error
	if doErr := p.do(func() { err = p.engine.SetTempo(bpm) }); doErr != nil {
		return doErr
	}
	return err
}

func (p *Player) SetLooping(looping bool) error {
	return p.do(func() { p.engine.SetLooping(looping) })
}

func (p *Player) SetRange(start, end int) error {
	return p.do(func() { p.engine.SetRange(start, end) })
}

func (p *Player) RestoreFullRange() error {
	return p.do(p.engine.RestoreFullRange)
}

func (p *Player) State() State {
	var st State
	_ = p.do(func() { st = p.engine.State() })
	return st
}

func (p *Player) Status() Status {
	var s Status
	_ = p.do(func() {
		e := p.engine
		start, end := e.Range()
		s = Status{
			State:      e.State().String(),
			Step:       e.CurrentStep(),
			Steps:      e.StepCount(),
			Tempo:      e.Tempo(),
			Looping:    e.Looping(),
			RangeStart: start,
			RangeEnd:   end,
		}
		if id := e.Session(); id != uuid.Nil {
			s.Session = id.String()
		}
	})
	p.mu.Lock()
	s.Title = p.title
	p.mu.Unlock()
	return s
}

// Steps lists the playable steps of the loaded score.
func (p *Player) Steps() []StepInfo {
	var out []StepInfo
	_ = p.do(func() {
		if idx := p.engine.Steps(); idx != nil {
			out = describeSteps(idx, p.engine.StepCount())
		}
	})
	return out
}

// ListSteps densifies sc without playing it.
func ListSteps(sc *score.Score) ([]StepInfo, error) {
	idx, count := steps.Build(sc.Entries())
	if count == 0 {
		return nil, engine.ErrEmptyScore
	}
	return describeSteps(idx, count), nil
}

func describeSteps(idx *steps.Index, count int) []StepInfo {
	out := make([]StepInfo, 0, count)
	for i := range count {
		st := idx.At(i)
		out = append(out, StepInfo{
			Index:    i,
			Position: st.Position.String(),
			Notes:    score.Describe(st.Notes),
		})
	}
	return out
}

func (p *Player) Voices() []Voice { return p.bank.Voices() }

// SetInstrument loads instrument and assigns it to a voice of the current
// score.
func (p *Player) SetInstrument(ctx context.Context, voiceID, instrument string) error {
	return p.bank.SetInstrument(ctx, voiceID, instrument)
}

func (p *Player) SetVoiceVolume(voiceID string, gain float64) error {
	return p.bank.SetVolume(voiceID, gain)
}

func (p *Player) SetOctaveShift(voiceID string, shift int) error {
	return p.bank.SetOctaveShift(voiceID, shift)
}

// Watch returns a channel that receives playback events:
//   - EventStep: the cursor moved to Step
//   - EventLoopCompleted: looping playback wrapped back to the range start
//   - EventStateChanged: the playback state became State
//   - EventPlaybackEnded: playback stopped
//
// Only the most recent Watch() channel receives events. Events are dropped
// while the channel is full.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 32)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// Wait blocks until the current playback stops. It returns immediately when
// nothing is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops playback and releases the backend.
func (p *Player) Close() error {
	_ = p.Stop()
	p.loop.Close()
	p.cancel()
	p.signalDone()
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (p *Player) signalDone() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (p *Player) cursorMoved(step int) {
	if step < p.lastStep && p.engine.State() == engine.Playing && p.engine.Looping() {
		p.sendEvent(PlaybackEvent{Kind: EventLoopCompleted, Step: step})
	}
	p.lastStep = step
	p.sendEvent(PlaybackEvent{Kind: EventStep, Step: step})
}

func (p *Player) stateChanged(s State) {
	p.sendEvent(PlaybackEvent{Kind: EventStateChanged, State: s})
	if s == engine.Stopped {
		p.lastStep = 0
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
		p.signalDone()
	}
}
