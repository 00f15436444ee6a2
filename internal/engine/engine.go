// Package engine drives score playback: it owns the playback state machine,
// feeds the scheduler's step events to the sound backend and keeps the visual
// cursor in step with what is heard.
//
// An Engine is not safe for concurrent use. All methods, and every callback
// delivered through its clock.Timers, must run on one goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cbegin/stepcue/internal/clock"
	"github.com/cbegin/stepcue/internal/scheduler"
	"github.com/cbegin/stepcue/internal/steps"
	"github.com/cbegin/stepcue/internal/voicebank"
)

var (
	ErrNoScore      = errors.New("no score loaded")
	ErrEmptyScore   = errors.New("score has no notes")
	ErrInvalidTempo = fmt.Errorf("tempo must be between %d and %d BPM", MinTempo, MaxTempo)
)

// Tempo bounds in BPM. Above MaxTempo a looping range could wrap many times
// within one scheduling horizon.
const (
	MinTempo = 10
	MaxTempo = 1000
)

// ValidTempo reports whether bpm is within [MinTempo, MaxTempo].
func ValidTempo(bpm float64) bool {
	return bpm >= MinTempo && bpm <= MaxTempo
}

type State int

const (
	Init State = iota
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Score is the score-iterator collaborator.
type Score interface {
	// Entries yields the voice entries of each iterator position in
	// document order. It may be called more than once.
	Entries() iter.Seq[[][]steps.NoteRef]
	// Voices lists the voice IDs used by the score.
	Voices() []string
	// BeatsPerWhole is the denominator of the score's rhythm.
	BeatsPerWhole() int
	// Tempo is the declared tempo in BPM, or 0.
	Tempo() float64
}

// Tied is implemented by notes that can take part in a tie. Tie returns the
// note starting the tie and the notes continuing it; start is nil when the
// note is not tied.
type Tied interface {
	Tie() (start steps.NoteRef, rest []steps.NoteRef)
}

// Sound is the sound-trigger collaborator.
type Sound interface {
	Init(voiceIDs []string)
	Prepare(ctx context.Context) error
	AddNote(b voicebank.Batch, n steps.NoteRef, duration float64)
	Schedule(b voicebank.Batch, at float64) <-chan struct{}
	Stop()
}

// Cursor is the visual position marker. It only moves forward.
type Cursor interface {
	Show()
	Hide()
	Reset()
	Next()
}

// Observer receives engine notifications on the engine goroutine. It must
// not block or call back into the engine.
type Observer interface {
	CursorMoved(step int)
	StateChanged(s State)
}

type Options struct {
	Scheduler scheduler.Config
	// CompensationMs is subtracted from cursor timers so the cursor leads
	// the sound slightly.
	CompensationMs float64
	DefaultBPM     float64
	Logger         *slog.Logger
	Observer       Observer
}

func DefaultOptions() Options {
	return Options{
		Scheduler:      scheduler.DefaultConfig(),
		CompensationMs: 40,
		DefaultBPM:     100,
	}
}

type Engine struct {
	opts   Options
	log    *slog.Logger
	sound  Sound
	cursor Cursor
	clock  clock.Suspender
	timers clock.Timers

	state   State
	session uuid.UUID

	index   *steps.Index
	sched   *scheduler.Scheduler
	count   int // iterator positions of the loaded score
	current int // step shown by the cursor
	rng     scheduler.Range
	looping bool

	bpm   float64
	beats int

	timerSeq     int
	cursorTimers map[int]clock.Timer
	waiters      map[int]clock.Timer
}

func New(sound Sound, cursor Cursor, clk clock.Suspender, timers clock.Timers, opts Options) *Engine {
	def := DefaultOptions()
	if !ValidTempo(opts.DefaultBPM) {
		opts.DefaultBPM = def.DefaultBPM
	}
	if opts.Scheduler == (scheduler.Config{}) {
		opts.Scheduler = def.Scheduler
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:         opts,
		log:          opts.Logger,
		sound:        sound,
		cursor:       cursor,
		clock:        clk,
		timers:       timers,
		bpm:          opts.DefaultBPM,
		beats:        4,
		cursorTimers: map[int]clock.Timer{},
		waiters:      map[int]clock.Timer{},
	}
}

// LoadScore densifies the score into steps and resets the range to the whole
// score. A playing or paused engine is stopped first. A declared tempo
// outside the tempo bounds is rejected.
func (e *Engine) LoadScore(s Score) error {
	if bpm := s.Tempo(); bpm != 0 && !ValidTempo(bpm) {
		return fmt.Errorf("%w: score tempo %v", ErrInvalidTempo, bpm)
	}
	if e.state == Playing || e.state == Paused {
		e.Stop()
	}
	idx, count := steps.Build(s.Entries())
	if count == 0 {
		return ErrEmptyScore
	}
	e.beats = s.BeatsPerWhole()
	if e.beats <= 0 {
		e.beats = 4
	}
	if bpm := s.Tempo(); bpm != 0 {
		e.bpm = bpm
	}
	e.sound.Init(s.Voices())
	e.index = idx
	// Positions holding only zero-length notes share a step with the next
	// position, so there can be fewer playable steps than positions.
	e.count = min(count, idx.Len()-1)
	e.rng = scheduler.Range{Start: 0, End: count}
	e.sched = scheduler.New(idx, e.wholeNote(), e.clock, e.timers, e.opts.Scheduler, e.onEvent, e.log)
	e.cursor.Reset()
	e.current = 0
	e.log.Debug("score loaded", "steps", e.count, "positions", count, "bpm", e.bpm)
	return nil
}

// Prepare readies the sound collaborator. It is the blocking half of Play and
// may run off the engine goroutine.
func (e *Engine) Prepare(ctx context.Context) error {
	return e.sound.Prepare(ctx)
}

// Start begins playback of the current range. Playing again while already
// playing does nothing.
func (e *Engine) Start() error {
	if e.sched == nil {
		return ErrNoScore
	}
	if e.state == Playing {
		return nil
	}
	e.session = uuid.New()
	e.clock.Resume()
	e.cursor.Show()
	e.setState(Playing)
	e.log.Info("playback started", "session", e.session, "start", e.rng.Start, "end", e.rng.End, "looping", e.looping)
	e.sched.Start(e.rng, e.looping)
	return nil
}

// Play prepares the sound and starts playback.
func (e *Engine) Play(ctx context.Context) error {
	if e.sched == nil {
		return ErrNoScore
	}
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	return e.Start()
}

func (e *Engine) Stop() {
	if e.state != Playing && e.state != Paused {
		return
	}
	e.setState(Stopped)
	e.sound.Stop()
	e.clearTimers()
	e.sched.Reset()
	e.cursor.Reset()
	e.current = 0
	e.cursor.Hide()
	e.log.Info("playback stopped", "session", e.session)
}

// Pause freezes the clock and silences output. The scheduler is repositioned
// at the cursor step so Resume continues from what is shown.
func (e *Engine) Pause() {
	if e.state != Playing {
		return
	}
	e.setState(Paused)
	e.clock.Suspend()
	e.sound.Stop()
	e.sched.Pause()
	e.sched.Seek(e.current)
	e.clearTimers()
}

func (e *Engine) Resume() {
	if e.state != Paused {
		return
	}
	e.setState(Playing)
	e.sched.Resume()
	e.clock.Resume()
}

// JumpToStep moves the cursor to step n and continues playback after it.
// Playback resumes only when it was running.
func (e *Engine) JumpToStep(n int) {
	if e.sched == nil {
		return
	}
	wasPlaying := e.state == Playing
	e.Pause()
	n = steps.Clamp(n, 0, e.count-1)
	e.log.Debug("jump", "step", n)
	e.moveCursor(n)
	target := n
	if n > 0 && n < e.count {
		target++
	}
	e.sched.Seek(target)
	e.cursor.Show()
	if wasPlaying {
		e.Resume()
	}
}

// SetTempo changes the tempo. It takes effect from the next unscheduled step.
func (e *Engine) SetTempo(bpm float64) error {
	if !ValidTempo(bpm) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, bpm)
	}
	e.bpm = bpm
	if e.sched != nil {
		e.sched.SetWholeNote(e.wholeNote())
	}
	return nil
}

func (e *Engine) Tempo() float64 { return e.bpm }

func (e *Engine) SetLooping(looping bool) {
	e.looping = looping
	if e.sched != nil {
		e.sched.SetLooping(looping)
	}
}

func (e *Engine) Looping() bool { return e.looping }

// SetRange limits playback to steps [start, end). Out of range bounds are
// clamped; end <= 0 selects the end of the score.
func (e *Engine) SetRange(start, end int) {
	if end <= 0 || end > e.count {
		end = e.count
	}
	if e.count > 0 {
		start = steps.Clamp(start, 0, end-1)
	} else {
		start = 0
	}
	e.rng = scheduler.Range{Start: start, End: end}
	if e.sched != nil {
		e.sched.SetRange(e.rng)
	}
}

func (e *Engine) RestoreFullRange() {
	e.SetRange(0, e.count)
}

func (e *Engine) Range() (start, end int) { return e.rng.Start, e.rng.End }
func (e *Engine) State() State            { return e.state }
func (e *Engine) StepCount() int          { return e.count }
func (e *Engine) CurrentStep() int        { return e.current }
func (e *Engine) Session() uuid.UUID      { return e.session }

// Steps returns the densified steps of the loaded score, or nil.
func (e *Engine) Steps() *steps.Index { return e.index }

// WholeNote returns the duration of a whole note in seconds.
func (e *Engine) WholeNote() float64 { return e.wholeNote() }

func (e *Engine) wholeNote() float64 {
	return 60 / e.bpm * float64(e.beats)
}

func (e *Engine) onEvent(ev scheduler.Event) {
	if e.state != Playing {
		return
	}
	batch := voicebank.Batch{}
	for _, n := range ev.Notes {
		if d := e.noteDuration(n); d != 0 {
			e.sound.AddNote(batch, n, d)
		}
	}
	done := e.sound.Schedule(batch, e.clock.Now()+ev.Delay)
	if ev.Stopping {
		e.awaitEnd(done)
	}

	ms := max(0, ev.Delay*1000-e.opts.CompensationMs)
	id := e.nextTimerID()
	e.cursorTimers[id] = e.timers.AfterFunc(time.Duration(ms*float64(time.Millisecond)), func() {
		delete(e.cursorTimers, id)
		e.advance(ev.Index)
	})
}

func (e *Engine) awaitEnd(done <-chan struct{}) {
	session := e.session
	id := e.nextTimerID()
	e.waiters[id] = e.timers.Await(done, func() {
		delete(e.waiters, id)
		if e.session != session || e.state != Playing {
			return
		}
		e.Stop()
	})
}

// noteDuration returns how long n sounds in seconds. A tie's first note
// sounds for the whole tie and its continuations not at all.
func (e *Engine) noteDuration(n steps.NoteRef) float64 {
	length := n.Length()
	if t, ok := n.(Tied); ok {
		start, rest := t.Tie()
		if start != nil {
			if start != n || len(rest) == 0 {
				return 0
			}
			for _, r := range rest {
				length = length.Add(r.Length())
			}
		}
	}
	return length.Float64() * e.wholeNote()
}

func (e *Engine) advance(step int) {
	if e.state != Playing {
		return
	}
	e.moveCursor(step)
	e.cursor.Show()
}

// moveCursor walks the cursor to step, restarting from 0 when it would have
// to move backwards.
func (e *Engine) moveCursor(step int) {
	if e.current > step {
		e.log.Debug("cursor wrap", "to", step)
		e.cursor.Hide()
		e.cursor.Reset()
		e.current = 0
	}
	for e.current < step {
		e.cursor.Next()
		e.current++
	}
	if e.opts.Observer != nil {
		e.opts.Observer.CursorMoved(e.current)
	}
}

func (e *Engine) nextTimerID() int {
	e.timerSeq++
	return e.timerSeq
}

func (e *Engine) clearTimers() {
	for id, t := range e.cursorTimers {
		t.Stop()
		delete(e.cursorTimers, id)
	}
	for id, t := range e.waiters {
		t.Stop()
		delete(e.waiters, id)
	}
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.state = s
	if e.opts.Observer != nil {
		e.opts.Observer.StateChanged(s)
	}
}
