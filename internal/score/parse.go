package score

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cbegin/stepcue/internal/position"
)

var ErrNoVoices = errors.New("score has no voices")

var noteOffsets = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

// ParseError reports malformed MML. Offset counts bytes into the voice text
// after comments are stripped and loops are unrolled.
type ParseError struct {
	Voice  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("voice %s: %s at %d", e.Voice, e.Msg, e.Offset)
}

type ParserConfig struct {
	DefaultLength  int
	DefaultOctave  int
	MinOctave      int
	MaxOctave      int
	OctavePolarize int
	Beats          int
	// MinTempo and MaxTempo bound the t command in BPM.
	MinTempo int
	MaxTempo int
}

func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		DefaultLength:  4,
		DefaultOctave:  5,
		MinOctave:      0,
		MaxOctave:      9,
		OctavePolarize: -1,
		Beats:          4,
		MinTempo:       10,
		MaxTempo:       1000,
	}
}

type Parser struct{ cfg ParserConfig }

func NewParser(cfg ParserConfig) *Parser { return &Parser{cfg: cfg} }

// Parse reads an MML score with the default configuration.
func Parse(src string) (*Score, error) {
	return NewParser(DefaultParserConfig()).Parse(src)
}

// Parse reads an MML score. Parts are separated by ';' and voices within a
// part by ','. A leading section without notes is a prelude applied to
// every voice. Voices shorter than the score end with a rest.
func (p *Parser) Parse(input string) (*Score, error) {
	sections := splitTopLevel(stripComments(input), ';')
	var nonEmpty []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	prelude := ""
	if len(nonEmpty) > 1 && !containsPlayableEvents(nonEmpty[0]) {
		prelude, nonEmpty = nonEmpty[0]+" ", nonEmpty[1:]
	}

	sc := &Score{Beats: p.cfg.Beats}
	for _, section := range nonEmpty {
		part := &Part{ID: fmt.Sprintf("P%d", len(sc.Parts)+1)}
		part.Name = part.ID
		for _, src := range splitTopLevel(section, ',') {
			if strings.TrimSpace(src) == "" {
				continue
			}
			id := fmt.Sprintf("%s.%d", part.ID, len(part.Voices)+1)
			v, bpm, err := p.ParseVoice(id, prelude+src)
			if err != nil {
				return nil, err
			}
			if sc.BPM == 0 {
				sc.BPM = bpm
			}
			part.Voices = append(part.Voices, v)
		}
		if len(part.Voices) > 0 {
			sc.Parts = append(sc.Parts, part)
		}
	}
	if len(sc.Parts) == 0 {
		return nil, ErrNoVoices
	}
	sc.padVoices()
	return sc, nil
}

type voiceState struct {
	id     string
	octave int
	length position.Position
	bpm    float64
	last   *Note // candidate for a following '&'
	tie    bool
}

// ParseVoice reads the MML of a single voice. It returns the voice and the
// first tempo it sets, or 0.
func (p *Parser) ParseVoice(id, src string) (*Voice, float64, error) {
	s, err := expandLoops(src)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Voice = id
		}
		return nil, 0, err
	}
	st := &voiceState{
		id:     id,
		octave: p.cfg.DefaultOctave,
		length: position.New(1, int64(max(1, p.cfg.DefaultLength))),
	}
	v := &Voice{ID: id}
	fail := func(at int, format string, args ...any) (*Voice, float64, error) {
		return nil, 0, &ParseError{Voice: id, Offset: at, Msg: fmt.Sprintf(format, args...)}
	}
	i := 0
	for i < len(s) {
		ch := lower(s[i])
		switch {
		case isSpace(ch):
			i++
		case ch == 'n' && i+1 < len(s) && isDigit(s[i+1]):
			num, next := parseNumber(s, i+1)
			if num > 127 {
				return fail(i, "note number %d out of range", num)
			}
			length, next, err := parseLengthWithTie(s, next, st)
			if err != nil {
				return fail(next, "%v", err)
			}
			st.push(v, &Note{voice: id, length: length, halfTone: num})
			i = next
		case isNote(ch):
			tone, next := p.parsePitch(s, i, st.octave)
			length, next, err := parseLengthWithTie(s, next, st)
			if err != nil {
				return fail(next, "%v", err)
			}
			st.push(v, &Note{voice: id, length: length, halfTone: tone})
			i = next
		case ch == 'r':
			length, next, err := parseLengthWithTie(s, i+1, st)
			if err != nil {
				return fail(i, "%v", err)
			}
			st.push(v, &Note{voice: id, length: length, rest: true})
			i = next
		case ch == '{':
			notes, next, err := p.parseChord(s, i, st)
			if err != nil {
				return fail(i, "%v", err)
			}
			st.push(v, notes...)
			i = next
		case ch == '&':
			if st.last == nil {
				return fail(i, "tie without a preceding note")
			}
			st.tie = true
			i++
		case ch == 'l':
			length, next, err := parseLengthToken(s, i+1, st)
			if err != nil {
				return fail(i, "%v", err)
			}
			st.length = length
			i = next
		case ch == 't':
			bpm, next := parseNumberDefault(s, i+1, 0)
			if bpm < p.cfg.MinTempo || bpm > p.cfg.MaxTempo {
				return fail(i, "tempo %d out of range", bpm)
			}
			if st.bpm == 0 {
				st.bpm = float64(bpm)
			}
			i = next
		case ch == 'o':
			val, next := parseNumberDefault(s, i+1, st.octave)
			if val < p.cfg.MinOctave || val > p.cfg.MaxOctave {
				return fail(i, "octave %d out of range", val)
			}
			st.octave = val
			i = next
		case ch == '<' || ch == '>':
			val, next := parseNumberDefault(s, i+1, 1)
			st.octave = p.shiftOctave(st.octave, ch, val)
			i = next
		default:
			return fail(i, "unexpected %q", s[i])
		}
	}
	return v, st.bpm, nil
}

// push appends an entry, tying it to the previous note when a '&' is
// pending and the pitch matches. A tie across different pitches is a slur
// and has no effect on timing.
func (st *voiceState) push(v *Voice, notes ...*Note) {
	if st.tie && len(notes) == 1 && st.last != nil && !notes[0].rest && st.last.halfTone == notes[0].halfTone {
		t := st.last.tie
		if t == nil {
			t = &Tie{Notes: []*Note{st.last}}
			st.last.tie = t
		}
		t.Notes = append(t.Notes, notes[0])
		notes[0].tie = t
	}
	st.tie = false
	st.last = nil
	if len(notes) == 1 && !notes[0].rest {
		st.last = notes[0]
	}
	v.Entries = append(v.Entries, Entry{Notes: notes})
}

func (p *Parser) shiftOctave(octave int, dir byte, n int) int {
	if dir == '<' {
		octave += n * p.cfg.OctavePolarize
	} else {
		octave -= n * p.cfg.OctavePolarize
	}
	return clampInt(octave, p.cfg.MinOctave, p.cfg.MaxOctave)
}

func (p *Parser) parsePitch(s string, at, octave int) (int, int) {
	tone := octave*12 + noteOffsets[lower(s[at])]
	i := at + 1
	for i < len(s) {
		switch s[i] {
		case '#', '+':
			tone++
		case '-':
			tone--
		default:
			return clampInt(tone, 0, 127), i
		}
		i++
	}
	return clampInt(tone, 0, 127), i
}

// parseChord reads {notes}length. Octave changes inside the braces do not
// outlive the chord.
func (p *Parser) parseChord(s string, at int, st *voiceState) ([]*Note, int, error) {
	octave := st.octave
	var tones []int
	i := at + 1
	for {
		if i >= len(s) {
			return nil, i, errors.New("unclosed chord")
		}
		ch := lower(s[i])
		switch {
		case ch == '}':
			if len(tones) == 0 {
				return nil, i, errors.New("empty chord")
			}
			length, next, err := parseLengthWithTie(s, i+1, st)
			if err != nil {
				return nil, i, err
			}
			notes := make([]*Note, len(tones))
			for k, tone := range tones {
				notes[k] = &Note{voice: st.id, length: length, halfTone: tone}
			}
			return notes, next, nil
		case isSpace(ch):
			i++
		case isNote(ch):
			var tone int
			tone, i = p.parsePitch(s, i, octave)
			tones = append(tones, tone)
		case ch == '<' || ch == '>':
			var n int
			n, i = parseNumberDefault(s, i+1, 1)
			octave = p.shiftOctave(octave, ch, n)
		default:
			return nil, i, fmt.Errorf("unexpected %q in chord", s[i])
		}
	}
}

func parseLengthWithTie(s string, at int, st *voiceState) (position.Position, int, error) {
	length, i, err := parseLengthToken(s, at, st)
	if err != nil {
		return position.Zero, at, err
	}
	for i < len(s) && s[i] == '^' {
		extra, next, err := parseLengthToken(s, i+1, st)
		if err != nil {
			return position.Zero, at, err
		}
		length = length.Add(extra)
		i = next
	}
	return length, i, nil
}

// parseLengthToken reads an optional note value and dots. "4" is a quarter
// note; no number means the current default length.
func parseLengthToken(s string, at int, st *voiceState) (position.Position, int, error) {
	length := st.length
	i := at
	if i < len(s) && isDigit(s[i]) {
		var val int
		val, i = parseNumber(s, i)
		if val <= 0 {
			return position.Zero, at, errors.New("note value must be positive")
		}
		length = position.New(1, int64(val))
	}
	term := length
	for i < len(s) && s[i] == '.' {
		term = term.Mul(1, 2)
		length = length.Add(term)
		i++
	}
	return length, i, nil
}

// maxNumber caps numeric arguments so long digit runs cannot overflow.
const maxNumber = 1 << 30

func parseNumber(s string, at int) (int, int) {
	n, i := 0, at
	for i < len(s) && isDigit(s[i]) {
		n = min(n*10+int(s[i]-'0'), maxNumber)
		i++
	}
	return n, i
}

func parseNumberDefault(s string, at int, def int) (int, int) {
	if at >= len(s) || !isDigit(s[at]) {
		return def, at
	}
	return parseNumber(s, at)
}

// expandLoops unrolls [body]N repeats, N defaulting to 2. A '|' in the body
// marks where the final pass ends.
func expandLoops(src string) (string, error) {
	out, at, err := expandFrom(src, 0, false)
	if err != nil {
		return "", err
	}
	if at < len(src) {
		return "", &ParseError{Offset: at, Msg: "unmatched ']'"}
	}
	return out, nil
}

func expandFrom(src string, at int, inLoop bool) (string, int, error) {
	var head, tail strings.Builder
	cur := &head
	split := false
	for at < len(src) {
		ch := src[at]
		switch {
		case ch == '[':
			body, next, err := expandFrom(src, at+1, true)
			if err != nil {
				return "", at, err
			}
			cur.WriteString(body)
			at = next
		case ch == ']':
			if !inLoop {
				return head.String(), at, nil
			}
			count, next := parseNumberDefault(src, at+1, 2)
			count = max(count, 1)
			var out strings.Builder
			for k := 0; k < count; k++ {
				out.WriteString(head.String())
				if !split || k < count-1 {
					out.WriteString(tail.String())
				}
			}
			return out.String(), next, nil
		case ch == '|' && inLoop && !split:
			split = true
			cur = &tail
			at++
		default:
			cur.WriteByte(ch)
			at++
		}
	}
	if inLoop {
		return "", at, &ParseError{Offset: at, Msg: "unclosed '['"}
	}
	return head.String(), at, nil
}

func stripComments(src string) string {
	var out strings.Builder
	out.Grow(len(src))
	for i := 0; i < len(src); i++ {
		if strings.HasPrefix(src[i:], "/*") {
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				break
			}
			i += end + 3
			continue
		}
		if strings.HasPrefix(src[i:], "//") {
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				break
			}
			i += end
		}
		out.WriteByte(src[i])
	}
	return out.String()
}

// splitTopLevel splits on sep outside loop brackets.
func splitTopLevel(src string, sep byte) []string {
	depth, start := 0, 0
	var parts []string
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, src[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, src[start:])
}

func containsPlayableEvents(src string) bool {
	for i := 0; i < len(src); i++ {
		ch := lower(src[i])
		if isNote(ch) || ch == 'r' || ch == 'n' || ch == '{' {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\r' || b == '\t' }
func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isNote(b byte) bool  { _, ok := noteOffsets[b]; return ok }
