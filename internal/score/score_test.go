package score

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cbegin/stepcue/internal/steps"
)

func groupLabels(sc *Score) []string {
	var out []string
	for group := range sc.Entries() {
		var entries []string
		for _, e := range group {
			entries = append(entries, Describe(e))
		}
		out = append(out, strings.Join(entries, " "))
	}
	return out
}

func TestEntriesFollowPositions(t *testing.T) {
	sc, err := Parse("o5 c4 d2 e4&e4 r4 c2, o4 e2 f2 g2 e2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := []string{"C5 E4", "D5", "F4", "E5", "E5 G4", "R", "C5 E4"}
	got := groupLabels(sc)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	idx := steps.New()
	for group := range sc.Entries() {
		idx.LoadNotes(group)
	}
	if idx.Len() != len(want)+1 {
		t.Fatalf("expected %d steps, got %d", len(want)+1, idx.Len())
	}
	if !idx.At(idx.Len() - 1).Empty() {
		t.Fatalf("expected trailing empty step")
	}
}

func TestEntriesChordAndRestart(t *testing.T) {
	sc, err := Parse("{c e g}2 c2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	first := groupLabels(sc)
	second := groupLabels(sc)
	if len(first) != 2 || first[0] != "C5+E5+G5" {
		t.Fatalf("unexpected groups %v", first)
	}
	if strings.Join(first, "|") != strings.Join(second, "|") {
		t.Fatalf("expected Entries to restart, got %v then %v", first, second)
	}
	for range sc.Entries() {
		break
	}
}

func TestScoreLength(t *testing.T) {
	sc, err := Parse("c1 c1, c2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := sc.Length().String(); got != "2" {
		t.Fatalf("expected length 2, got %s", got)
	}
}

func TestShortVoicesArePadded(t *testing.T) {
	sc, err := Parse("c4, c2 d2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	short := sc.Parts[0].Voices[0]
	if got := short.Length().String(); got != "1" {
		t.Fatalf("expected short voice padded to 1, got %s", got)
	}
	if last := short.Entries[len(short.Entries)-1].Notes[0]; !last.Rest() || last.Length().String() != "3/4" {
		t.Fatalf("expected a 3/4 rest at the end, got %v %s", last, last.Length())
	}

	idx, count := steps.Build(sc.Entries())
	var got []string
	for _, st := range idx.Steps() {
		got = append(got, st.Position.String()+":"+Describe(st.Notes))
	}
	want := []string{"0:C5+C5", "1/4:R", "1/2:D5", "1:"}
	if count != 3 || strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected steps %v, got %v (count %d)", want, got, count)
	}
}

func TestDocumentVoicesArePadded(t *testing.T) {
	doc := "parts:\n  - voices: [\"c1\"]\n  - voices: [\"c4 d4\"]\n"
	sc, err := ParseDocument([]byte(doc), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, id := range []int{0, 1} {
		if got := sc.Parts[id].Voices[0].Length().String(); got != "1" {
			t.Fatalf("part %d: expected length 1, got %s", id, got)
		}
	}
	idx, _ := steps.Build(sc.Entries())
	if last := idx.At(idx.Len() - 1); !last.Empty() || last.Position.String() != "1" {
		t.Fatalf("expected one trailing empty step at 1, got %v", last.Position)
	}
	if idx.Len() != 4 {
		t.Fatalf("expected steps at 0, 1/4, 1/2 and 1, got %d steps", idx.Len())
	}
}

const sampleDoc = `title: Canon
tempo: 72
beats: 4
parts:
  - id: Violin
    voices:
      - "t140 o5 l4 e d c <b"
  - name: Cello
    voices:
      - "o3 l1 c"
      - "o3 l1 g"
`

func TestParseDocument(t *testing.T) {
	sc, err := ParseDocument([]byte(sampleDoc), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if sc.Title != "Canon" || sc.BPM != 72 || sc.Beats != 4 {
		t.Fatalf("unexpected header %q %v %d", sc.Title, sc.BPM, sc.Beats)
	}
	want := []string{"Violin.1", "P2.1", "P2.2"}
	if got := sc.Voices(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected voices %v, got %v", want, got)
	}
	if sc.Parts[1].Name != "Cello" || sc.Parts[0].Name != "Violin" {
		t.Fatalf("unexpected part names %q %q", sc.Parts[0].Name, sc.Parts[1].Name)
	}
}

func TestParseDocumentErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "   ",
		"syntax":    "parts: [",
		"both":      "mml: c d e\nparts:\n  - voices: [c]\n",
		"duplicate": "parts:\n  - id: A\n    voices: [c]\n  - id: A\n    voices: [d]\n",
		"tempo":     "tempo: -3\nmml: c\n",
		"fast":      "tempo: 5000\nmml: c\n",
		"no voices": "title: silence\n",
		"bad mml":   "parts:\n  - voices: [\"c x\"]\n",
	}
	for name, doc := range cases {
		if _, err := ParseDocument([]byte(doc), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	mmlPath := filepath.Join(dir, "scale.mml")
	if err := os.WriteFile(mmlPath, []byte("t100 cdefg"), 0o644); err != nil {
		t.Fatal(err)
	}
	yamlPath := filepath.Join(dir, "doc.yaml")
	if err := os.WriteFile(yamlPath, []byte("mml: \"t80 c d; e f\"\nbeats: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := Load(mmlPath, nil)
	if err != nil {
		t.Fatalf("load mml: %v", err)
	}
	if sc.Title != "scale" || sc.BPM != 100 {
		t.Fatalf("unexpected mml score %q %v", sc.Title, sc.BPM)
	}

	sc, err = Load(yamlPath, nil)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if sc.Title != "doc" || sc.BPM != 80 || sc.Beats != 2 || len(sc.Parts) != 2 {
		t.Fatalf("unexpected yaml score %q %v %d %d", sc.Title, sc.BPM, sc.Beats, len(sc.Parts))
	}

	if _, err := Load(filepath.Join(dir, "missing.mml"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
