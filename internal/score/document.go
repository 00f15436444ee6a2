package score

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a score. Voices are written in MML; a
// document may instead carry a whole MML score in MML.
type Document struct {
	Title string    `yaml:"title,omitempty"`
	Tempo float64   `yaml:"tempo,omitempty"`
	Beats int       `yaml:"beats,omitempty"`
	MML   string    `yaml:"mml,omitempty"`
	Parts []PartDoc `yaml:"parts,omitempty"`
}

type PartDoc struct {
	ID     string   `yaml:"id,omitempty"`
	Name   string   `yaml:"name,omitempty"`
	Voices []string `yaml:"voices"`
}

// ParseDocument decodes a YAML score document.
func ParseDocument(data []byte, p *Parser) (*Score, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("score: document is empty")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("score: decode document: %w", err)
	}
	return doc.Build(p)
}

// Build parses the document's MML. The document's tempo and beats override
// values set in the MML.
func (d Document) Build(p *Parser) (*Score, error) {
	if p == nil {
		p = NewParser(DefaultParserConfig())
	}
	if d.Tempo != 0 && (d.Tempo < float64(p.cfg.MinTempo) || d.Tempo > float64(p.cfg.MaxTempo)) {
		return nil, fmt.Errorf("score: tempo %v must be between %d and %d", d.Tempo, p.cfg.MinTempo, p.cfg.MaxTempo)
	}
	if d.MML != "" && len(d.Parts) > 0 {
		return nil, fmt.Errorf("score: document has both mml and parts")
	}

	var sc *Score
	if d.MML != "" {
		var err error
		if sc, err = p.Parse(d.MML); err != nil {
			return nil, err
		}
	} else {
		sc = &Score{Beats: p.cfg.Beats}
		seen := map[string]bool{}
		for i, pd := range d.Parts {
			part := &Part{ID: strings.TrimSpace(pd.ID), Name: pd.Name}
			if part.ID == "" {
				part.ID = fmt.Sprintf("P%d", i+1)
			}
			if seen[part.ID] {
				return nil, fmt.Errorf("score: duplicate part id %q", part.ID)
			}
			seen[part.ID] = true
			if part.Name == "" {
				part.Name = part.ID
			}
			for j, src := range pd.Voices {
				v, bpm, err := p.ParseVoice(fmt.Sprintf("%s.%d", part.ID, j+1), src)
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
	}
	sc.Title = d.Title
	if d.Tempo > 0 {
		sc.BPM = d.Tempo
	}
	if d.Beats > 0 {
		sc.Beats = d.Beats
	}
	return sc, nil
}

// Load reads a score file. Files ending in .yaml or .yml are documents;
// anything else is plain MML.
func Load(path string, p *Parser) (*Score, error) {
	if p == nil {
		p = NewParser(DefaultParserConfig())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("score: read %s: %w", path, err)
	}
	var sc *Score
	if isYAMLFile(path) {
		sc, err = ParseDocument(data, p)
	} else {
		sc, err = p.Parse(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("score: %s: %w", path, err)
	}
	if sc.Title == "" {
		sc.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
