// Package export freezes a molecule record into one offline HTML document.
//
// The document carries the record verbatim, the shared rendering parameters
// and a canvas script that re-implements composition, bond orientation and
// the interaction rules. It references nothing outside itself.
package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"regexp"
	"strings"

	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/scene"
)

// ContentType is the media type of a synthesized document.
const ContentType = "text/html; charset=utf-8"

const filenameSuffix = "_lab_report.html"

var (
	//go:embed report.html.tmpl
	reportTemplate string
	//go:embed viewer.js
	viewerScript string

	reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

	recordBlockRe = regexp.MustCompile(`(?s)<script type="application/json" id="molecule-data">(.*?)</script>`)
	unsafeNameRe  = regexp.MustCompile(`[\x00-\x1f\x7f/\\:*?"<>|\s]+`)
)

// ErrNoRecord is returned by Parse when content has no embedded record.
var ErrNoRecord = errors.New("no embedded molecule record")

type Document struct {
	Filename string
	Content  []byte
}

type ElementCount struct {
	Element string
	Count   int
}

type reportData struct {
	Record      *molecule.Record
	AtomCount   int
	BondCount   int
	Composition []ElementCount
	Background  template.CSS
	RecordJSON  template.JS
	ParamsJSON  template.JS
	Script      template.JS
}

// embeddedAtom is the document form of an atom. JSON has no NaN or Inf, so a
// non-finite coordinate is written as null, which the script treats as
// unusable, and read back as NaN.
type embeddedAtom struct {
	ID      int      `json:"id"`
	Element string   `json:"element"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Z       *float64 `json:"z"`
	Color   string   `json:"color,omitempty"`
	Radius  float64  `json:"radius,omitempty"`
}

// embeddedRecord shadows the record's atoms with their document form.
type embeddedRecord struct {
	*molecule.Record
	Atoms []embeddedAtom `json:"atoms"`
}

func coord(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func uncoord(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func embed(rec *molecule.Record) embeddedRecord {
	atoms := make([]embeddedAtom, len(rec.Atoms))
	for i, a := range rec.Atoms {
		atoms[i] = embeddedAtom{
			ID:      a.ID,
			Element: a.Element,
			X:       coord(a.X),
			Y:       coord(a.Y),
			Z:       coord(a.Z),
			Color:   a.Color,
		}
		if coord(a.Radius) != nil {
			atoms[i].Radius = a.Radius
		}
	}
	return embeddedRecord{Record: rec, Atoms: atoms}
}

func (e embeddedRecord) record() *molecule.Record {
	rec := e.Record
	rec.Atoms = nil
	if e.Atoms != nil {
		rec.Atoms = make([]molecule.Atom, len(e.Atoms))
	}
	for i, a := range e.Atoms {
		rec.Atoms[i] = molecule.Atom{
			ID:      a.ID,
			Element: a.Element,
			X:       uncoord(a.X),
			Y:       uncoord(a.Y),
			Z:       uncoord(a.Z),
			Color:   a.Color,
			Radius:  a.Radius,
		}
	}
	return rec
}

// Synthesizer renders documents with a fixed set of parameters.
type Synthesizer struct {
	params scene.Params
}

func New(p scene.Params) *Synthesizer {
	return &Synthesizer{params: p}
}

// Synthesize uses the default element table and interaction settings.
func Synthesize(rec *molecule.Record) (*Document, error) {
	return New(scene.NewParams(nil, interaction.DefaultSettings())).Synthesize(rec)
}

// Synthesize builds the document for rec. Atoms and bonds that break the
// record invariants are kept in the embedded data and skipped by the script
// at open time. Non-finite coordinates are embedded as null.
func (s *Synthesizer) Synthesize(rec *molecule.Record) (*Document, error) {
	if rec == nil {
		return nil, fmt.Errorf("synthesize: nil record")
	}
	// encoding/json escapes <, > and & so neither block can close its script tag.
	recJSON, err := json.Marshal(embed(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	paramsJSON, err := json.Marshal(s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	data := reportData{
		Record:      rec,
		AtomCount:   len(rec.Atoms),
		BondCount:   len(rec.ValidBonds()),
		Composition: Composition(rec),
		Background:  template.CSS(s.params.Background),
		RecordJSON:  template.JS(recJSON),
		ParamsJSON:  template.JS(paramsJSON),
		Script:      template.JS(viewerScript),
	}
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return &Document{Filename: Filename(rec.Name), Content: buf.Bytes()}, nil
}

// Filename derives the deterministic download name for a substance.
func Filename(name string) string {
	base := strings.Trim(unsafeNameRe.ReplaceAllString(strings.TrimSpace(name), "_"), "._")
	if base == "" {
		base = "molecule"
	}
	return base + filenameSuffix
}

// Composition counts atoms per element in order of first appearance.
func Composition(rec *molecule.Record) []ElementCount {
	var res []ElementCount
	idx := make(map[string]int)
	for _, a := range rec.Atoms {
		i, ok := idx[a.Element]
		if !ok {
			i = len(res)
			idx[a.Element] = i
			res = append(res, ElementCount{Element: a.Element})
		}
		res[i].Count++
	}
	return res
}

// Parse recovers the record embedded in a synthesized document.
func Parse(content []byte) (*molecule.Record, error) {
	m := recordBlockRe.FindSubmatch(content)
	if m == nil {
		return nil, ErrNoRecord
	}
	e := embeddedRecord{Record: &molecule.Record{}}
	if err := json.Unmarshal(m[1], &e); err != nil {
		return nil, fmt.Errorf("failed to decode embedded record: %w", err)
	}
	return e.record(), nil
}
