// Package elements maps element symbols to display colors and radii.
package elements

import (
	_ "embed"
	"fmt"

	"molecule-lab/src/internal/molecule"

	"gopkg.in/yaml.v3"
)

//go:embed elements.yaml
var defaultTable []byte

// Attributes are the display values frozen into an atom at enrichment time.
type Attributes struct {
	Color  string  `yaml:"color" json:"color"`
	Radius float64 `yaml:"radius" json:"radius"`
}

type table struct {
	Default  Attributes            `yaml:"default"`
	Elements map[string]Attributes `yaml:"elements"`
}

// Resolver is a read-only lookup table; safe for concurrent use.
type Resolver struct {
	fallback Attributes
	entries  map[string]Attributes
}

var std = mustLoad(defaultTable)

// Default returns the resolver built from the embedded table.
func Default() *Resolver { return std }

// Load parses a YAML table. Entries missing a color or radius inherit the default.
func Load(data []byte) (*Resolver, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse element table: %w", err)
	}
	if t.Default.Color == "" || t.Default.Radius <= 0 {
		return nil, fmt.Errorf("element table has no usable default")
	}
	r := &Resolver{fallback: t.Default, entries: make(map[string]Attributes, len(t.Elements))}
	for sym, a := range t.Elements {
		if a.Color == "" {
			a.Color = t.Default.Color
		}
		if a.Radius <= 0 {
			a.Radius = t.Default.Radius
		}
		r.entries[sym] = a
	}
	return r, nil
}

func mustLoad(data []byte) *Resolver {
	r, err := Load(data)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve never fails: unknown symbols get the default pair.
func (r *Resolver) Resolve(symbol string) Attributes {
	if a, ok := r.entries[symbol]; ok {
		return a
	}
	return r.fallback
}

func (r *Resolver) Fallback() Attributes { return r.fallback }

// Table returns a copy of all known entries.
func (r *Resolver) Table() map[string]Attributes {
	res := make(map[string]Attributes, len(r.entries))
	for k, v := range r.entries {
		res[k] = v
	}
	return res
}

// Enrich assigns id, color and radius to every atom of rec in place.
func (r *Resolver) Enrich(rec *molecule.Record) {
	for i := range rec.Atoms {
		a := r.Resolve(rec.Atoms[i].Element)
		rec.Atoms[i].ID = i
		rec.Atoms[i].Color = a.Color
		rec.Atoms[i].Radius = a.Radius
	}
}
