package molecule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed marks a provider payload that does not match the record schema.
var ErrMalformed = errors.New("malformed molecule record")

type Atom struct {
	ID      int     `json:"id"`
	Element string  `json:"element"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Color   string  `json:"color,omitempty"`
	Radius  float64 `json:"radius,omitempty"`
}

type Bond struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

type Properties struct {
	State        string `json:"state"`
	MeltingPoint string `json:"meltingPoint"`
}

// Record is one generated substance: display text plus 3D structure.
// It is enriched once and then treated as read-only.
type Record struct {
	Name        string     `json:"name"`
	Formula     string     `json:"formula"`
	Description string     `json:"description"`
	FunFact     string     `json:"funFact"`
	Properties  Properties `json:"properties"`
	Atoms       []Atom     `json:"atoms"`
	Bonds       []Bond     `json:"bonds"`
}

// Position returns the atom coordinates as an array, handy for geometry code.
func (a Atom) Position() [3]float64 {
	return [3]float64{a.X, a.Y, a.Z}
}

// Finite reports whether all coordinates are finite numbers.
func (a Atom) Finite() bool {
	return isFinite(a.X) && isFinite(a.Y) && isFinite(a.Z)
}

// ValidBond reports whether b references two distinct atoms of r.
func (r *Record) ValidBond(b Bond) bool {
	n := len(r.Atoms)
	return b.Source >= 0 && b.Source < n &&
		b.Target >= 0 && b.Target < n &&
		b.Source != b.Target
}

// ValidBonds returns the bonds that satisfy the index invariant, in order.
func (r *Record) ValidBonds() []Bond {
	res := make([]Bond, 0, len(r.Bonds))
	for _, b := range r.Bonds {
		if r.ValidBond(b) {
			res = append(res, b)
		}
	}
	return res
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Atoms = append([]Atom(nil), r.Atoms...)
	c.Bonds = append([]Bond(nil), r.Bonds...)
	return &c
}

// generated mirrors the provider schema: atoms carry no id, color or radius.
type generated struct {
	Name        *string     `json:"name"`
	Formula     *string     `json:"formula"`
	Description *string     `json:"description"`
	FunFact     *string     `json:"funFact"`
	Properties  *Properties `json:"properties"`
	Atoms       []struct {
		Element *string  `json:"element"`
		X       *float64 `json:"x"`
		Y       *float64 `json:"y"`
		Z       *float64 `json:"z"`
	} `json:"atoms"`
	Bonds []struct {
		Source *int `json:"source"`
		Target *int `json:"target"`
	} `json:"bonds"`
}

// Decode parses a provider response. Anything that does not conform to the
// schema fails as a whole with ErrMalformed; nothing is partially trusted.
// Bond indices are not range-checked here, composition drops bad ones.
func Decode(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var g generated
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var missing []string
	req := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	req("name", g.Name != nil)
	req("formula", g.Formula != nil)
	req("description", g.Description != nil)
	req("funFact", g.FunFact != nil)
	req("properties", g.Properties != nil)
	req("atoms", g.Atoms != nil)
	req("bonds", g.Bonds != nil)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}

	r := &Record{
		Name:        *g.Name,
		Formula:     *g.Formula,
		Description: *g.Description,
		FunFact:     *g.FunFact,
		Properties:  *g.Properties,
		Atoms:       make([]Atom, 0, len(g.Atoms)),
		Bonds:       make([]Bond, 0, len(g.Bonds)),
	}
	for i, a := range g.Atoms {
		if a.Element == nil || a.X == nil || a.Y == nil || a.Z == nil {
			return nil, fmt.Errorf("%w: atom %d is incomplete", ErrMalformed, i)
		}
		atom := Atom{ID: i, Element: strings.TrimSpace(*a.Element), X: *a.X, Y: *a.Y, Z: *a.Z}
		if atom.Element == "" || !atom.Finite() {
			return nil, fmt.Errorf("%w: atom %d is invalid", ErrMalformed, i)
		}
		r.Atoms = append(r.Atoms, atom)
	}
	for i, b := range g.Bonds {
		if b.Source == nil || b.Target == nil {
			return nil, fmt.Errorf("%w: bond %d is incomplete", ErrMalformed, i)
		}
		r.Bonds = append(r.Bonds, Bond{Source: *b.Source, Target: *b.Target})
	}
	return r, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
