// Package scene turns a molecule record into a backend-neutral scene graph.
//
// The graph is a single rigid group: spheres, bond cylinders and labels are
// rotated together by the view transform, never individually. Composition
// never fails; elements that break the record invariants are dropped and
// reported in Graph.Dropped.
package scene

import (
	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/geometry"
	"molecule-lab/src/internal/molecule"
)

const (
	Background = "#0f172a"
	BondColor  = "#94a3b8"

	// Labels sit just in front of the sphere surface and scale with the atom.
	LabelOffset = 0.1
	LabelScale  = 1.5

	CameraFOV  = 45.0
	CameraNear = 0.1
	CameraFar  = 1000.0
)

type DropReason string

const (
	OutOfRange    DropReason = "out_of_range"
	SelfReference DropReason = "self_reference"
	Coincident    DropReason = "coincident"
	BadAtom       DropReason = "bad_atom"
)

type Sphere struct {
	AtomID  int           `json:"atomId"`
	Element string        `json:"element"`
	Center  geometry.Vec3 `json:"center"`
	Radius  float64       `json:"radius"`
	Color   string        `json:"color"`
}

type Cylinder struct {
	Source int           `json:"source"`
	Target int           `json:"target"`
	Pose   geometry.Pose `json:"pose"`
	Radius float64       `json:"radius"`
	Color  string        `json:"color"`
}

// Label is a camera-facing text sprite.
type Label struct {
	AtomID   int           `json:"atomId"`
	Text     string        `json:"text"`
	Position geometry.Vec3 `json:"position"`
	Scale    float64       `json:"scale"`
}

type LightKind string

const (
	Ambient LightKind = "ambient"
	Point   LightKind = "point"
)

type Light struct {
	Kind      LightKind     `json:"kind"`
	Color     string        `json:"color"`
	Intensity float64       `json:"intensity"`
	Position  geometry.Vec3 `json:"position"`
}

type Camera struct {
	FOV      float64 `json:"fov"`
	Near     float64 `json:"near"`
	Far      float64 `json:"far"`
	Distance float64 `json:"distance"`
}

type Dropped struct {
	Index  int        `json:"index"`
	Kind   string     `json:"kind"`
	Reason DropReason `json:"reason"`
}

type Graph struct {
	Spheres    []Sphere   `json:"spheres"`
	Cylinders  []Cylinder `json:"cylinders"`
	Labels     []Label    `json:"labels"`
	Lights     []Light    `json:"lights"`
	Camera     Camera     `json:"camera"`
	Background string     `json:"background"`
	Dropped    []Dropped  `json:"dropped,omitempty"`
}

// Rig is the fixed lighting: ambient fill plus a key and a fill point light.
func Rig() []Light {
	return []Light{
		{Kind: Ambient, Color: "#ffffff", Intensity: 0.7},
		{Kind: Point, Color: "#ffffff", Intensity: 1.2, Position: geometry.V(10, 10, 10)},
		{Kind: Point, Color: "#ffffff", Intensity: 0.5, Position: geometry.V(-10, -5, -10)},
	}
}

type Composer struct {
	resolver *elements.Resolver
	distance float64
}

// NewComposer uses res to fill in display attributes that were never
// enriched; distance is the initial camera distance.
func NewComposer(res *elements.Resolver, distance float64) *Composer {
	if res == nil {
		res = elements.Default()
	}
	if distance <= 0 {
		distance = 8
	}
	return &Composer{resolver: res, distance: distance}
}

func (c *Composer) Compose(r *molecule.Record) *Graph {
	g := &Graph{
		Lights:     Rig(),
		Camera:     Camera{FOV: CameraFOV, Near: CameraNear, Far: CameraFar, Distance: c.distance},
		Background: Background,
	}
	if r == nil {
		return g
	}

	usable := make([]bool, len(r.Atoms))
	for i, a := range r.Atoms {
		if !a.Finite() {
			g.Dropped = append(g.Dropped, Dropped{Index: i, Kind: "atom", Reason: BadAtom})
			continue
		}
		usable[i] = true
		color, radius := a.Color, a.Radius
		if color == "" || !(radius > 0) {
			attr := c.resolver.Resolve(a.Element)
			if color == "" {
				color = attr.Color
			}
			if !(radius > 0) {
				radius = attr.Radius
			}
		}
		center := geometry.V(a.X, a.Y, a.Z)
		g.Spheres = append(g.Spheres, Sphere{AtomID: i, Element: a.Element, Center: center, Radius: radius, Color: color})
		g.Labels = append(g.Labels, Label{
			AtomID:   i,
			Text:     a.Element,
			Position: center.Add(geometry.V(0, 0, radius+LabelOffset)),
			Scale:    radius * LabelScale,
		})
	}

	for i, b := range r.Bonds {
		if !r.ValidBond(b) {
			reason := OutOfRange
			if b.Source == b.Target {
				reason = SelfReference
			}
			g.Dropped = append(g.Dropped, Dropped{Index: i, Kind: "bond", Reason: reason})
			continue
		}
		if !usable[b.Source] || !usable[b.Target] {
			g.Dropped = append(g.Dropped, Dropped{Index: i, Kind: "bond", Reason: BadAtom})
			continue
		}
		s, t := r.Atoms[b.Source], r.Atoms[b.Target]
		pose, ok := geometry.Orient(geometry.V(s.X, s.Y, s.Z), geometry.V(t.X, t.Y, t.Z))
		if !ok {
			g.Dropped = append(g.Dropped, Dropped{Index: i, Kind: "bond", Reason: Coincident})
			continue
		}
		g.Cylinders = append(g.Cylinders, Cylinder{
			Source: b.Source,
			Target: b.Target,
			Pose:   pose,
			Radius: geometry.BondRadius,
			Color:  BondColor,
		})
	}
	return g
}
