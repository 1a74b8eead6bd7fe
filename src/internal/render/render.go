// Package render is the raster backend: it draws a scene graph under a view
// transform into an image with a perspective camera and painter's ordering.
// The export script implements the same drawing on a browser canvas.
package render

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	"molecule-lab/src/internal/geometry"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/scene"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

const (
	minSize = 16
	maxSize = 4096

	// Fraction of a label sprite's height taken by glyphs.
	labelFill = 0.6
	// Bond highlight stroke relative to the bond width.
	bondHighlight = 0.35
)

type Renderer struct {
	params scene.Params
	font   *truetype.Font

	mu    sync.Mutex
	faces map[int]font.Face
}

func New(p scene.Params) (*Renderer, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Renderer{params: p, font: f, faces: make(map[int]font.Face)}, nil
}

func (r *Renderer) Params() scene.Params { return r.params }

// Viewport is one frame's projection: the view rotation followed by a
// pinhole camera sitting on +Z at the view distance.
type Viewport struct {
	Width, Height int
	View          interaction.ViewTransform
	focal         float64
}

func NewViewport(w, h int, fov float64, v interaction.ViewTransform) Viewport {
	w, h = clampSize(w), clampSize(h)
	return Viewport{
		Width:  w,
		Height: h,
		View:   v,
		focal:  float64(h) / 2 / math.Tan(fov*math.Pi/360),
	}
}

// Transform rotates a model-space point into view space.
func (vp Viewport) Transform(p geometry.Vec3) geometry.Vec3 {
	return p.RotateY(vp.View.Yaw).RotateX(vp.View.Pitch)
}

// Project maps a view-space point to screen pixels. k is pixels per scene
// unit at that depth; ok is false behind the near plane.
func (vp Viewport) Project(p geometry.Vec3) (x, y, k float64, ok bool) {
	depth := vp.View.Distance - p.Z
	if depth < scene.CameraNear {
		return 0, 0, 0, false
	}
	k = vp.focal / depth
	return float64(vp.Width)/2 + p.X*k, float64(vp.Height)/2 - p.Y*k, k, true
}

type drawable struct {
	z    float64
	draw func(dc *gg.Context)
}

// Render draws g into a new image. A nil graph yields an empty background.
func (r *Renderer) Render(g *scene.Graph, v interaction.ViewTransform, w, h int) image.Image {
	return r.draw(g, v, w, h).Image()
}

// RenderPNG renders and encodes a frame.
func (r *Renderer) RenderPNG(g *scene.Graph, v interaction.ViewTransform, w, h int) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.draw(g, v, w, h).EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) draw(g *scene.Graph, v interaction.ViewTransform, w, h int) *gg.Context {
	vp := NewViewport(w, h, r.params.Camera.FOV, v)
	dc := gg.NewContext(vp.Width, vp.Height)
	dc.SetHexColor(r.params.Background)
	dc.Clear()
	if g == nil {
		return dc
	}

	items := make([]drawable, 0, len(g.Spheres)+len(g.Cylinders)+len(g.Labels))
	for _, s := range g.Spheres {
		if d, ok := r.sphere(vp, s); ok {
			items = append(items, d)
		}
	}
	for _, c := range g.Cylinders {
		if d, ok := r.cylinder(vp, c); ok {
			items = append(items, d)
		}
	}
	for _, l := range g.Labels {
		if d, ok := r.label(vp, l); ok {
			items = append(items, d)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].z < items[j].z })
	for _, it := range items {
		it.draw(dc)
	}
	return dc
}

func (r *Renderer) sphere(vp Viewport, s scene.Sphere) (drawable, bool) {
	c := vp.Transform(s.Center)
	x, y, k, ok := vp.Project(c)
	if !ok {
		return drawable{}, false
	}
	rad := s.Radius * k
	sh := r.params.Shading
	pal := sh.Palette(s.Color)
	hx, hy := x+sh.LightDX*sh.Offset*rad, y+sh.LightDY*sh.Offset*rad
	return drawable{z: c.Z, draw: func(dc *gg.Context) {
		grad := gg.NewRadialGradient(hx, hy, 0, x, y, rad)
		grad.AddColorStop(0, pal.Highlight)
		grad.AddColorStop(0.35, pal.Body)
		grad.AddColorStop(1, pal.Rim)
		dc.SetFillStyle(grad)
		dc.DrawCircle(x, y, rad)
		dc.Fill()
	}}, true
}

func (r *Renderer) cylinder(vp Viewport, c scene.Cylinder) (drawable, bool) {
	a, b := c.Pose.Ends()
	a, b = vp.Transform(a), vp.Transform(b)
	ax, ay, ak, ok1 := vp.Project(a)
	bx, by, bk, ok2 := vp.Project(b)
	if !ok1 || !ok2 {
		return drawable{}, false
	}
	width := c.Radius * (ak + bk)
	pal := r.params.Shading.Palette(c.Color)
	return drawable{z: (a.Z + b.Z) / 2, draw: func(dc *gg.Context) {
		dc.SetLineCapButt()
		dc.SetColor(pal.Body)
		dc.SetLineWidth(width)
		dc.DrawLine(ax, ay, bx, by)
		dc.Stroke()
		dc.SetColor(pal.Highlight)
		dc.SetLineWidth(width * bondHighlight)
		dc.DrawLine(ax, ay, bx, by)
		dc.Stroke()
	}}, true
}

func (r *Renderer) label(vp Viewport, l scene.Label) (drawable, bool) {
	p := vp.Transform(l.Position)
	x, y, k, ok := vp.Project(p)
	if !ok {
		return drawable{}, false
	}
	size := int(math.Round(l.Scale * k * labelFill))
	if size < 4 {
		return drawable{}, false
	}
	face := r.face(size)
	outline := math.Max(1, float64(size)/12)
	return drawable{z: p.Z, draw: func(dc *gg.Context) {
		// Faces keep a glyph cache and are reused across frames of this renderer.
		r.mu.Lock()
		defer r.mu.Unlock()
		dc.SetFontFace(face)
		dc.SetRGB(1, 1, 1)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					dc.DrawStringAnchored(l.Text, x+float64(dx)*outline, y+float64(dy)*outline, 0.5, 0.5)
				}
			}
		}
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(l.Text, x, y, 0.5, 0.5)
	}}, true
}

// Close drops the cached font faces.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.faces {
		_ = f.Close()
	}
	r.faces = make(map[int]font.Face)
}

func (r *Renderer) face(size int) font.Face {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[size]; ok {
		return f
	}
	f := truetype.NewFace(r.font, &truetype.Options{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
	r.faces[size] = f
	return f
}

func clampSize(n int) int {
	if n < minSize {
		return minSize
	}
	if n > maxSize {
		return maxSize
	}
	return n
}
