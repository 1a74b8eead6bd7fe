package scene

import (
	"math"

	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/geometry"
	"molecule-lab/src/internal/interaction"

	"github.com/lucasb-eyer/go-colorful"
)

// Specular is the material shininess folded into the highlight mix.
const Specular = 0.333

// Shading are the rig-derived factors each backend multiplies into a base
// color. They are computed once from the lights so the raster backend and the
// export script cannot drift apart.
type Shading struct {
	Body      float64 `json:"body"`
	Rim       float64 `json:"rim"`
	Highlight float64 `json:"highlight"`
	// Screen-space direction toward the key light, y down.
	LightDX float64 `json:"lightDx"`
	LightDY float64 `json:"lightDy"`
	// Fraction of the projected radius the highlight is offset by.
	Offset float64 `json:"offset"`
}

// Params is everything a rendering backend needs besides the record.
type Params struct {
	Background  string                         `json:"background"`
	BondColor   string                         `json:"bondColor"`
	BondRadius  float64                        `json:"bondRadius"`
	LabelOffset float64                        `json:"labelOffset"`
	LabelScale  float64                        `json:"labelScale"`
	Camera      Camera                         `json:"camera"`
	Lights      []Light                        `json:"lights"`
	Shading     Shading                        `json:"shading"`
	Interaction interaction.Settings           `json:"interaction"`
	Elements    map[string]elements.Attributes `json:"elements"`
	Fallback    elements.Attributes            `json:"fallback"`
}

func NewParams(res *elements.Resolver, s interaction.Settings) Params {
	if res == nil {
		res = elements.Default()
	}
	s = s.Sanitize()
	lights := Rig()
	return Params{
		Background:  Background,
		BondColor:   BondColor,
		BondRadius:  geometry.BondRadius,
		LabelOffset: LabelOffset,
		LabelScale:  LabelScale,
		Camera:      Camera{FOV: CameraFOV, Near: CameraNear, Far: CameraFar, Distance: s.InitialDistance},
		Lights:      lights,
		Shading:     ShadingFor(lights),
		Interaction: s,
		Elements:    res.Table(),
		Fallback:    res.Fallback(),
	}
}

// ShadingFor derives shading factors from a light list. The strongest point
// light is the key, the remaining point lights add up to the fill.
func ShadingFor(lights []Light) Shading {
	var ambient, key, fill float64
	keyPos := geometry.V(0, 0, 1)
	for _, l := range lights {
		switch l.Kind {
		case Ambient:
			ambient += l.Intensity
		case Point:
			if l.Intensity > key {
				fill += key
				key = l.Intensity
				keyPos = l.Position
			} else {
				fill += l.Intensity
			}
		}
	}
	sh := Shading{
		Body:      clamp01(ambient*0.5 + key*0.5),
		Rim:       clamp01(ambient*0.5*0.6 + fill*0.2),
		Highlight: clamp01(Specular * key),
		Offset:    0.35,
	}
	dir := math.Hypot(keyPos.X, keyPos.Y)
	if dir > 0 {
		sh.LightDX = keyPos.X / dir
		sh.LightDY = -keyPos.Y / dir
	}
	return sh
}

// Palette is the three gradient stops of a shaded sphere.
type Palette struct {
	Highlight colorful.Color
	Body      colorful.Color
	Rim       colorful.Color
}

// ParseColor accepts #rgb and #rrggbb. Anything else falls back to the
// default element color.
func ParseColor(hex string) colorful.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(elements.Default().Fallback().Color)
	}
	return c
}

func (s Shading) Palette(hex string) Palette {
	base := ParseColor(hex)
	body := scale(base, s.Body)
	white := colorful.Color{R: 1, G: 1, B: 1}
	return Palette{
		Highlight: colorful.Color{
			R: body.R + (white.R-body.R)*s.Highlight,
			G: body.G + (white.G-body.G)*s.Highlight,
			B: body.B + (white.B-body.B)*s.Highlight,
		},
		Body: body,
		Rim:  scale(base, s.Rim),
	}
}

func scale(c colorful.Color, f float64) colorful.Color {
	return colorful.Color{R: c.R * f, G: c.G * f, B: c.B * f}.Clamped()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
