// Package interaction owns the view transform of one viewing session and the
// rules that mutate it: drag to rotate, wheel to zoom, idle auto-rotation.
package interaction

import (
	"math"
	"sync"
)

// Settings are the tuning constants. Both rendering backends read the same
// values, see scene.Params.
type Settings struct {
	Sensitivity     float64 `json:"sensitivity"`
	ZoomFactor      float64 `json:"zoomFactor"`
	MinDistance     float64 `json:"minDistance"`
	MaxDistance     float64 `json:"maxDistance"`
	InitialDistance float64 `json:"initialDistance"`
	IdleSpeed       float64 `json:"idleSpeed"`
}

func DefaultSettings() Settings {
	return Settings{
		Sensitivity:     0.01,
		ZoomFactor:      0.005,
		MinDistance:     3,
		MaxDistance:     20,
		InitialDistance: 8,
		IdleSpeed:       0.003,
	}
}

// Sanitize replaces unusable values with defaults and orders the distance range.
func (s Settings) Sanitize() Settings {
	d := DefaultSettings()
	if !(s.Sensitivity > 0) {
		s.Sensitivity = d.Sensitivity
	}
	if !(s.ZoomFactor > 0) {
		s.ZoomFactor = d.ZoomFactor
	}
	if !(s.MinDistance > 0) {
		s.MinDistance = d.MinDistance
	}
	if !(s.MaxDistance > 0) {
		s.MaxDistance = d.MaxDistance
	}
	if s.MinDistance > s.MaxDistance {
		s.MinDistance, s.MaxDistance = s.MaxDistance, s.MinDistance
	}
	if !(s.InitialDistance > 0) {
		s.InitialDistance = d.InitialDistance
	}
	if s.IdleSpeed < 0 || math.IsNaN(s.IdleSpeed) {
		s.IdleSpeed = d.IdleSpeed
	}
	s.InitialDistance = clamp(s.InitialDistance, s.MinDistance, s.MaxDistance)
	return s
}

// ViewTransform is the camera orientation and distance. Yaw and pitch are
// radians and wrap implicitly.
type ViewTransform struct {
	Yaw      float64 `json:"yaw"`
	Pitch    float64 `json:"pitch"`
	Distance float64 `json:"distance"`
}

// Controller is owned by exactly one session. Input handlers and the frame
// tick may run on different goroutines.
type Controller struct {
	mu       sync.Mutex
	settings Settings
	view     ViewTransform
	dragging bool
}

func NewController(s Settings) *Controller {
	s = s.Sanitize()
	return &Controller{
		settings: s,
		view:     ViewTransform{Distance: s.InitialDistance},
	}
}

func (c *Controller) Settings() Settings { return c.settings }

func (c *Controller) PointerDown() {
	c.mu.Lock()
	c.dragging = true
	c.mu.Unlock()
}

// PointerUp ends a drag wherever the pointer is released.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	c.dragging = false
	c.mu.Unlock()
}

// PointerMove rotates by the pointer delta while dragging and is ignored otherwise.
func (c *Controller) PointerMove(dx, dy float64) {
	if !finite(dx) || !finite(dy) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		return
	}
	c.view.Yaw += dx * c.settings.Sensitivity
	c.view.Pitch += dy * c.settings.Sensitivity
}

// Wheel zooms regardless of drag state.
func (c *Controller) Wheel(deltaY float64) {
	if !finite(deltaY) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Distance = clamp(c.view.Distance+deltaY*c.settings.ZoomFactor, c.settings.MinDistance, c.settings.MaxDistance)
}

// Tick advances idle rotation by one frame unless a drag is active. It
// reports whether the increment was applied.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging {
		return false
	}
	c.view.Yaw += c.settings.IdleSpeed
	return true
}

func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

func (c *Controller) View() ViewTransform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Reset restores the initial orientation, used when a new record replaces the old one.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = ViewTransform{Distance: c.settings.InitialDistance}
	c.dragging = false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
