package interaction

import (
	"math"
	"math/rand"
	"sync"
	"testing"
)

func TestDragRotates(t *testing.T) {
	c := NewController(DefaultSettings())
	c.PointerMove(50, 50)
	if v := c.View(); v.Yaw != 0 || v.Pitch != 0 {
		t.Fatalf("move without drag changed view: %+v", v)
	}

	c.PointerDown()
	c.PointerMove(10, -20)
	c.PointerMove(5, 0)
	v := c.View()
	if math.Abs(v.Yaw-0.15) > 1e-12 || math.Abs(v.Pitch+0.2) > 1e-12 {
		t.Errorf("unexpected view after drag: %+v", v)
	}
	c.PointerUp()
	if c.Dragging() {
		t.Error("pointer up did not end drag")
	}
}

func TestIdleTicksAfterDrag(t *testing.T) {
	s := DefaultSettings()
	c := NewController(s)
	c.PointerDown()
	c.PointerMove(30, 12)
	c.PointerUp()
	base := c.View()

	const n = 25
	prev := base.Yaw
	for i := 0; i < n; i++ {
		if !c.Tick() {
			t.Fatalf("tick %d not applied while idle", i)
		}
		v := c.View()
		if v.Yaw <= prev {
			t.Fatalf("yaw did not increase on tick %d", i)
		}
		if v.Pitch != base.Pitch {
			t.Fatalf("idle tick changed pitch")
		}
		prev = v.Yaw
	}
	if math.Abs(prev-(base.Yaw+n*s.IdleSpeed)) > 1e-12 {
		t.Errorf("yaw after %d ticks = %v, want %v", n, prev, base.Yaw+n*s.IdleSpeed)
	}
}

func TestDragSuppressesIdle(t *testing.T) {
	c := NewController(DefaultSettings())
	c.Tick()
	c.PointerDown()
	before := c.View()
	if c.Tick() {
		t.Error("tick applied during drag")
	}
	if c.View() != before {
		t.Error("view changed by suppressed tick")
	}
}

func TestWheelClamp(t *testing.T) {
	s := DefaultSettings()
	c := NewController(s)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		if i%100 == 0 {
			c.PointerDown()
		} else if i%100 == 50 {
			c.PointerUp()
		}
		c.Wheel((rng.Float64() - 0.5) * 4000)
		d := c.View().Distance
		if d < s.MinDistance || d > s.MaxDistance {
			t.Fatalf("distance %v escaped [%v, %v]", d, s.MinDistance, s.MaxDistance)
		}
	}
	c.Wheel(1e9)
	if c.View().Distance != s.MaxDistance {
		t.Errorf("expected max distance, got %v", c.View().Distance)
	}
	c.Wheel(-1e9)
	if c.View().Distance != s.MinDistance {
		t.Errorf("expected min distance, got %v", c.View().Distance)
	}
	c.Wheel(math.NaN())
	if c.View().Distance != s.MinDistance {
		t.Error("NaN wheel delta changed distance")
	}
}

func TestSanitize(t *testing.T) {
	s := Settings{MinDistance: 30, MaxDistance: 4, InitialDistance: 100}.Sanitize()
	if s.MinDistance != 4 || s.MaxDistance != 30 || s.InitialDistance != 30 {
		t.Errorf("unexpected sanitized settings %+v", s)
	}
	if s.Sensitivity != 0.01 || s.ZoomFactor != 0.005 {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestConcurrentInput(t *testing.T) {
	c := NewController(DefaultSettings())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.PointerDown()
			c.PointerMove(1, 1)
			c.Wheel(3)
			c.PointerUp()
		}
	}()
	wg.Wait()
	if c.Dragging() {
		t.Error("controller left dragging")
	}
}
