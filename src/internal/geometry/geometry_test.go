package geometry

import (
	"math"
	"testing"
)

func near(a, b Vec3) bool {
	return a.Sub(b).Length() < 1e-9
}

func TestOrientAxes(t *testing.T) {
	tests := []struct {
		name       string
		start, end Vec3
	}{
		{"x axis", V(0, 0, 0), V(1, 0, 0)},
		{"up", V(0, 0, 0), V(0, 2, 0)},
		{"down", V(0, 3, 0), V(0, 1, 0)},
		{"diagonal", V(-1, 2, 0.5), V(1.5, -0.25, 2)},
		{"z axis", V(0, 0, 1), V(0, 0, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Orient(tt.start, tt.end)
			if !ok {
				t.Fatal("expected a pose")
			}
			want := tt.end.Sub(tt.start)
			if math.Abs(p.Length-want.Length()) > 1e-9 {
				t.Errorf("length %v, want %v", p.Length, want.Length())
			}
			if !near(p.Midpoint, tt.start.Add(tt.end).Scale(0.5)) {
				t.Errorf("midpoint %v", p.Midpoint)
			}
			if got := p.Rotation.Rotate(Up); !near(got, want.Normalize()) {
				t.Errorf("rotated up = %v, want %v", got, want.Normalize())
			}
			a, b := p.Ends()
			if !near(a, tt.start) || !near(b, tt.end) {
				t.Errorf("ends %v %v, want %v %v", a, b, tt.start, tt.end)
			}
		})
	}
}

func TestOrientCoincident(t *testing.T) {
	p, ok := Orient(V(1, 1, 1), V(1, 1, 1))
	if ok {
		t.Fatalf("expected skip for coincident atoms, got %+v", p)
	}
	if p != (Pose{}) {
		t.Errorf("skip result must be the zero pose, got %+v", p)
	}
}

func TestOrientNonFinite(t *testing.T) {
	if _, ok := Orient(V(math.NaN(), 0, 0), V(1, 0, 0)); ok {
		t.Error("expected skip for NaN input")
	}
	if _, ok := Orient(V(0, 0, 0), V(math.Inf(1), 0, 0)); ok {
		t.Error("expected skip for infinite input")
	}
}

func TestShortestArcIsUnit(t *testing.T) {
	dirs := []Vec3{V(0, -1, 0), V(1, 0, 0), V(0, 1, 0), V(0.3, -0.9, 0.1).Normalize()}
	for _, d := range dirs {
		q := ShortestArc(Up, d)
		l := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
		if math.Abs(l-1) > 1e-9 {
			t.Errorf("quaternion for %v not unit: %v", d, l)
		}
		if math.IsNaN(q.X + q.Y + q.Z + q.W) {
			t.Errorf("NaN quaternion for %v", d)
		}
	}
}

func TestRotateXY(t *testing.T) {
	v := V(1, 0, 0).RotateY(math.Pi / 2)
	if !near(v, V(0, 0, -1)) {
		t.Errorf("RotateY = %v", v)
	}
	v = V(0, 1, 0).RotateX(math.Pi / 2)
	if !near(v, V(0, 0, 1)) {
		t.Errorf("RotateX = %v", v)
	}
}
