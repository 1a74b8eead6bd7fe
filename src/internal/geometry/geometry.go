// Package geometry holds the vector and rotation math shared by every
// rendering backend. The export script mirrors Orient and Quat.Rotate
// line for line, so changes here must be made there too.
package geometry

import "math"

// BondRadius is the radius of every bond cylinder, in scene units.
const BondRadius = 0.12

const epsilon = 1e-9

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Up is the canonical cylinder axis.
var Up = Vec3{0, 1, 0}

func V(x, y, z float64) Vec3 { return Vec3{x, y, z} }

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Length() float64      { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

func (v Vec3) Finite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// RotateY rotates v about the Y axis by theta radians.
func (v Vec3) RotateY(theta float64) Vec3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Vec3{X: c*v.X + s*v.Z, Y: v.Y, Z: -s*v.X + c*v.Z}
}

// RotateX rotates v about the X axis by theta radians.
func (v Vec3) RotateX(theta float64) Vec3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Vec3{X: v.X, Y: c*v.Y - s*v.Z, Z: s*v.Y + c*v.Z}
}

// Quat is a unit quaternion (X, Y, Z vector part, W scalar part).
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

var Identity = Quat{W: 1}

// ShortestArc returns the minimal rotation taking unit vector from onto unit
// vector to. Antiparallel inputs rotate half a turn about an axis orthogonal
// to from.
func ShortestArc(from, to Vec3) Quat {
	r := from.Dot(to) + 1
	var q Quat
	if r < epsilon {
		if math.Abs(from.X) > math.Abs(from.Z) {
			q = Quat{X: -from.Y, Y: from.X, Z: 0, W: 0}
		} else {
			q = Quat{X: 0, Y: -from.Z, Z: from.Y, W: 0}
		}
	} else {
		c := from.Cross(to)
		q = Quat{X: c.X, Y: c.Y, Z: c.Z, W: r}
	}
	return q.Normalize()
}

func (q Quat) Normalize() Quat {
	l := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if l == 0 {
		return Identity
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Pose places a unit-height cylinder centered on the origin along a bond.
type Pose struct {
	Length   float64 `json:"length"`
	Midpoint Vec3    `json:"midpoint"`
	Rotation Quat    `json:"rotation"`
}

// Orient computes the pose of a bond between start and end. ok is false when
// the points coincide (or are not finite) and the bond must not be drawn.
func Orient(start, end Vec3) (p Pose, ok bool) {
	if !start.Finite() || !end.Finite() {
		return Pose{}, false
	}
	d := end.Sub(start)
	length := d.Length()
	if length < epsilon || !finite(length) {
		return Pose{}, false
	}
	return Pose{
		Length:   length,
		Midpoint: start.Add(end).Scale(0.5),
		Rotation: ShortestArc(Up, d.Scale(1/length)),
	}, true
}

// Ends recovers the two cylinder end points from the pose.
func (p Pose) Ends() (Vec3, Vec3) {
	half := p.Rotation.Rotate(Up).Scale(p.Length / 2)
	return p.Midpoint.Sub(half), p.Midpoint.Add(half)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
