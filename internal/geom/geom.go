package geom

import (
	"fmt"
	"math"
)

// Vec2 is an immutable 2D vector helper used by the simulation.
type Vec2 struct {
	X float64
	Y float64
}

// V is shorthand for constructing a Vec2.
func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

// Add returns the component-wise sum.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns the component-wise difference.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale multiplies both components by s.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{X: v.X * s, Y: v.Y * s} }

// Len returns the Euclidean magnitude.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Finite reports whether both components are neither NaN nor infinite.
func (v Vec2) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

func (v Vec2) String() string { return fmt.Sprintf("(%g, %g)", v.X, v.Y) }

// Bounds is an axis-aligned arena rectangle. Y grows downwards.
type Bounds struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// Rect builds bounds anchored at the origin with the given size.
func Rect(width, height float64) Bounds {
	return Bounds{Left: 0, Top: 0, Right: width, Bottom: height}
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.Bottom - b.Top }

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Vec2 {
	return Vec2{X: (b.Left + b.Right) / 2, Y: (b.Top + b.Bottom) / 2}
}

// Validate checks the ordering invariants left < right and top < bottom.
func (b Bounds) Validate() error {
	if !(b.Left < b.Right) {
		return fmt.Errorf("bounds left %g must be less than right %g", b.Left, b.Right)
	}
	if !(b.Top < b.Bottom) {
		return fmt.Errorf("bounds top %g must be less than bottom %g", b.Top, b.Bottom)
	}
	return nil
}
