package physics

import (
	"math"

	"arenasync/internal/geom"
	"arenasync/internal/input"
)

const (
	// DefaultAcceleration is the force magnitude applied per held direction.
	DefaultAcceleration = 500.0
	// DefaultRadius is the collision and drawing radius of an entity.
	DefaultRadius = 20.0

	baseColor = 100
	maxColor  = 255
)

// Body is the mutable simulation state advanced by Integrate.
type Body struct {
	Position     geom.Vec2
	Velocity     geom.Vec2
	Acceleration float64
	Radius       float64
	Intent       input.Intent
}

// NewBody returns a resting body at the position using the default tuning.
func NewBody(position geom.Vec2) Body {
	return Body{Position: position, Acceleration: DefaultAcceleration, Radius: DefaultRadius}
}

// Integrate advances the body by dt seconds inside bounds.
//
// Every product is rounded through an explicit float64 conversion so the
// compiler cannot fuse multiply-add pairs; local and remote copies of an
// entity must trace bit-identical paths on every architecture.
func Integrate(body *Body, bounds geom.Bounds, dt float64) {
	//1.- Skip integration for missing bodies or non-positive timesteps.
	if body == nil || !(dt > 0) {
		return
	}
	//2.- Derive the target velocity from the held intent.
	ax, ay := body.Intent.Axis()
	fx := float64(ax * body.Acceleration)
	fy := float64(ay * body.Acceleration)
	//3.- Low-pass the velocity towards the target then advance the position.
	body.Velocity.X += float64(dt * (fx - body.Velocity.X))
	body.Velocity.Y += float64(dt * (fy - body.Velocity.Y))
	body.Position.X += float64(dt * body.Velocity.X)
	body.Position.Y += float64(dt * body.Velocity.Y)
	//4.- Keep the circle inside the arena.
	containBody(body, bounds)
}

// containBody clamps the circle to the arena, reflecting velocity only while
// it still points outward so held input into a wall does not oscillate.
func containBody(body *Body, bounds geom.Bounds) {
	r := body.Radius
	if body.Position.X < bounds.Left+r {
		if body.Velocity.X < 0 {
			body.Velocity.X = -body.Velocity.X
		}
		body.Position.X = bounds.Left + r
	}
	if body.Position.Y < bounds.Top+r {
		if body.Velocity.Y < 0 {
			body.Velocity.Y = -body.Velocity.Y
		}
		body.Position.Y = bounds.Top + r
	}
	if body.Position.X > bounds.Right-r {
		if body.Velocity.X > 0 {
			body.Velocity.X = -body.Velocity.X
		}
		body.Position.X = bounds.Right - r
	}
	if body.Position.Y > bounds.Bottom-r {
		if body.Velocity.Y > 0 {
			body.Velocity.Y = -body.Velocity.Y
		}
		body.Position.Y = bounds.Bottom - r
	}
}

// Color maps speed onto a grayscale intensity in [100, 255].
func Color(velocity geom.Vec2) uint8 {
	speed := math.Floor(velocity.Len())
	if math.IsNaN(speed) || speed >= maxColor-baseColor {
		return maxColor
	}
	if speed < 0 {
		speed = 0
	}
	return uint8(speed) + baseColor
}
