package protocol

import (
	"errors"
	"fmt"
	"math"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/world"
)

// ErrMalformed matches every decode or validation failure for a sync message.
var ErrMalformed = errors.New("malformed sync message")

// ValidationError names the field that made a message unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q %s", ErrMalformed, e.Field, e.Reason)
}

// Is lets callers match any ValidationError against ErrMalformed.
func (e *ValidationError) Is(target error) bool { return target == ErrMalformed }

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is missing"}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// malformed wraps a lower level decode error so it matches ErrMalformed.
func malformed(codec string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, codec, err)
}

// SyncMessage is a complete snapshot of one entity. It is never a delta.
type SyncMessage struct {
	ID     world.ID
	X      float64
	Y      float64
	VX     float64
	VY     float64
	Intent input.Intent
}

// FromEntity snapshots the entity's identity, kinematics and intent.
func FromEntity(e world.Entity) SyncMessage {
	return SyncMessage{
		ID:     e.ID,
		X:      e.Position.X,
		Y:      e.Position.Y,
		VX:     e.Velocity.X,
		VY:     e.Velocity.Y,
		Intent: e.Intent,
	}
}

// Position returns the carried position as a vector.
func (m SyncMessage) Position() geom.Vec2 { return geom.Vec2{X: m.X, Y: m.Y} }

// Velocity returns the carried velocity as a vector.
func (m SyncMessage) Velocity() geom.Vec2 { return geom.Vec2{X: m.VX, Y: m.VY} }

// Validate enforces the identifier range and finiteness of every number.
func (m SyncMessage) Validate() error {
	if !m.ID.Valid() {
		return invalid("id", fmt.Sprintf("must be in [1, %d], got %d", uint64(world.MaxID), uint64(m.ID)))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{{"x", m.X}, {"y", m.Y}, {"vx", m.VX}, {"vy", m.VY}} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return invalid(f.name, "must be finite")
		}
	}
	return nil
}
