package world

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"arenasync/internal/geom"
	"arenasync/internal/physics"
)

// MaxID is the largest identifier that survives a round trip through any
// IEEE-754 JSON number implementation.
const MaxID = 1<<53 - 1

// ID identifies an entity for its whole lifetime. Zero is never assigned.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Valid reports whether the identifier is inside the assignable range.
func (id ID) Valid() bool { return id != 0 && id <= MaxID }

// NewID draws a random identifier from a version 4 UUID.
func NewID() (ID, error) {
	for {
		u, err := uuid.NewRandom()
		if err != nil {
			return 0, fmt.Errorf("generate entity id: %w", err)
		}
		//1.- Fold the leading random bytes into the JSON-safe range.
		id := ID(binary.BigEndian.Uint64(u[:8]) & MaxID)
		if id.Valid() {
			return id, nil
		}
	}
}

// Entity is one simulated circle. Local is fixed at creation and decides
// authority: only local entities follow this process's input and get
// published, only remote ones accept inbound snapshots.
type Entity struct {
	ID ID
	physics.Body
	Local bool
	Color uint8

	bounds *geom.Bounds
}

// Bounds returns the arena the entity is confined to.
func (e *Entity) Bounds() geom.Bounds {
	if e == nil || e.bounds == nil {
		return geom.Bounds{}
	}
	return *e.bounds
}

// integrate advances the entity with the shared integrator. Local and remote
// entities take exactly the same path.
func (e *Entity) integrate(dt float64) {
	physics.Integrate(&e.Body, *e.bounds, dt)
	e.Color = physics.Color(e.Velocity)
}

// Sprite is the drawable projection of an entity.
type Sprite struct {
	ID       ID
	Position geom.Vec2
	Radius   float64
	Color    uint8
	Local    bool
}

// Canvas receives sprites during Render.
type Canvas interface {
	Draw(sprite Sprite)
}
