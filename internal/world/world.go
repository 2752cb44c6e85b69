package world

import (
	"errors"
	"fmt"
	"sync"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/physics"
)

var (
	// ErrDuplicateID signals an insertion for an identifier already registered.
	ErrDuplicateID = errors.New("entity id already registered")
	// ErrInvalidID signals a zero or out-of-range identifier.
	ErrInvalidID = errors.New("entity id out of range")
	// ErrNotFound signals a lookup for an unknown identifier.
	ErrNotFound = errors.New("entity not found")
)

// Frame is the per-tick sample handed over by the frame driver.
type Frame struct {
	DT     float64
	Intent input.Intent
}

// Option customises World construction.
type Option func(*World)

// WithTuning overrides the acceleration and radius given to remote entities
// materialised from the network.
func WithTuning(acceleration, radius float64) Option {
	return func(w *World) {
		if acceleration > 0 {
			w.tuning.Acceleration = acceleration
		}
		if radius > 0 {
			w.tuning.Radius = radius
		}
	}
}

// World owns every entity of one arena. All reads and writes are serialised
// by a single mutex, including the per-tick traversal.
type World struct {
	mu       sync.RWMutex
	bounds   geom.Bounds
	tuning   physics.Body
	entities map[ID]*Entity
	order    []ID
}

// New constructs an empty registry confined to bounds.
func New(bounds geom.Bounds, opts ...Option) (*World, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	w := &World{
		bounds:   bounds,
		tuning:   physics.Body{Acceleration: physics.DefaultAcceleration, Radius: physics.DefaultRadius},
		entities: make(map[ID]*Entity),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Bounds returns the arena rectangle.
func (w *World) Bounds() geom.Bounds {
	if w == nil {
		return geom.Bounds{}
	}
	return w.bounds
}

// Tuning returns the acceleration and radius used for materialised entities.
func (w *World) Tuning() (acceleration, radius float64) {
	if w == nil {
		return 0, 0
	}
	return w.tuning.Acceleration, w.tuning.Radius
}

// AddEntity registers e. Inserting an identifier twice is a programming error.
func (w *World) AddEntity(e Entity) (Entity, error) {
	var added Entity
	err := w.Update(func(tx *Tx) error {
		inserted, err := tx.Insert(e)
		if err != nil {
			return err
		}
		added = *inserted
		return nil
	})
	return added, err
}

// FindByID returns a copy of the entity registered under id.
func (w *World) FindByID(id ID) (Entity, bool) {
	if w == nil {
		return Entity{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Len returns the number of registered entities.
func (w *World) Len() int {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}

// Entities returns copies of every entity in insertion order.
func (w *World) Entities() []Entity {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Entity, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.entities[id])
	}
	return out
}

// Tick copies the frame intent onto local entities then integrates every
// entity. Remote entities keep replaying their last reconciled intent.
func (w *World) Tick(frame Frame) {
	if w == nil || !(frame.DT > 0) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.order {
		e := w.entities[id]
		//1.- Only locally-owned entities follow this process's input.
		if e.Local {
			e.Intent = frame.Intent
		}
		//2.- Every entity shares the same integrator call.
		e.integrate(frame.DT)
	}
}

// Render hands a sprite per entity to the canvas. Sprites are collected under
// the lock and drawn after it is released.
func (w *World) Render(canvas Canvas) {
	if w == nil || canvas == nil {
		return
	}
	w.mu.RLock()
	sprites := make([]Sprite, 0, len(w.order))
	for _, id := range w.order {
		e := w.entities[id]
		sprites = append(sprites, Sprite{ID: e.ID, Position: e.Position, Radius: e.Radius, Color: e.Color, Local: e.Local})
	}
	w.mu.RUnlock()
	for _, sprite := range sprites {
		canvas.Draw(sprite)
	}
}

// Update runs fn with exclusive access to the registry so that lookups and
// the writes depending on them happen atomically.
func (w *World) Update(fn func(tx *Tx) error) error {
	if w == nil {
		return errors.New("world is nil")
	}
	if fn == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	tx := &Tx{world: w}
	defer func() { tx.world = nil }()
	return fn(tx)
}

// Tx is the locked view handed to Update callbacks. It must not escape the callback.
type Tx struct {
	world *World
}

// Find returns the live entity for id. Writes through the pointer are only
// valid until the enclosing Update returns.
func (tx *Tx) Find(id ID) (*Entity, bool) {
	e, ok := tx.world.entities[id]
	return e, ok
}

// Insert registers e, binding it to the arena and refreshing its color.
func (tx *Tx) Insert(e Entity) (*Entity, error) {
	w := tx.world
	if !e.ID.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, e.ID)
	}
	if _, exists := w.entities[e.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	stored := e
	stored.bounds = &w.bounds
	stored.Color = physics.Color(stored.Velocity)
	w.entities[stored.ID] = &stored
	w.order = append(w.order, stored.ID)
	return &stored, nil
}

// NewRemote builds a remote entity with the registry's default tuning.
func (tx *Tx) NewRemote(id ID, position, velocity geom.Vec2, intent input.Intent) Entity {
	body := tx.world.tuning
	body.Position = position
	body.Velocity = velocity
	body.Intent = intent
	return Entity{ID: id, Body: body}
}

// Bounds returns the arena rectangle.
func (tx *Tx) Bounds() geom.Bounds { return tx.world.bounds }
