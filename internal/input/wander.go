package input

import (
	"math/rand/v2"
	"time"
)

const (
	defaultWanderMinHold = 300 * time.Millisecond
	defaultWanderMaxHold = 2 * time.Second
)

// Wander is a seeded input script used to drive headless nodes.
type Wander struct {
	rng       *rand.Rand
	minHold   time.Duration
	maxHold   time.Duration
	current   Intent
	remaining time.Duration
}

// NewWander constructs a script that holds each random intent for a duration
// drawn from [minHold, maxHold).
func NewWander(seed uint64, minHold, maxHold time.Duration) *Wander {
	if minHold <= 0 {
		minHold = defaultWanderMinHold
	}
	if maxHold <= minHold {
		maxHold = minHold + defaultWanderMaxHold
	}
	return &Wander{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		minHold: minHold,
		maxHold: maxHold,
	}
}

// Next advances the script by dt and returns the intent in effect afterwards.
func (w *Wander) Next(dt time.Duration) Intent {
	if w == nil {
		return Intent{}
	}
	w.remaining -= dt
	if w.remaining > 0 {
		return w.current
	}
	//1.- Pick a fresh direction mix; opposite flags are never held together.
	next := Intent{}
	switch w.rng.IntN(3) {
	case 1:
		next.Left = true
	case 2:
		next.Right = true
	}
	switch w.rng.IntN(3) {
	case 1:
		next.Up = true
	case 2:
		next.Down = true
	}
	w.current = next
	//2.- Schedule the next change somewhere inside the hold window.
	span := int64(w.maxHold - w.minHold)
	w.remaining = w.minHold + time.Duration(w.rng.Int64N(span))
	return w.current
}
