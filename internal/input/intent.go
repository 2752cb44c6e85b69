package input

import "strings"

// Intent is the normalised directional pressure for a single entity.
type Intent struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
	Up    bool `json:"up"`
	Down  bool `json:"down"`
}

const (
	bitLeft uint8 = 1 << iota
	bitRight
	bitUp
	bitDown

	// BitsMask covers every flag carried by Bits.
	BitsMask = bitLeft | bitRight | bitUp | bitDown
)

// Axis returns the signed force direction (right-left, down-up).
func (i Intent) Axis() (x, y float64) {
	return flag(i.Right) - flag(i.Left), flag(i.Down) - flag(i.Up)
}

// IsZero reports whether no direction is held.
func (i Intent) IsZero() bool { return i == Intent{} }

// Bits packs the four flags into the low nibble of a byte.
func (i Intent) Bits() uint8 {
	var out uint8
	if i.Left {
		out |= bitLeft
	}
	if i.Right {
		out |= bitRight
	}
	if i.Up {
		out |= bitUp
	}
	if i.Down {
		out |= bitDown
	}
	return out
}

// FromBits unpacks flags produced by Bits. Bits above the low nibble are ignored.
func FromBits(bits uint8) Intent {
	return Intent{
		Left:  bits&bitLeft != 0,
		Right: bits&bitRight != 0,
		Up:    bits&bitUp != 0,
		Down:  bits&bitDown != 0,
	}
}

func (i Intent) String() string {
	var b strings.Builder
	b.WriteByte(letter(i.Left, 'L'))
	b.WriteByte(letter(i.Right, 'R'))
	b.WriteByte(letter(i.Up, 'U'))
	b.WriteByte(letter(i.Down, 'D'))
	return b.String()
}

func flag(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func letter(v bool, c byte) byte {
	if v {
		return c
	}
	return '-'
}

// EdgeDetector reports transitions of a sampled intent stream.
type EdgeDetector struct {
	last   Intent
	primed bool
}

// NewEdgeDetector seeds the detector with the intent already in effect.
func NewEdgeDetector(initial Intent) *EdgeDetector {
	return &EdgeDetector{last: initial, primed: true}
}

// Observe records the sample and reports whether it differs from the previous one.
// The first sample of an unseeded detector always counts as a transition.
func (d *EdgeDetector) Observe(sample Intent) bool {
	if d == nil {
		return false
	}
	if d.primed && sample == d.last {
		return false
	}
	d.last = sample
	d.primed = true
	return true
}

// Rearm rolls the detector back to previous, so a sample that differs from it
// is reported again. Callers use it when a transition could not be delivered.
func (d *EdgeDetector) Rearm(previous Intent) {
	if d == nil {
		return
	}
	d.last = previous
	d.primed = true
}

// Last returns the most recently observed intent.
func (d *EdgeDetector) Last() Intent {
	if d == nil {
		return Intent{}
	}
	return d.last
}
