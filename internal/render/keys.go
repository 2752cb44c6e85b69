package render

import (
	"sync"

	"github.com/gdamore/tcell/v2"

	"arenasync/internal/input"
)

// Action is what a key event asks the node to do besides steering.
type Action int

const (
	ActionNone Action = iota
	ActionSteer
	ActionQuit
)

type direction int

const (
	dirLeft direction = iota
	dirRight
	dirUp
	dirDown
)

// KeyMapper latches directional keys into an intent. Terminals deliver no
// key-up events, so a direction stays held until pressed again, overridden
// by its opposite, or released with space.
type KeyMapper struct {
	mu     sync.Mutex
	intent input.Intent
}

// NewKeyMapper starts with no direction held.
func NewKeyMapper() *KeyMapper { return &KeyMapper{} }

// Intent returns the latched intent.
func (m *KeyMapper) Intent() input.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent
}

// Handle applies one terminal event.
func (m *KeyMapper) Handle(ev tcell.Event) Action {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return ActionNone
	}
	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return ActionQuit
	case tcell.KeyLeft:
		return m.toggle(dirLeft)
	case tcell.KeyRight:
		return m.toggle(dirRight)
	case tcell.KeyUp:
		return m.toggle(dirUp)
	case tcell.KeyDown:
		return m.toggle(dirDown)
	case tcell.KeyRune:
	default:
		return ActionNone
	}
	switch key.Rune() {
	case 'a', 'A', 'h':
		return m.toggle(dirLeft)
	case 'd', 'D', 'l':
		return m.toggle(dirRight)
	case 'w', 'W', 'k':
		return m.toggle(dirUp)
	case 's', 'S', 'j':
		return m.toggle(dirDown)
	case ' ':
		m.mu.Lock()
		m.intent = input.Intent{}
		m.mu.Unlock()
		return ActionSteer
	case 'q', 'Q':
		return ActionQuit
	}
	return ActionNone
}

func (m *KeyMapper) toggle(dir direction) Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	//1.- Pressing a held direction releases it; pressing it fresh clears its opposite.
	switch dir {
	case dirLeft:
		m.intent.Left = !m.intent.Left
		if m.intent.Left {
			m.intent.Right = false
		}
	case dirRight:
		m.intent.Right = !m.intent.Right
		if m.intent.Right {
			m.intent.Left = false
		}
	case dirUp:
		m.intent.Up = !m.intent.Up
		if m.intent.Up {
			m.intent.Down = false
		}
	case dirDown:
		m.intent.Down = !m.intent.Down
		if m.intent.Down {
			m.intent.Up = false
		}
	}
	return ActionSteer
}
