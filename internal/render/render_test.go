package render

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/world"
)

func newScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	screen.SetSize(w, h)
	t.Cleanup(screen.Fini)
	return screen
}

func runeAt(screen tcell.Screen, x, y int) rune {
	r, _, _, _ := screen.GetContent(x, y)
	return r
}

func TestTerminalScalesArenaIntoCells(t *testing.T) {
	screen := newScreen(t, 64, 21)
	term := NewTerminal(screen, geom.Rect(640, 400))

	cases := []struct {
		pos  geom.Vec2
		x, y int
	}{
		{geom.V(0, 0), 0, 1},
		{geom.V(105, 205), 10, 11},
		{geom.V(640, 400), 63, 20},
		{geom.V(-50, 900), 0, 20},
	}
	for _, tc := range cases {
		x, y := term.Cell(tc.pos)
		if x != tc.x || y != tc.y {
			t.Fatalf("Cell(%v) = (%d,%d) want (%d,%d)", tc.pos, x, y, tc.x, tc.y)
		}
	}
}

func TestTerminalDrawsSpritesAndMarksLocal(t *testing.T) {
	screen := newScreen(t, 64, 21)
	term := NewTerminal(screen, geom.Rect(640, 400))
	term.Begin()
	term.Status("Arena")
	term.Draw(world.Sprite{ID: 1, Position: geom.V(105, 205), Radius: 5, Color: 100, Local: true})
	term.Draw(world.Sprite{ID: 2, Position: geom.V(300, 100), Radius: 20, Color: 200})
	term.Show()

	if got := runeAt(screen, 0, 0); got != 'A' {
		t.Fatalf("status line starts with %q", got)
	}
	if got := runeAt(screen, 10, 11); got != localGlyph {
		t.Fatalf("local glyph = %q", got)
	}
	_, _, style, _ := screen.GetContent(10, 11)
	if _, _, attrs := style.Decompose(); attrs&tcell.AttrReverse == 0 {
		t.Fatalf("local entity should be drawn reversed")
	}
	if got := runeAt(screen, 30, 6); got != remoteGlyph {
		t.Fatalf("remote glyph = %q", got)
	}
	for _, cell := range [][2]int{{28, 6}, {32, 6}, {30, 5}, {30, 7}} {
		if got := runeAt(screen, cell[0], cell[1]); got != fillGlyph {
			t.Fatalf("cell %v = %q, want fill", cell, got)
		}
	}
	if got := runeAt(screen, 29, 5); got == fillGlyph {
		t.Fatalf("corner cell outside the ellipse was filled")
	}
}

func TestTerminalFrameRendersWorld(t *testing.T) {
	screen := newScreen(t, 64, 21)
	w, err := world.New(geom.Rect(640, 400))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	if _, err := w.AddEntity(world.Entity{ID: 9, Local: true}); err != nil {
		t.Fatalf("add entity: %v", err)
	}
	NewTerminal(screen, w.Bounds()).Frame(w, "1 entity")
	if got := runeAt(screen, 0, 1); got != localGlyph {
		t.Fatalf("entity at origin not drawn, got %q", got)
	}
}

func TestShadeGetsWarmerWithSpeed(t *testing.T) {
	slowFg, _, _ := Shade(100).Decompose()
	fastFg, _, _ := Shade(255).Decompose()
	sr, _, sb := slowFg.RGB()
	fr, _, fb := fastFg.RGB()
	if !(fr > sr && fb < sb) {
		t.Fatalf("expected fast shade to be warmer: slow=(%d,%d) fast=(%d,%d)", sr, sb, fr, fb)
	}
}

func key(k tcell.Key, r rune) *tcell.EventKey {
	return tcell.NewEventKey(k, r, tcell.ModNone)
}

func TestKeyMapperLatchesDirections(t *testing.T) {
	m := NewKeyMapper()
	steps := []struct {
		ev   *tcell.EventKey
		want input.Intent
	}{
		{key(tcell.KeyLeft, 0), input.Intent{Left: true}},
		{key(tcell.KeyRune, 'w'), input.Intent{Left: true, Up: true}},
		{key(tcell.KeyRune, 'd'), input.Intent{Right: true, Up: true}},
		{key(tcell.KeyRight, 0), input.Intent{Up: true}},
		{key(tcell.KeyDown, 0), input.Intent{Down: true}},
		{key(tcell.KeyRune, 'a'), input.Intent{Left: true, Down: true}},
		{key(tcell.KeyRune, ' '), input.Intent{}},
	}
	for i, step := range steps {
		if action := m.Handle(step.ev); action != ActionSteer {
			t.Fatalf("step %d: expected steer, got %d", i, action)
		}
		if got := m.Intent(); got != step.want {
			t.Fatalf("step %d: got %v want %v", i, got, step.want)
		}
	}
}

func TestKeyMapperQuitAndIgnore(t *testing.T) {
	m := NewKeyMapper()
	for _, ev := range []*tcell.EventKey{key(tcell.KeyEscape, 0), key(tcell.KeyCtrlC, 0), key(tcell.KeyRune, 'q')} {
		if m.Handle(ev) != ActionQuit {
			t.Fatalf("expected quit for %v", ev.Name())
		}
	}
	if m.Handle(key(tcell.KeyRune, 'x')) != ActionNone {
		t.Fatal("unmapped rune should be ignored")
	}
	if m.Handle(tcell.NewEventResize(10, 10)) != ActionNone {
		t.Fatal("non-key events should be ignored")
	}
	if !m.Intent().IsZero() {
		t.Fatalf("ignored events changed the intent: %v", m.Intent())
	}
}
