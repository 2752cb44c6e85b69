// Package render draws the arena on a terminal and turns key presses into intents.
package render

import (
	"math"

	"github.com/gdamore/tcell/v2"

	"arenasync/internal/geom"
	"arenasync/internal/world"
)

const (
	localGlyph  = '@'
	remoteGlyph = 'o'
	fillGlyph   = '█'
)

var (
	borderStyle = tcell.StyleDefault.Foreground(tcell.NewRGBColor(90, 90, 110))
	statusStyle = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
)

// Terminal is a world.Canvas backed by a tcell screen. The top row holds the
// status line; the arena is scaled into the cells beneath it.
type Terminal struct {
	screen tcell.Screen
	bounds geom.Bounds
	cols   int
	rows   int
}

// NewTerminal binds an initialised screen to the arena rectangle.
func NewTerminal(screen tcell.Screen, bounds geom.Bounds) *Terminal {
	t := &Terminal{screen: screen, bounds: bounds}
	t.resize()
	return t
}

func (t *Terminal) resize() {
	w, h := t.screen.Size()
	t.cols, t.rows = w, h-1
	if t.rows < 0 {
		t.rows = 0
	}
}

// Begin clears the screen for a new frame and picks up size changes.
func (t *Terminal) Begin() {
	t.screen.Clear()
	t.resize()
}

// Cell maps an arena position to the screen cell holding it.
func (t *Terminal) Cell(p geom.Vec2) (x, y int) {
	if t.cols <= 0 || t.rows <= 0 {
		return 0, 1
	}
	fx := (p.X - t.bounds.Left) / t.bounds.Width()
	fy := (p.Y - t.bounds.Top) / t.bounds.Height()
	x = clampCell(int(math.Floor(fx*float64(t.cols))), t.cols)
	y = clampCell(int(math.Floor(fy*float64(t.rows))), t.rows)
	return x, y + 1
}

func clampCell(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Draw paints one sprite as a filled ellipse of cells with its glyph in the middle.
func (t *Terminal) Draw(sprite world.Sprite) {
	if t.cols <= 0 || t.rows <= 0 {
		return
	}
	style := Shade(sprite.Color)
	cx, cy := t.Cell(sprite.Position)
	//1.- Cell radii follow the arena scale on each axis.
	rx := sprite.Radius / t.bounds.Width() * float64(t.cols)
	ry := sprite.Radius / t.bounds.Height() * float64(t.rows)
	if rx >= 1 && ry >= 1 {
		for dy := -int(ry); dy <= int(ry); dy++ {
			for dx := -int(rx); dx <= int(rx); dx++ {
				nx, ny := float64(dx)/rx, float64(dy)/ry
				if nx*nx+ny*ny > 1 {
					continue
				}
				x, y := cx+dx, cy+dy
				if x < 0 || x >= t.cols || y < 1 || y > t.rows {
					continue
				}
				t.screen.SetContent(x, y, fillGlyph, nil, style)
			}
		}
	}
	//2.- The centre glyph tells the local entity apart.
	glyph := remoteGlyph
	if sprite.Local {
		glyph = localGlyph
		style = style.Reverse(true)
	}
	t.screen.SetContent(cx, cy, glyph, nil, style)
}

// Status writes text on the top row.
func (t *Terminal) Status(text string) {
	x := 0
	for _, r := range text {
		if x >= t.cols {
			break
		}
		t.screen.SetContent(x, 0, r, nil, statusStyle)
		x++
	}
	for ; x < t.cols; x++ {
		t.screen.SetContent(x, 0, ' ', nil, borderStyle.Reverse(true))
	}
}

// Show flushes the frame to the terminal.
func (t *Terminal) Show() { t.screen.Show() }

// Frame renders the world with a status line in one call.
func (t *Terminal) Frame(w *world.World, status string) {
	t.Begin()
	t.Status(status)
	w.Render(t)
	t.Show()
}

// Shade maps an entity color (100 at rest up to 255 when fast) onto a cool to hot gradient.
func Shade(color uint8) tcell.Style {
	c := int32(color)
	return tcell.StyleDefault.Foreground(tcell.NewRGBColor(c, 255-c/2, 255-c))
}
