// Package visual renders audio-reactive animations into terminal cells.
// The framebuffer doubles the vertical resolution with half-block glyphs,
// so a terminal of rows lines exposes rows*2 pixels.
package visual

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Framebuffer is a grid of colored pixels mapped onto terminal cells.
// Each cell holds two vertically stacked pixels drawn with the upper
// half-block glyph.
type Framebuffer struct {
	cols, rows int
	pixels     []string // hex color per pixel, "" is off
}

// NewFramebuffer creates a framebuffer for a terminal area of cols by
// rows cells.
func NewFramebuffer(cols, rows int) *Framebuffer {
	fb := &Framebuffer{}
	fb.Resize(cols, rows)
	return fb
}

// Resize adapts the framebuffer to a new terminal size and clears it.
func (fb *Framebuffer) Resize(cols, rows int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	fb.cols = cols
	fb.rows = rows
	fb.pixels = make([]string, cols*rows*2)
}

// PixelWidth returns the drawable width in pixels.
func (fb *Framebuffer) PixelWidth() int { return fb.cols }

// PixelHeight returns the drawable height in pixels, twice the cell rows.
func (fb *Framebuffer) PixelHeight() int { return fb.rows * 2 }

// Clear turns every pixel off.
func (fb *Framebuffer) Clear() {
	for i := range fb.pixels {
		fb.pixels[i] = ""
	}
}

// Set colors the pixel at x, y. Out-of-bounds coordinates are dropped so
// mode code can draw without clipping checks.
func (fb *Framebuffer) Set(x, y int, color string) {
	if x < 0 || x >= fb.cols || y < 0 || y >= fb.rows*2 {
		return
	}
	fb.pixels[y*fb.cols+x] = color
}

// Render flattens the pixel grid into styled terminal lines.
func (fb *Framebuffer) Render() string {
	var b strings.Builder
	for r := 0; r < fb.rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		for c := 0; c < fb.cols; c++ {
			top := fb.pixels[(2*r)*fb.cols+c]
			bottom := fb.pixels[(2*r+1)*fb.cols+c]
			switch {
			case top == "" && bottom == "":
				b.WriteByte(' ')
			case bottom == "":
				b.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color(top)).
					Render("▀"))
			case top == "":
				b.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color(bottom)).
					Render("▄"))
			default:
				b.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color(top)).
					Background(lipgloss.Color(bottom)).
					Render("▀"))
			}
		}
	}
	return b.String()
}
