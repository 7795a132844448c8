package visual

import "fmt"

// Palette is a two-stop vertical gradient, top color fading into the
// bottom color across the pixel height.
type Palette struct {
	Top    string
	Bottom string
}

// DefaultPalette is the synthwave pink-to-purple gradient.
var DefaultPalette = Palette{Top: "#ff386f", Bottom: "#7d3cff"}

// At interpolates the gradient at vertical position y of height pixels.
func (p Palette) At(y, height int) string {
	if height <= 1 {
		return p.Top
	}
	r1, g1, b1 := parseHexColor(p.Top)
	r2, g2, b2 := parseHexColor(p.Bottom)

	t := float64(y) / float64(height-1)
	r := int(float64(r1)*(1-t) + float64(r2)*t)
	g := int(float64(g1)*(1-t) + float64(g2)*t)
	b := int(float64(b1)*(1-t) + float64(b2)*t)

	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// dimColor scales a hex color toward black by factor f in [0,1].
func dimColor(hex string, f float64) string {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	r, g, b := parseHexColor(hex)
	return fmt.Sprintf("#%02x%02x%02x", int(float64(r)*f), int(float64(g)*f), int(float64(b)*f))
}

func parseHexColor(hex string) (int, int, int) {
	var r, g, b int
	if len(hex) == 7 && hex[0] == '#' {
		fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return r, g, b
}
