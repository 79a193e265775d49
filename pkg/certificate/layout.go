package certificate

import (
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/cdp-api/internal/models"
)

// Placement is a field position in page points. gofpdf measures y from the
// top edge, the same as the design canvas, so Y is the scaled canvas y
// used as the text baseline.
type Placement struct {
	X        float64
	Y        float64
	FontSize float64
}

// Place scales a canvas field onto a page of pageW x pageH points.
func Place(field models.TemplateField, canvas models.CanvasSpec, pageW, pageH float64) Placement {
	canvas = canvas.Normalized()
	sx := pageW / canvas.Width
	sy := pageH / canvas.Height
	size := field.FontSize
	if size <= 0 {
		size = 24
	}
	return Placement{
		X:        field.X * sx,
		Y:        field.Y * sy,
		FontSize: size * math.Min(sx, sy),
	}
}

// FontFor maps an editor font family and style onto a PDF core font.
func FontFor(family, style string) (string, string) {
	f := strings.ToLower(family)
	name := "Helvetica"
	switch {
	case strings.Contains(f, "courier"), strings.Contains(f, "mono"):
		name = "Courier"
	case strings.Contains(f, "times"), strings.Contains(f, "georgia"),
		strings.Contains(f, "serif") && !strings.Contains(f, "sans"):
		name = "Times"
	}

	s := strings.ToLower(style)
	var out string
	if strings.Contains(s, "bold") {
		out += "B"
	}
	if strings.Contains(s, "italic") {
		out += "I"
	}
	return name, out
}

// ParseHexColor converts #RRGGBB (or #RGB) to RGB components in [0,1].
// Anything unparseable is black.
func ParseHexColor(hex string) (float64, float64, float64) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return float64(v>>16&0xFF) / 255, float64(v>>8&0xFF) / 255, float64(v&0xFF) / 255
}

// AlignX returns the left edge for text of the given width anchored at x.
func AlignX(x, width float64, align string) float64 {
	switch strings.ToLower(align) {
	case "center":
		return x - width/2
	case "right":
		return x - width
	default:
		return x
	}
}
