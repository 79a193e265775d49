package certificate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/cdp-api/internal/models"
)

func TestPlaceScalesCanvasToPage(t *testing.T) {
	field := models.TemplateField{X: 800, Y: 565.5, FontSize: 40}
	p := Place(field, models.CanvasSpec{}, 841.89, 595.28)

	assert.InDelta(t, 420.945, p.X, 0.01)
	assert.InDelta(t, 297.64, p.Y, 0.01)
	// min(841.89/1600, 595.28/1131) ~= 0.5262
	assert.InDelta(t, 21.05, p.FontSize, 0.01)
}

func TestPlaceDefaultsFontSize(t *testing.T) {
	p := Place(models.TemplateField{}, models.CanvasSpec{Width: 100, Height: 100}, 100, 100)
	assert.Equal(t, 24.0, p.FontSize)
}

func TestFontFor(t *testing.T) {
	cases := []struct {
		family, style string
		name, out     string
	}{
		{"Times New Roman", "", "Times", ""},
		{"Georgia", "bold", "Times", "B"},
		{"serif", "italic", "Times", "I"},
		{"Courier New", "bold italic", "Courier", "BI"},
		{"monospace", "", "Courier", ""},
		{"sans-serif", "", "Helvetica", ""},
		{"Arial", "normal", "Helvetica", ""},
		{"", "", "Helvetica", ""},
	}
	for _, tc := range cases {
		name, style := FontFor(tc.family, tc.style)
		assert.Equal(t, tc.name, name, tc.family)
		assert.Equal(t, tc.out, style, tc.family+"/"+tc.style)
	}
}

func TestParseHexColor(t *testing.T) {
	r, g, b := ParseHexColor("#FF8000")
	assert.InDelta(t, 1.0, r, 0.001)
	assert.InDelta(t, 0.502, g, 0.001)
	assert.InDelta(t, 0.0, b, 0.001)

	r, g, b = ParseHexColor("#fff")
	assert.Equal(t, [3]float64{1, 1, 1}, [3]float64{r, g, b})

	r, g, b = ParseHexColor("not-a-color")
	assert.Equal(t, [3]float64{0, 0, 0}, [3]float64{r, g, b})
}

func TestAlignX(t *testing.T) {
	assert.Equal(t, 100.0, AlignX(100, 40, "left"))
	assert.Equal(t, 80.0, AlignX(100, 40, "center"))
	assert.Equal(t, 60.0, AlignX(100, 40, "right"))
	assert.Equal(t, 100.0, AlignX(100, 40, ""))
}
