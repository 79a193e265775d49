package certificate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/models"
)

type fallbackRecorder struct {
	tiers []string
}

func (r *fallbackRecorder) ObserveRenderFallback(tier string) {
	r.tiers = append(r.tiers, tier)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for x := 0; x < 16; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: 240, G: 230, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sampleTemplate(url string) *models.CertificateTemplate {
	return &models.CertificateTemplate{
		ID:                 "tpl-1",
		Name:               "Default",
		BackgroundImageURL: url,
		Fields: models.TemplateFields{
			{Type: "text", X: 800, Y: 500, Text: "{NOMBRE} {APELLIDO}", FontSize: 48, FontFamily: "Georgia", FontStyle: "bold", Fill: "#1a2b3c", Align: "center"},
			{Type: "text", X: 800, Y: 650, Text: "Curso: {CURSO}", FontSize: 28, FontFamily: "Arial", Align: "center"},
			{Type: "image", X: 10, Y: 10},
		},
	}
}

func TestRenderWithBackground(t *testing.T) {
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	rec := &fallbackRecorder{}
	r := NewRenderer(Config{Observer: rec})
	out := r.Render(context.Background(), sampleTemplate(srv.URL+"/bg.png"), map[string]string{
		"NOMBRE": "María", "APELLIDO": "Núñez", "CURSO": "Liderazgo",
	})

	require.NotEmpty(t, out)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Empty(t, rec.tiers)
}

func TestRenderFallsBackWhenBackgroundMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &fallbackRecorder{}
	r := NewRenderer(Config{Observer: rec})
	out := r.Render(context.Background(), sampleTemplate(srv.URL+"/missing.png"), map[string]string{
		"NOMBRE": "Ana", "APELLIDO": "Ruiz",
	})

	require.NotEmpty(t, out)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Equal(t, []string{TierCaption}, rec.tiers)
}

func TestRenderRejectsNonImageBackground(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	rec := &fallbackRecorder{}
	out := NewRenderer(Config{Observer: rec}).Render(context.Background(), sampleTemplate(srv.URL), map[string]string{"NOMBRE": "Ana"})

	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Equal(t, []string{TierCaption}, rec.tiers)
}

func TestRenderWithoutTemplate(t *testing.T) {
	out := NewRenderer(Config{}).Render(context.Background(), nil, nil)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestStaticPDFIsEmbedded(t *testing.T) {
	require.True(t, bytes.HasPrefix(staticPDF, []byte("%PDF-1.4")))
	assert.Contains(t, string(staticPDF), "Certificado CDP")
	assert.Contains(t, string(staticPDF), "%%EOF")
}

func TestSafelyRecoversPanics(t *testing.T) {
	out, err := safely(func() ([]byte, error) { panic("boom") })
	assert.Nil(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
