// Package certificate renders certificate PDFs from a background image and
// text fields positioned on a design canvas.
package certificate

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/pkg/placeholder"
)

// Fallback tiers reported to the FallbackObserver.
const (
	TierCaption   = "caption"
	TierEmergency = "emergency"
	TierStatic    = "static"
)

//go:embed emergency.pdf
var staticPDF []byte

// FallbackObserver is notified whenever a render degrades to a fallback tier.
type FallbackObserver interface {
	ObserveRenderFallback(tier string)
}

// Config tunes the renderer.
type Config struct {
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Observer     FallbackObserver
}

// Renderer turns certificate templates into PDF bytes. Render never fails.
type Renderer struct {
	client   *resty.Client
	logger   *zap.Logger
	observer FallbackObserver
}

// NewRenderer builds a renderer with its own HTTP client for background downloads.
func NewRenderer(cfg Config) *Renderer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetHeader("Accept", "image/png, image/jpeg")
	return &Renderer{client: client, logger: cfg.Logger, observer: cfg.Observer}
}

// Render produces a PDF for tpl with vars substituted into every text field.
//
// Without a usable background the result is a single centred caption built
// from NOMBRE and APELLIDO. If drawing fails for any other reason the result
// is a fixed emergency caption.
func (r *Renderer) Render(ctx context.Context, tpl *models.CertificateTemplate, vars map[string]string) []byte {
	if tpl != nil && strings.TrimSpace(tpl.BackgroundImageURL) != "" {
		background, err := r.fetchBackground(ctx, tpl.BackgroundImageURL)
		if err == nil {
			out, err := safely(func() ([]byte, error) { return drawTemplate(tpl, background, vars) })
			if err == nil {
				return out
			}
			r.logger.Warn("certificate render failed", zap.String("template_id", tpl.ID), zap.Error(err))
			return r.emergency()
		}
		r.logger.Warn("certificate background unavailable", zap.String("url", tpl.BackgroundImageURL), zap.Error(err))
	}
	return r.caption(vars)
}

func (r *Renderer) caption(vars map[string]string) []byte {
	r.observe(TierCaption)
	text := strings.TrimSpace(fmt.Sprintf("Certificado para %s %s", vars["NOMBRE"], vars["APELLIDO"]))
	out, err := safely(func() ([]byte, error) { return singleLine(text, "B", 24) })
	if err != nil {
		r.logger.Warn("certificate caption render failed", zap.Error(err))
		return r.emergency()
	}
	return out
}

func (r *Renderer) emergency() []byte {
	r.observe(TierEmergency)
	out, err := safely(func() ([]byte, error) { return singleLine("Certificado CDP", "", 16) })
	if err != nil {
		r.observe(TierStatic)
		r.logger.Error("certificate emergency render failed", zap.Error(err))
		return append([]byte(nil), staticPDF...)
	}
	return out
}

func (r *Renderer) observe(tier string) {
	if r.observer != nil {
		r.observer.ObserveRenderFallback(tier)
	}
}

type backgroundImage struct {
	data      []byte
	imageType string
}

func (r *Renderer) fetchBackground(ctx context.Context, url string) (*backgroundImage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := r.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch background: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch background: HTTP %d", resp.StatusCode())
	}
	body := resp.Body()
	switch http.DetectContentType(body) {
	case "image/png":
		return &backgroundImage{data: body, imageType: "PNG"}, nil
	case "image/jpeg":
		return &backgroundImage{data: body, imageType: "JPG"}, nil
	default:
		return nil, errors.New("fetch background: unsupported image type")
	}
}

func drawTemplate(tpl *models.CertificateTemplate, bg *backgroundImage, vars map[string]string) ([]byte, error) {
	pdf := newPage()
	pageW, pageH := pdf.GetPageSize()

	opts := gofpdf.ImageOptions{ImageType: bg.imageType, ReadDpi: false}
	pdf.RegisterImageOptionsReader("background", opts, bytes.NewReader(bg.data))
	pdf.ImageOptions("background", 0, 0, pageW, pageH, false, opts, 0, "")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	canvas := tpl.Canvas.Normalized()
	for _, field := range tpl.Fields {
		if field.Type != "text" {
			continue
		}
		p := Place(field, canvas, pageW, pageH)
		family, style := FontFor(field.FontFamily, field.FontStyle)
		pdf.SetFont(family, style, p.FontSize)
		red, green, blue := ParseHexColor(field.Fill)
		pdf.SetTextColor(int(red*255+0.5), int(green*255+0.5), int(blue*255+0.5))

		text := tr(placeholder.Render(field.Text, vars))
		x := AlignX(p.X, pdf.GetStringWidth(text), field.Align)
		pdf.Text(x, p.Y, text)
	}
	return output(pdf)
}

func singleLine(text, style string, size float64) ([]byte, error) {
	pdf := newPage()
	_, pageH := pdf.GetPageSize()
	pdf.SetFont("Helvetica", style, size)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetY(pageH/2 - size/2)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.CellFormat(0, size, tr(text), "", 0, "C", false, 0, "")
	return output(pdf)
}

func newPage() *gofpdf.Fpdf {
	pdf := gofpdf.New("L", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	return pdf
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, errors.New("empty pdf output")
	}
	return buf.Bytes(), nil
}

// safely converts panics raised inside gofpdf into errors.
func safely(fn func() ([]byte, error)) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
