package service

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type fakeCertificateTemplateRepo struct {
	templates map[string]*models.CertificateTemplate
}

func (r *fakeCertificateTemplateRepo) List(ctx context.Context, onlyActive bool) ([]models.CertificateTemplate, error) {
	var out []models.CertificateTemplate
	for _, t := range r.templates {
		if onlyActive && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *fakeCertificateTemplateRepo) FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error) {
	if t, ok := r.templates[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (r *fakeCertificateTemplateRepo) Create(ctx context.Context, tpl *models.CertificateTemplate) error {
	cp := *tpl
	r.templates[tpl.ID] = &cp
	return nil
}

func (r *fakeCertificateTemplateRepo) Update(ctx context.Context, tpl *models.CertificateTemplate) error {
	return r.Create(ctx, tpl)
}

func (r *fakeCertificateTemplateRepo) Deactivate(ctx context.Context, id string) error {
	r.templates[id].Active = false
	return nil
}

type fakeFileStore struct {
	files map[string][]byte
}

func (f *fakeFileStore) Save(filename string, data []byte) (string, error) {
	f.files[filename] = data
	return filename, nil
}

func (f *fakeFileStore) URL(filename string) string {
	return "http://cdn.test/uploads/" + filename
}

type fakeRenderer struct {
	lastTemplate *models.CertificateTemplate
	lastVars     map[string]string
}

func (r *fakeRenderer) Render(ctx context.Context, tpl *models.CertificateTemplate, vars map[string]string) []byte {
	r.lastTemplate = tpl
	r.lastVars = vars
	return []byte("%PDF-1.4 fake")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestCertificateTemplateServiceCRUD(t *testing.T) {
	repo := &fakeCertificateTemplateRepo{templates: map[string]*models.CertificateTemplate{}}
	svc := NewCertificateTemplateService(repo, nil, nil, nil, nil, 0)

	tpl, err := svc.Create(context.Background(), models.CertificateTemplateRequest{
		Name:   "Diploma",
		Fields: models.TemplateFields{{Type: "text", Text: "{NOMBRE}", X: 100, Y: 200}},
	})
	require.NoError(t, err)
	assert.True(t, tpl.Active)
	assert.Equal(t, float64(models.DefaultCanvasWidth), tpl.Canvas.Width)
	assert.Equal(t, float64(models.DefaultCanvasHeight), tpl.Canvas.Height)

	inactive := false
	updated, err := svc.Update(context.Background(), tpl.ID, models.CertificateTemplateRequest{
		Name:   "Diploma 2026",
		Canvas: models.CanvasSpec{Width: 800, Height: 600},
		Active: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "Diploma 2026", updated.Name)
	assert.Equal(t, 800.0, updated.Canvas.Width)
	assert.NotNil(t, updated.Fields)
	assert.False(t, updated.Active)

	active, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.NotNil(t, active)

	_, err = svc.Create(context.Background(), models.CertificateTemplateRequest{Name: "x", BackgroundImageURL: "not a url"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	require.NoError(t, svc.Delete(context.Background(), tpl.ID))
}

func TestCertificateTemplateServiceUploadBackground(t *testing.T) {
	files := &fakeFileStore{files: map[string][]byte{}}
	svc := NewCertificateTemplateService(nil, files, nil, nil, nil, 1024)

	url, err := svc.UploadBackground(context.Background(), pngBytes(t))
	require.NoError(t, err)
	assert.Regexp(t, `^http://cdn\.test/uploads/backgrounds/[0-9a-f-]{36}\.png$`, url)
	assert.Len(t, files.files, 1)

	_, err = svc.UploadBackground(context.Background(), []byte("GIF89a not allowed"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.UploadBackground(context.Background(), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.UploadBackground(context.Background(), make([]byte, 2048))
	assert.ErrorIs(t, err, appErrors.ErrPayloadTooLarge)
}

func TestCertificateTemplateServicePreview(t *testing.T) {
	repo := &fakeCertificateTemplateRepo{templates: map[string]*models.CertificateTemplate{
		"t1": {ID: "t1", Name: "Diploma"},
	}}
	renderer := &fakeRenderer{}
	svc := NewCertificateTemplateService(repo, nil, renderer, nil, nil, 0)

	pdf, err := svc.Preview(context.Background(), "t1", map[string]string{"NOMBRE": "Ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, pdf)
	assert.Equal(t, "t1", renderer.lastTemplate.ID)
	assert.Equal(t, "Ana", renderer.lastVars["NOMBRE"])

	_, err = svc.Preview(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

type fakeEmailTemplateRepo struct {
	templates map[string]*models.EmailTemplate
}

func newFakeEmailTemplateRepo(templates ...*models.EmailTemplate) *fakeEmailTemplateRepo {
	r := &fakeEmailTemplateRepo{templates: map[string]*models.EmailTemplate{}}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *fakeEmailTemplateRepo) List(ctx context.Context, onlyActive bool) ([]models.EmailTemplate, error) {
	var out []models.EmailTemplate
	for _, t := range r.templates {
		if onlyActive && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *fakeEmailTemplateRepo) FindByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	if t, ok := r.templates[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (r *fakeEmailTemplateRepo) Create(ctx context.Context, tpl *models.EmailTemplate) error {
	cp := *tpl
	r.templates[tpl.ID] = &cp
	return nil
}

func (r *fakeEmailTemplateRepo) Update(ctx context.Context, tpl *models.EmailTemplate) error {
	return r.Create(ctx, tpl)
}

func (r *fakeEmailTemplateRepo) Deactivate(ctx context.Context, id string) error {
	r.templates[id].Active = false
	return nil
}

func TestEmailTemplateServiceDerivesVariables(t *testing.T) {
	repo := newFakeEmailTemplateRepo()
	svc := NewEmailTemplateService(repo, nil, nil)

	tpl, err := svc.Create(context.Background(), models.EmailTemplateRequest{
		Name:        "Bienvenida",
		Subject:     "Hola {NOMBRE}",
		HTMLContent: "<p>{NOMBRE} {APELLIDO}, curso {CURSO}</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"APELLIDO", "CURSO", "NOMBRE"}, tpl.Variables)

	updated, err := svc.Update(context.Background(), tpl.ID, models.EmailTemplateRequest{
		Name:        "Bienvenida",
		Subject:     "Certificado",
		HTMLContent: "<p>{EMAIL}</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"EMAIL"}, updated.Variables)

	list, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"EMAIL"}, list[0].Variables)

	_, err = svc.Create(context.Background(), models.EmailTemplateRequest{Name: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	require.NoError(t, svc.Delete(context.Background(), tpl.ID))
	assert.False(t, repo.templates[tpl.ID].Active)
}

func TestEmailTemplateServicePreview(t *testing.T) {
	svc := NewEmailTemplateService(newFakeEmailTemplateRepo(), nil, nil)

	preview, err := svc.Preview(models.TemplatePreviewRequest{
		Subject:     "Hola {NOMBRE}",
		HTMLContent: "<p>{nombre} {NOMBRE} {APELLIDO}</p>",
		Variables:   map[string]string{"nombre": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola Ana", preview.Subject)
	assert.Equal(t, "<p>{nombre} Ana {APELLIDO}</p>", preview.HTMLContent)
	assert.Equal(t, []string{"APELLIDO", "NOMBRE"}, preview.Variables)
	assert.Equal(t, []string{"APELLIDO"}, preview.Unresolved)
}
