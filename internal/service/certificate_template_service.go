package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type certificateTemplateRepository interface {
	List(ctx context.Context, onlyActive bool) ([]models.CertificateTemplate, error)
	FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error)
	Create(ctx context.Context, tpl *models.CertificateTemplate) error
	Update(ctx context.Context, tpl *models.CertificateTemplate) error
	Deactivate(ctx context.Context, id string) error
}

type fileStore interface {
	Save(filename string, data []byte) (string, error)
	URL(filename string) string
}

type certificateRenderer interface {
	Render(ctx context.Context, tpl *models.CertificateTemplate, vars map[string]string) []byte
}

var backgroundExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// CertificateTemplateService manages certificate designs and their backgrounds.
type CertificateTemplateService struct {
	repo          certificateTemplateRepository
	files         fileStore
	renderer      certificateRenderer
	validator     *validator.Validate
	logger        *zap.Logger
	maxUploadSize int64
}

// NewCertificateTemplateService constructs the service. maxUploadSize of zero
// means 5 MiB.
func NewCertificateTemplateService(repo certificateTemplateRepository, files fileStore, renderer certificateRenderer, validate *validator.Validate, logger *zap.Logger, maxUploadSize int64) *CertificateTemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if maxUploadSize <= 0 {
		maxUploadSize = 5 << 20
	}
	return &CertificateTemplateService{repo: repo, files: files, renderer: renderer, validator: validate, logger: logger, maxUploadSize: maxUploadSize}
}

// List returns templates, optionally only active ones.
func (s *CertificateTemplateService) List(ctx context.Context, onlyActive bool) ([]models.CertificateTemplate, error) {
	templates, err := s.repo.List(ctx, onlyActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificate templates")
	}
	if templates == nil {
		templates = []models.CertificateTemplate{}
	}
	return templates, nil
}

// Get returns a template by id.
func (s *CertificateTemplateService) Get(ctx context.Context, id string) (*models.CertificateTemplate, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate template")
	}
	return tpl, nil
}

// Create stores a new template. The canvas falls back to the editor defaults.
func (s *CertificateTemplateService) Create(ctx context.Context, req models.CertificateTemplateRequest) (*models.CertificateTemplate, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	tpl := &models.CertificateTemplate{ID: uuid.NewString(), Active: true}
	applyCertificateTemplate(tpl, req)
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create certificate template")
	}
	return tpl, nil
}

// Update replaces the design of an existing template.
func (s *CertificateTemplateService) Update(ctx context.Context, id string, req models.CertificateTemplateRequest) (*models.CertificateTemplate, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyCertificateTemplate(tpl, req)
	if err := s.repo.Update(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update certificate template")
	}
	return tpl, nil
}

// Delete deactivates a template.
func (s *CertificateTemplateService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete certificate template")
	}
	return nil
}

// UploadBackground stores a PNG or JPEG and returns its public URL. The type
// is sniffed from the content, not taken from the client.
func (s *CertificateTemplateService) UploadBackground(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if int64(len(data)) > s.maxUploadSize {
		return "", appErrors.Clone(appErrors.ErrPayloadTooLarge, "background image is too large")
	}
	ext, ok := backgroundExtensions[http.DetectContentType(data)]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "background must be a PNG or JPEG image")
	}

	name, err := s.files.Save("backgrounds/"+uuid.NewString()+ext, data)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store background image")
	}
	url := s.files.URL(name)
	s.logger.Info("certificate background uploaded", zap.String("file", name), zap.Int("bytes", len(data)))
	return url, nil
}

// Preview renders the stored template with the supplied variables.
func (s *CertificateTemplateService) Preview(ctx context.Context, id string, vars map[string]string) ([]byte, error) {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(ctx, tpl, vars), nil
}

func (s *CertificateTemplateService) validate(req models.CertificateTemplateRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid certificate template payload")
	}
	if req.Canvas.Width < 0 || req.Canvas.Height < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "canvas dimensions must be positive")
	}
	return nil
}

func applyCertificateTemplate(tpl *models.CertificateTemplate, req models.CertificateTemplateRequest) {
	tpl.Name = strings.TrimSpace(req.Name)
	tpl.Description = req.Description
	tpl.BackgroundImageURL = req.BackgroundImageURL
	tpl.Canvas = req.Canvas.Normalized()
	tpl.Fields = req.Fields
	if tpl.Fields == nil {
		tpl.Fields = models.TemplateFields{}
	}
	if req.Active != nil {
		tpl.Active = *req.Active
	}
}
