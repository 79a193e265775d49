package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/placeholder"
)

type emailTemplateRepository interface {
	List(ctx context.Context, onlyActive bool) ([]models.EmailTemplate, error)
	FindByID(ctx context.Context, id string) (*models.EmailTemplate, error)
	Create(ctx context.Context, tpl *models.EmailTemplate) error
	Update(ctx context.Context, tpl *models.EmailTemplate) error
	Deactivate(ctx context.Context, id string) error
}

// EmailTemplateService manages email templates. Variables are always derived
// from the subject and body.
type EmailTemplateService struct {
	repo      emailTemplateRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEmailTemplateService constructs the service.
func NewEmailTemplateService(repo emailTemplateRepository, validate *validator.Validate, logger *zap.Logger) *EmailTemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EmailTemplateService{repo: repo, validator: validate, logger: logger}
}

// List returns templates with their variables.
func (s *EmailTemplateService) List(ctx context.Context, onlyActive bool) ([]models.EmailTemplate, error) {
	templates, err := s.repo.List(ctx, onlyActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list email templates")
	}
	if templates == nil {
		templates = []models.EmailTemplate{}
	}
	for i := range templates {
		withVariables(&templates[i])
	}
	return templates, nil
}

// Get returns a template by id.
func (s *EmailTemplateService) Get(ctx context.Context, id string) (*models.EmailTemplate, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "email template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load email template")
	}
	withVariables(tpl)
	return tpl, nil
}

// Create stores a new template.
func (s *EmailTemplateService) Create(ctx context.Context, req models.EmailTemplateRequest) (*models.EmailTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid email template payload")
	}
	tpl := &models.EmailTemplate{ID: uuid.NewString(), Active: true}
	applyEmailTemplate(tpl, req)
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create email template")
	}
	withVariables(tpl)
	return tpl, nil
}

// Update replaces subject, body and metadata.
func (s *EmailTemplateService) Update(ctx context.Context, id string, req models.EmailTemplateRequest) (*models.EmailTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid email template payload")
	}
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyEmailTemplate(tpl, req)
	if err := s.repo.Update(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update email template")
	}
	withVariables(tpl)
	return tpl, nil
}

// Delete deactivates a template.
func (s *EmailTemplateService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete email template")
	}
	return nil
}

// Preview renders subject and body with the supplied variables.
func (s *EmailTemplateService) Preview(req models.TemplatePreviewRequest) (*models.TemplatePreview, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preview payload")
	}
	subject := placeholder.Render(req.Subject, req.Variables)
	body := placeholder.Render(req.HTMLContent, req.Variables)
	return &models.TemplatePreview{
		Subject:     subject,
		HTMLContent: body,
		Variables:   placeholder.Extract(req.Subject + "\n" + req.HTMLContent),
		Unresolved:  placeholder.Unresolved(subject + "\n" + body),
	}, nil
}

func applyEmailTemplate(tpl *models.EmailTemplate, req models.EmailTemplateRequest) {
	tpl.Name = strings.TrimSpace(req.Name)
	tpl.Description = req.Description
	tpl.Subject = req.Subject
	tpl.HTMLContent = req.HTMLContent
	if req.Active != nil {
		tpl.Active = *req.Active
	}
}

func withVariables(tpl *models.EmailTemplate) {
	tpl.Variables = placeholder.Extract(tpl.Subject + "\n" + tpl.HTMLContent)
}
