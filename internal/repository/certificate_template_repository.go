package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cdp-api/internal/models"
)

const certificateTemplateColumns = `id, name, description, background_image_url, canvas, fields, active, created_at, updated_at`

// CertificateTemplateRepository persists certificate designs.
type CertificateTemplateRepository struct {
	db *sqlx.DB
}

// NewCertificateTemplateRepository constructs the repository.
func NewCertificateTemplateRepository(db *sqlx.DB) *CertificateTemplateRepository {
	return &CertificateTemplateRepository{db: db}
}

// List returns templates, optionally only active ones.
func (r *CertificateTemplateRepository) List(ctx context.Context, onlyActive bool) ([]models.CertificateTemplate, error) {
	query := `SELECT ` + certificateTemplateColumns + ` FROM certificate_templates`
	if onlyActive {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`
	var templates []models.CertificateTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list certificate templates: %w", err)
	}
	return templates, nil
}

// FindByID returns a template by id.
func (r *CertificateTemplateRepository) FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error) {
	query := `SELECT ` + certificateTemplateColumns + ` FROM certificate_templates WHERE id = $1`
	var tpl models.CertificateTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find certificate template: %w", err)
	}
	return &tpl, nil
}

// Create inserts a template.
func (r *CertificateTemplateRepository) Create(ctx context.Context, tpl *models.CertificateTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	const query = `INSERT INTO certificate_templates (id, name, description, background_image_url, canvas, fields, active, created_at, updated_at)
        VALUES (:id, :name, :description, :background_image_url, :canvas, :fields, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create certificate template: %w", err)
	}
	return nil
}

// Update persists every mutable column.
func (r *CertificateTemplateRepository) Update(ctx context.Context, tpl *models.CertificateTemplate) error {
	tpl.UpdatedAt = time.Now().UTC()
	const query = `UPDATE certificate_templates SET name = :name, description = :description, background_image_url = :background_image_url,
        canvas = :canvas, fields = :fields, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("update certificate template: %w", err)
	}
	return nil
}

// Deactivate soft deletes a template.
func (r *CertificateTemplateRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE certificate_templates SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate certificate template: %w", err)
	}
	return nil
}
