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

const emailTemplateColumns = `id, name, description, subject, html_content, active, created_at, updated_at`

// EmailTemplateRepository persists email templates.
type EmailTemplateRepository struct {
	db *sqlx.DB
}

// NewEmailTemplateRepository constructs the repository.
func NewEmailTemplateRepository(db *sqlx.DB) *EmailTemplateRepository {
	return &EmailTemplateRepository{db: db}
}

// List returns templates, optionally only active ones.
func (r *EmailTemplateRepository) List(ctx context.Context, onlyActive bool) ([]models.EmailTemplate, error) {
	query := `SELECT ` + emailTemplateColumns + ` FROM email_templates`
	if onlyActive {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`
	var templates []models.EmailTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list email templates: %w", err)
	}
	return templates, nil
}

// FindByID returns a template by id.
func (r *EmailTemplateRepository) FindByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	query := `SELECT ` + emailTemplateColumns + ` FROM email_templates WHERE id = $1`
	var tpl models.EmailTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find email template: %w", err)
	}
	return &tpl, nil
}

// Create inserts a template.
func (r *EmailTemplateRepository) Create(ctx context.Context, tpl *models.EmailTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	const query = `INSERT INTO email_templates (id, name, description, subject, html_content, active, created_at, updated_at)
        VALUES (:id, :name, :description, :subject, :html_content, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create email template: %w", err)
	}
	return nil
}

// Update persists every mutable column.
func (r *EmailTemplateRepository) Update(ctx context.Context, tpl *models.EmailTemplate) error {
	tpl.UpdatedAt = time.Now().UTC()
	const query = `UPDATE email_templates SET name = :name, description = :description, subject = :subject,
        html_content = :html_content, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("update email template: %w", err)
	}
	return nil
}

// Deactivate soft deletes a template.
func (r *EmailTemplateRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE email_templates SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate email template: %w", err)
	}
	return nil
}
