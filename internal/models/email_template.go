package models

import "time"

// EmailTemplate holds a subject and HTML body with {VARIABLE} placeholders.
// Variables is derived from the content on every read and never stored.
type EmailTemplate struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Subject     string    `db:"subject" json:"subject"`
	HTMLContent string    `db:"html_content" json:"html_content"`
	Variables   []string  `db:"-" json:"variables"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// EmailTemplateRequest is used for create and full update.
type EmailTemplateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
	Subject     string `json:"subject" validate:"required,max=300"`
	HTMLContent string `json:"html_content" validate:"required"`
	Active      *bool  `json:"active,omitempty"`
}

// TemplatePreviewRequest renders subject and body with sample values.
type TemplatePreviewRequest struct {
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content" validate:"required"`
	Variables   map[string]string `json:"variables"`
}

// TemplatePreview is the rendered result plus what is still unresolved.
type TemplatePreview struct {
	Subject     string   `json:"subject"`
	HTMLContent string   `json:"html_content"`
	Variables   []string `json:"variables"`
	Unresolved  []string `json:"unresolved"`
}
