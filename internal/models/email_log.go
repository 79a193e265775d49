package models

import (
	"encoding/json"
	"time"
)

// EmailStatus is the delivery state of a single send attempt.
type EmailStatus string

const (
	EmailStatusPending   EmailStatus = "PENDING"
	EmailStatusSent      EmailStatus = "SENT"
	EmailStatusError     EmailStatus = "ERROR"
	EmailStatusDelivered EmailStatus = "DELIVERED"
)

// EmailLog is one row per send attempt.
type EmailLog struct {
	ID                    string          `db:"id" json:"id"`
	RecipientEmail        string          `db:"recipient_email" json:"recipient_email"`
	RecipientName         string          `db:"recipient_name" json:"recipient_name"`
	Subject               string          `db:"subject" json:"subject"`
	EmailTemplateID       *string         `db:"email_template_id" json:"email_template_id,omitempty"`
	CertificateTemplateID *string         `db:"certificate_template_id" json:"certificate_template_id,omitempty"`
	Status                EmailStatus     `db:"status" json:"status"`
	ErrorMessage          *string         `db:"error_message" json:"error_message,omitempty"`
	SentAt                time.Time       `db:"sent_at" json:"sent_at"`
	DeliveredAt           *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	Metadata              json.RawMessage `db:"metadata" json:"metadata,omitempty"`
}

// EmailLogMetadata is serialised into EmailLog.Metadata.
type EmailLogMetadata struct {
	VariablesUsed []string `json:"variables_used"`
	HasAttachment bool     `json:"has_attachment"`
	SentAt        string   `json:"sent_at"`
}

// EmailLogFilter provides filters for listing logs.
type EmailLogFilter struct {
	Status          EmailStatus
	Search          string
	EmailTemplateID string
	From            *time.Time
	To              *time.Time
	Page            int
	PageSize        int
}

// EmailStats summarises the log table.
type EmailStats struct {
	TotalSent      int     `db:"total_sent" json:"total_sent"`
	TotalDelivered int     `db:"total_delivered" json:"total_delivered"`
	TotalErrors    int     `db:"total_errors" json:"total_errors"`
	TotalPending   int     `db:"total_pending" json:"total_pending"`
	SentToday      int     `db:"sent_today" json:"sent_today"`
	SuccessRate    float64 `db:"-" json:"success_rate"`
}
