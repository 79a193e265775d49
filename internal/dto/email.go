package dto

import "time"

// SendEmailRequest sends a single message. When EmailTemplateID is set the
// subject and body come from the template; otherwise both must be supplied.
type SendEmailRequest struct {
	RecipientEmail        string            `json:"recipient_email" validate:"required,email"`
	RecipientName         string            `json:"recipient_name" validate:"max=200"`
	Subject               string            `json:"subject" validate:"max=300"`
	HTMLContent           string            `json:"html_content"`
	EmailTemplateID       *string           `json:"email_template_id,omitempty"`
	CertificateTemplateID *string           `json:"certificate_template_id,omitempty"`
	Variables             map[string]string `json:"variables"`
}

// BatchOptions overrides the configured batch pacing for one run.
type BatchOptions struct {
	BatchSize         *int     `json:"batch_size,omitempty" validate:"omitempty,min=1,max=50"`
	BatchPauseSeconds *float64 `json:"batch_pause_seconds,omitempty" validate:"omitempty,min=0,max=300"`
	ItemPauseSeconds  *float64 `json:"item_pause_seconds,omitempty" validate:"omitempty,min=0,max=10"`
}

// BatchEmailRequest sends one template to users picked by id, by course, or both.
type BatchEmailRequest struct {
	EmailTemplateID       string            `json:"email_template_id" validate:"required"`
	RecipientIDs          []string          `json:"recipient_ids" validate:"omitempty,dive,required"`
	CourseID              string            `json:"course_id"`
	GlobalVariables       map[string]string `json:"global_variables"`
	CertificateTemplateID *string           `json:"certificate_template_id,omitempty"`
	Options               *BatchOptions     `json:"options,omitempty" validate:"omitempty"`
}

// BatchSummary is the outcome of one batch send.
type BatchSummary struct {
	TotalRecipients int      `json:"total_destinatarios"`
	SentCount       int      `json:"enviados_exitosos"`
	ErrorCount      int      `json:"errores"`
	LogIDs          []string `json:"log_ids"`
	ErrorDetails    []string `json:"errores_detalle"`
	ElapsedSeconds  float64  `json:"tiempo_total"`
}

// BatchJobStatus values.
const (
	BatchJobQueued    = "QUEUED"
	BatchJobRunning   = "RUNNING"
	BatchJobCompleted = "COMPLETED"
	BatchJobFailed    = "FAILED"
)

// BatchJobStatus tracks an asynchronous batch.
type BatchJobStatus struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Summary   *BatchSummary `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BatchJobResponse is returned with 202 when a batch is queued.
type BatchJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// EmailConfigResponse exposes the batch defaults and their bounds.
type EmailConfigResponse struct {
	Provider          string  `json:"provider"`
	Sender            string  `json:"sender"`
	Configured        bool    `json:"configured"`
	BatchSize         int     `json:"batch_size"`
	BatchPauseSeconds float64 `json:"batch_pause_seconds"`
	ItemPauseSeconds  float64 `json:"item_pause_seconds"`
	MinBatchSize      int     `json:"min_batch_size"`
	MaxBatchSize      int     `json:"max_batch_size"`
	MaxBatchPause     float64 `json:"max_batch_pause_seconds"`
	MaxItemPause      float64 `json:"max_item_pause_seconds"`
}
