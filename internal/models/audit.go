package models

import "time"

// Audit actions recorded by services and the audit middleware.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionImport         = "ENROLLMENT_IMPORT"
	AuditActionBatchSend      = "EMAIL_BATCH_SEND"
	AuditActionEmailSend      = "EMAIL_SEND"
	AuditActionCourseChange   = "COURSE_CHANGE"
	AuditActionTemplateChange = "TEMPLATE_CHANGE"
	AuditActionEnrollment     = "ENROLLMENT_CHANGE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestMeta carries caller details recorded on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
