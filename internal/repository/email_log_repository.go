package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cdp-api/internal/models"
)

const emailLogColumns = `id, recipient_email, recipient_name, subject, email_template_id, certificate_template_id, status, error_message, sent_at, delivered_at, metadata`

// EmailLogRepository stores one row per send attempt.
type EmailLogRepository struct {
	db *sqlx.DB
}

// NewEmailLogRepository constructs the repository.
func NewEmailLogRepository(db *sqlx.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

// Create inserts a log row. Metadata is sent as text so lib/pq does not use the binary jsonb format.
func (r *EmailLogRepository) Create(ctx context.Context, log *models.EmailLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}
	var metadata interface{}
	if len(log.Metadata) > 0 {
		metadata = string(log.Metadata)
	}
	query := `INSERT INTO email_logs (` + emailLogColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		log.ID, log.RecipientEmail, log.RecipientName, log.Subject, log.EmailTemplateID, log.CertificateTemplateID,
		log.Status, log.ErrorMessage, log.SentAt, log.DeliveredAt, metadata,
	); err != nil {
		return fmt.Errorf("create email log: %w", err)
	}
	return nil
}

// List returns logs newest first.
func (r *EmailLogRepository) List(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, int, error) {
	clause, args := emailLogWhere(filter)
	page, size := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM email_logs%s ORDER BY sent_at DESC LIMIT %d OFFSET %d", emailLogColumns, clause, size, offset)
	var logs []models.EmailLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list email logs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM email_logs"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count email logs: %w", err)
	}
	return logs, total, nil
}

// ListAll returns every log matching the filter without pagination, for exports.
func (r *EmailLogRepository) ListAll(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, error) {
	clause, args := emailLogWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM email_logs%s ORDER BY sent_at DESC", emailLogColumns, clause)
	var logs []models.EmailLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("export email logs: %w", err)
	}
	return logs, nil
}

// Stats aggregates the log table. since marks the start of "today".
func (r *EmailLogRepository) Stats(ctx context.Context, since time.Time) (*models.EmailStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status IN ('SENT', 'DELIVERED')) AS total_sent,
        COUNT(*) FILTER (WHERE status = 'DELIVERED') AS total_delivered,
        COUNT(*) FILTER (WHERE status = 'ERROR') AS total_errors,
        COUNT(*) FILTER (WHERE status = 'PENDING') AS total_pending,
        COUNT(*) FILTER (WHERE sent_at >= $1) AS sent_today
        FROM email_logs`
	var stats models.EmailStats
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, fmt.Errorf("email log stats: %w", err)
	}
	return &stats, nil
}

func emailLogWhere(filter models.EmailLogFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(recipient_email) LIKE $%d OR LOWER(recipient_name) LIKE $%d)", idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.EmailTemplateID != "" {
		conditions = append(conditions, fmt.Sprintf("email_template_id = $%d", len(args)+1))
		args = append(args, filter.EmailTemplateID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
