package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/export"
)

const emailStatsCacheKey = "email:stats"

var emailLogHeaders = []string{"ID", "Recipient Email", "Recipient Name", "Subject", "Status", "Error", "Sent At", "Delivered At"}

type emailLogRepository interface {
	List(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, int, error)
	ListAll(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, error)
	Stats(ctx context.Context, since time.Time) (*models.EmailStats, error)
}

// EmailLogExport is a rendered log export ready to download.
type EmailLogExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// EmailLogService serves the send history and its aggregates.
type EmailLogService struct {
	repo     emailLogRepository
	cache    *CacheService
	logger   *zap.Logger
	statsTTL time.Duration
	now      func() time.Time
}

// NewEmailLogService constructs an EmailLogService.
func NewEmailLogService(repo emailLogRepository, cache *CacheService, logger *zap.Logger, statsTTL time.Duration) *EmailLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	return &EmailLogService{repo: repo, cache: cache, logger: logger, statsTTL: statsTTL, now: time.Now}
}

// List returns a page of logs, newest first.
func (s *EmailLogService) List(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, *models.Pagination, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list email logs")
	}
	if logs == nil {
		logs = []models.EmailLog{}
	}
	return logs, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Stats returns totals by status, today's sends and the success rate in
// percent. Results are cached briefly; the bool reports a cache hit.
func (s *EmailLogService) Stats(ctx context.Context) (*models.EmailStats, bool, error) {
	var cached models.EmailStats
	if hit, _ := s.cache.Get(ctx, emailStatsCacheKey, &cached); hit {
		return &cached, true, nil
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.repo.Stats(ctx, today)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute email stats")
	}
	stats.SuccessRate = successRate(stats)

	_ = s.cache.Set(ctx, emailStatsCacheKey, stats, s.statsTTL)
	return stats, false, nil
}

// Export renders every log matching filter in the requested format.
func (s *EmailLogService) Export(ctx context.Context, filter models.EmailLogFilter, format string) (*EmailLogExport, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	logs, err := s.repo.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load email logs")
	}

	dataset := export.Dataset{Headers: emailLogHeaders, Rows: make([]map[string]string, 0, len(logs))}
	for _, log := range logs {
		row := map[string]string{
			"ID":              log.ID,
			"Recipient Email": log.RecipientEmail,
			"Recipient Name":  log.RecipientName,
			"Subject":         log.Subject,
			"Status":          string(log.Status),
			"Sent At":         log.SentAt.UTC().Format(time.RFC3339),
		}
		if log.ErrorMessage != nil {
			row["Error"] = *log.ErrorMessage
		}
		if log.DeliveredAt != nil {
			row["Delivered At"] = log.DeliveredAt.UTC().Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	data, err := exporter.Render(dataset, "Email logs")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render email log export")
	}
	s.logger.Debug("email logs exported", zap.Int("rows", len(logs)), zap.String("format", exporter.Extension()))
	return &EmailLogExport{
		Filename:    fmt.Sprintf("email_logs_%s.%s", s.now().UTC().Format("20060102_150405"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        data,
	}, nil
}

// successRate is sent over all attempts, in percent with two decimals.
func successRate(stats *models.EmailStats) float64 {
	total := stats.TotalSent + stats.TotalErrors + stats.TotalPending
	if total == 0 {
		return 0
	}
	return math.Round(float64(stats.TotalSent)/float64(total)*10000) / 100
}
