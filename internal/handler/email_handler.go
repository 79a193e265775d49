package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/internal/dto"
	"github.com/noah-isme/cdp-api/internal/middleware"
	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/internal/service"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/response"
)

type mailerService interface {
	SendOne(ctx context.Context, req dto.SendEmailRequest) (*models.EmailLog, error)
	SendBatch(ctx context.Context, req dto.BatchEmailRequest, actor service.Actor, progress service.ProgressFunc) (*dto.BatchSummary, error)
	Config() dto.EmailConfigResponse
}

type batchJobService interface {
	Submit(ctx context.Context, req dto.BatchEmailRequest, actor service.Actor) (*dto.BatchJobStatus, error)
	Get(ctx context.Context, id string, actor service.Actor) (*dto.BatchJobStatus, error)
}

type emailLogService interface {
	List(ctx context.Context, filter models.EmailLogFilter) ([]models.EmailLog, *models.Pagination, error)
	Stats(ctx context.Context) (*models.EmailStats, bool, error)
	Export(ctx context.Context, filter models.EmailLogFilter, format string) (*service.EmailLogExport, error)
}

// EmailHandler exposes sending, batch and log endpoints.
type EmailHandler struct {
	mailer mailerService
	jobs   batchJobService
	logs   emailLogService
}

// NewEmailHandler constructs an EmailHandler.
func NewEmailHandler(mailer mailerService, jobs batchJobService, logs emailLogService) *EmailHandler {
	return &EmailHandler{mailer: mailer, jobs: jobs, logs: logs}
}

// Send godoc
// @Summary Send one email
// @Description Sends a message, optionally from a template and with a certificate attached. Delivery failures are reported in the log status.
// @Tags Emails
// @Accept json
// @Produce json
// @Param payload body dto.SendEmailRequest true "Send payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /emails/send [post]
func (h *EmailHandler) Send(c *gin.Context) {
	var req dto.SendEmailRequest
	if !bindJSON(c, &req, "invalid email payload") {
		return
	}
	log, err := h.mailer.SendOne(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, log, nil)
}

// Batch godoc
// @Summary Send batch
// @Description Sends a template to many recipients with pacing. With async=true the batch is queued and a job id returned.
// @Tags Emails
// @Accept json
// @Produce json
// @Param async query bool false "Queue the batch"
// @Param payload body dto.BatchEmailRequest true "Batch payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /emails/batch [post]
func (h *EmailHandler) Batch(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.BatchEmailRequest
	if !bindJSON(c, &req, "invalid batch payload") {
		return
	}

	if async := boolQuery(c, "async"); async != nil && *async {
		if h.jobs == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "batch queue disabled"))
			return
		}
		status, err := h.jobs.Submit(c.Request.Context(), req, actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, dto.BatchJobResponse{JobID: status.ID, Status: status.Status})
		return
	}

	// a dropped connection must not stop a batch halfway
	summary, err := h.mailer.SendBatch(context.WithoutCancel(c.Request.Context()), req, actor, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// JobStatus godoc
// @Summary Batch job status
// @Tags Emails
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /emails/batch/jobs/{id} [get]
func (h *EmailHandler) JobStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "batch job not found"))
		return
	}
	status, err := h.jobs.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Logs godoc
// @Summary List email logs
// @Tags Emails
// @Produce json
// @Param status query string false "PENDING, SENT, ERROR or DELIVERED"
// @Param search query string false "Recipient or subject"
// @Param email_template_id query string false "Template filter"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /emails/logs [get]
func (h *EmailHandler) Logs(c *gin.Context) {
	filter, ok := logFilter(c)
	if !ok {
		return
	}
	logs, pagination, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// ExportLogs godoc
// @Summary Export email logs
// @Tags Emails
// @Produce text/csv
// @Param format query string false "csv, xlsx or pdf"
// @Success 200 {file} file
// @Router /emails/logs/export [get]
func (h *EmailHandler) ExportLogs(c *gin.Context) {
	filter, ok := logFilter(c)
	if !ok {
		return
	}
	file, err := h.logs.Export(c.Request.Context(), filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Stats godoc
// @Summary Email statistics
// @Tags Emails
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /emails/stats [get]
func (h *EmailHandler) Stats(c *gin.Context) {
	stats, hit, err := h.logs.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Config godoc
// @Summary Mail configuration
// @Description Provider status plus batch defaults and bounds
// @Tags Emails
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /emails/config [get]
func (h *EmailHandler) Config(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.mailer.Config(), nil)
}

func logFilter(c *gin.Context) (models.EmailLogFilter, bool) {
	var filter models.EmailLogFilter
	filter.Page, filter.PageSize = pageParams(c)
	filter.Status = models.EmailStatus(strings.ToUpper(c.Query("status")))
	filter.Search = c.Query("search")
	filter.EmailTemplateID = c.Query("email_template_id")

	var ok bool
	if filter.From, ok = dateQuery(c, "from", false); !ok {
		return filter, false
	}
	if filter.To, ok = dateQuery(c, "to", true); !ok {
		return filter, false
	}
	return filter, true
}

// dateQuery parses YYYY-MM-DD or RFC3339. A bare date used as an upper bound
// covers the whole day.
func dateQuery(c *gin.Context, key string, endOfDay bool) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid "+key+" date"))
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}
