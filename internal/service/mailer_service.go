package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/dto"
	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/pkg/config"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/mail"
	"github.com/noah-isme/cdp-api/pkg/placeholder"
)

const defaultAttachmentName = "certificado.pdf"

type emailTemplateReader interface {
	FindByID(ctx context.Context, id string) (*models.EmailTemplate, error)
}

type recipientDirectory interface {
	ListActiveByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type courseRoster interface {
	ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

type emailLogWriter interface {
	Create(ctx context.Context, log *models.EmailLog) error
}

// Pauser waits between sends. Implementations return early with the context
// error when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

type sleepPauser struct{}

func (sleepPauser) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProgressFunc is called after each recipient of a batch.
type ProgressFunc func(processed, total int)

// MailerConfig holds provider info and batch defaults.
type MailerConfig struct {
	Provider       string
	Sender         string
	Configured     bool
	BatchSize      int
	BatchPause     time.Duration
	ItemPause      time.Duration
	AttachmentName string
}

// MailerServiceParams groups constructor dependencies.
type MailerServiceParams struct {
	Templates    emailTemplateReader
	Users        recipientDirectory
	Roster       courseRoster
	Courses      courseReader
	Certificates certificateTemplateReader
	Renderer     certificateRenderer
	Transport    mail.Transport
	Logs         emailLogWriter
	Audit        auditRecorder
	Metrics      *MetricsService
	Pauser       Pauser
	Validator    *validator.Validate
	Logger       *zap.Logger
	Config       MailerConfig
}

// MailerService renders templated emails and delivers them one by one,
// logging every attempt.
type MailerService struct {
	templates    emailTemplateReader
	users        recipientDirectory
	roster       courseRoster
	courses      courseReader
	certificates certificateTemplateReader
	renderer     certificateRenderer
	transport    mail.Transport
	logs         emailLogWriter
	audit        auditRecorder
	metrics      *MetricsService
	pauser       Pauser
	validator    *validator.Validate
	logger       *zap.Logger
	config       MailerConfig
}

// NewMailerService constructs a MailerService with defaults for missing
// pacing values.
func NewMailerService(params MailerServiceParams) *MailerService {
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	cfg.BatchSize = config.ClampBatchSize(cfg.BatchSize)
	cfg.BatchPause = config.ClampDuration(cfg.BatchPause, config.MaxBatchPause)
	cfg.ItemPause = config.ClampDuration(cfg.ItemPause, config.MaxItemPause)
	if cfg.AttachmentName == "" {
		cfg.AttachmentName = defaultAttachmentName
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	pauser := params.Pauser
	if pauser == nil {
		pauser = sleepPauser{}
	}
	return &MailerService{
		templates:    params.Templates,
		users:        params.Users,
		roster:       params.Roster,
		courses:      params.Courses,
		certificates: params.Certificates,
		renderer:     params.Renderer,
		transport:    params.Transport,
		logs:         params.Logs,
		audit:        params.Audit,
		metrics:      params.Metrics,
		pauser:       pauser,
		validator:    validate,
		logger:       logger,
		config:       cfg,
	}
}

// Config exposes the batch defaults and accepted bounds.
func (s *MailerService) Config() dto.EmailConfigResponse {
	return dto.EmailConfigResponse{
		Provider:          s.config.Provider,
		Sender:            s.config.Sender,
		Configured:        s.config.Configured,
		BatchSize:         s.config.BatchSize,
		BatchPauseSeconds: s.config.BatchPause.Seconds(),
		ItemPauseSeconds:  s.config.ItemPause.Seconds(),
		MinBatchSize:      config.MinBatchSize,
		MaxBatchSize:      config.MaxBatchSize,
		MaxBatchPause:     config.MaxBatchPause.Seconds(),
		MaxItemPause:      config.MaxItemPause.Seconds(),
	}
}

type outgoingEmail struct {
	to                    string
	name                  string
	subject               string
	html                  string
	emailTemplateID       *string
	certificateTemplateID *string
	vars                  map[string]string
}

// SendOne renders and delivers a single email. Rendering and delivery
// problems are recorded on the returned log; the error is reserved for
// invalid requests and for failing to persist the log.
func (s *MailerService) SendOne(ctx context.Context, req dto.SendEmailRequest) (*models.EmailLog, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid send email payload")
	}

	out := outgoingEmail{
		to:                    strings.TrimSpace(req.RecipientEmail),
		name:                  strings.TrimSpace(req.RecipientName),
		subject:               req.Subject,
		html:                  req.HTMLContent,
		certificateTemplateID: nonEmpty(req.CertificateTemplateID),
		vars:                  placeholder.Merge(req.Variables),
	}
	if id := nonEmpty(req.EmailTemplateID); id != nil {
		tpl, err := s.activeTemplate(ctx, *id)
		if err != nil {
			return nil, err
		}
		out.emailTemplateID = id
		out.subject = tpl.Subject
		out.html = tpl.HTMLContent
	}
	if strings.TrimSpace(out.subject) == "" || strings.TrimSpace(out.html) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject and html_content are required without an email template")
	}

	log := s.deliver(ctx, out)
	if err := s.persist(ctx, log); err != nil {
		return log, err
	}
	return log, nil
}

// SendBatch delivers one templated email per resolved recipient, pausing
// after every item and between batches. Individual failures are reported in
// the summary and never stop the batch.
func (s *MailerService) SendBatch(ctx context.Context, req dto.BatchEmailRequest, actor Actor, progress ProgressFunc) (*dto.BatchSummary, error) {
	plan, err := s.PrepareBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.RunBatch(ctx, plan, actor, progress), nil
}

// BatchPlan is a validated batch ready to run.
type BatchPlan struct {
	Template              *models.EmailTemplate
	Recipients            []batchRecipient
	Globals               map[string]string
	CertificateTemplateID *string
	BatchSize             int
	BatchPause            time.Duration
	ItemPause             time.Duration
}

type batchRecipient struct {
	userID     string
	email      string
	firstName  string
	lastName   string
	nationalID string
	course     string
}

// Total reports the number of recipients in the plan.
func (p *BatchPlan) Total() int {
	return len(p.Recipients)
}

// PrepareBatch validates the request and resolves the template and
// recipients without sending anything.
func (s *MailerService) PrepareBatch(ctx context.Context, req dto.BatchEmailRequest) (*BatchPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	courseID := strings.TrimSpace(req.CourseID)
	if len(req.RecipientIDs) == 0 && courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recipient_ids or course_id is required")
	}

	tpl, err := s.activeTemplate(ctx, req.EmailTemplateID)
	if err != nil {
		return nil, err
	}

	recipients, err := s.resolveRecipients(ctx, req.RecipientIDs, courseID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no active recipients found")
	}

	plan := &BatchPlan{
		Template:              tpl,
		Recipients:            recipients,
		Globals:               placeholder.Merge(req.GlobalVariables),
		CertificateTemplateID: nonEmpty(req.CertificateTemplateID),
		BatchSize:             s.config.BatchSize,
		BatchPause:            s.config.BatchPause,
		ItemPause:             s.config.ItemPause,
	}
	if opts := req.Options; opts != nil {
		if opts.BatchSize != nil {
			plan.BatchSize = config.ClampBatchSize(*opts.BatchSize)
		}
		if opts.BatchPauseSeconds != nil {
			plan.BatchPause = config.ClampDuration(secondsToDuration(*opts.BatchPauseSeconds), config.MaxBatchPause)
		}
		if opts.ItemPauseSeconds != nil {
			plan.ItemPause = config.ClampDuration(secondsToDuration(*opts.ItemPauseSeconds), config.MaxItemPause)
		}
	}
	return plan, nil
}

// RunBatch sends every recipient of plan in order. It stops early only when
// ctx is cancelled.
func (s *MailerService) RunBatch(ctx context.Context, plan *BatchPlan, actor Actor, progress ProgressFunc) *dto.BatchSummary {
	start := time.Now()
	total := plan.Total()
	summary := &dto.BatchSummary{
		TotalRecipients: total,
		LogIDs:          []string{},
		ErrorDetails:    []string{},
	}

	s.logger.Info("batch send started",
		zap.String("email_template_id", plan.Template.ID),
		zap.Int("recipients", total),
		zap.Int("batch_size", plan.BatchSize),
	)

	processed := 0
sending:
	for offset := 0; offset < total; offset += plan.BatchSize {
		end := offset + plan.BatchSize
		if end > total {
			end = total
		}
		for _, recipient := range plan.Recipients[offset:end] {
			s.sendRecipient(ctx, plan, recipient, summary)
			processed++
			if progress != nil {
				progress(processed, total)
			}
			if err := s.pauser.Pause(ctx, plan.ItemPause); err != nil {
				s.logger.Warn("batch send interrupted", zap.Int("processed", processed), zap.Error(err))
				break sending
			}
		}
		if end < total {
			if err := s.pauser.Pause(ctx, plan.BatchPause); err != nil {
				s.logger.Warn("batch send interrupted", zap.Int("processed", processed), zap.Error(err))
				break
			}
		}
	}

	elapsed := time.Since(start)
	summary.ElapsedSeconds = math.Round(elapsed.Seconds()*100) / 100
	s.metrics.ObserveBatch(elapsed)

	s.logger.Info("batch send finished",
		zap.String("email_template_id", plan.Template.ID),
		zap.Int("sent", summary.SentCount),
		zap.Int("errors", summary.ErrorCount),
		zap.Float64("elapsed_seconds", summary.ElapsedSeconds),
	)
	s.recordBatch(ctx, actor, plan, summary)
	return summary
}

func (s *MailerService) sendRecipient(ctx context.Context, plan *BatchPlan, recipient batchRecipient, summary *dto.BatchSummary) {
	vars := map[string]string{
		"NOMBRE":          recipient.firstName,
		"APELLIDO":        recipient.lastName,
		"NOMBRE_COMPLETO": strings.TrimSpace(recipient.firstName + " " + recipient.lastName),
		"EMAIL":           recipient.email,
		"CEDULA":          recipient.nationalID,
	}
	if recipient.course != "" {
		vars["CURSO"] = recipient.course
	}

	templateID := plan.Template.ID
	log := s.deliver(ctx, outgoingEmail{
		to:                    recipient.email,
		name:                  vars["NOMBRE_COMPLETO"],
		subject:               plan.Template.Subject,
		html:                  plan.Template.HTMLContent,
		emailTemplateID:       &templateID,
		certificateTemplateID: plan.CertificateTemplateID,
		vars:                  placeholder.Merge(vars, plan.Globals),
	})
	if err := s.persist(ctx, log); err != nil {
		summary.ErrorCount++
		summary.ErrorDetails = append(summary.ErrorDetails, fmt.Sprintf("%s: %s", recipient.email, err.Error()))
		return
	}

	summary.LogIDs = append(summary.LogIDs, log.ID)
	if log.Status == models.EmailStatusSent {
		summary.SentCount++
		return
	}
	summary.ErrorCount++
	reason := "unknown error"
	if log.ErrorMessage != nil {
		reason = *log.ErrorMessage
	}
	summary.ErrorDetails = append(summary.ErrorDetails, fmt.Sprintf("%s: %s", recipient.email, reason))
}

// deliver renders and sends out, returning the log describing the attempt.
// It never returns nil and never panics.
func (s *MailerService) deliver(ctx context.Context, out outgoingEmail) *models.EmailLog {
	now := time.Now().UTC()
	log := &models.EmailLog{
		ID:                    uuid.NewString(),
		RecipientEmail:        out.to,
		RecipientName:         out.name,
		Subject:               out.subject,
		EmailTemplateID:       out.emailTemplateID,
		CertificateTemplateID: out.certificateTemplateID,
		Status:                models.EmailStatusPending,
		SentAt:                now,
	}

	hasAttachment := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("email send panicked", zap.String("recipient", out.to), zap.Any("panic", r))
				fail(log, fmt.Sprintf("internal error: %v", r))
			}
		}()

		subject := placeholder.Render(out.subject, out.vars)
		body := placeholder.Render(out.html, out.vars)
		log.Subject = subject

		msg := mail.Message{To: out.to, ToName: out.name, Subject: subject, HTMLBody: body}
		if attachment, ok := s.certificate(ctx, out.certificateTemplateID, out.vars); ok {
			msg.Attachments = append(msg.Attachments, attachment)
			hasAttachment = true
		}

		if s.transport == nil {
			fail(log, mail.ErrNotConfigured.Error())
			return
		}
		if err := s.transport.Send(ctx, msg); err != nil {
			s.logger.Warn("email delivery failed", zap.String("recipient", out.to), zap.Error(err))
			fail(log, err.Error())
			return
		}
		delivered := time.Now().UTC()
		log.Status = models.EmailStatusSent
		log.DeliveredAt = &delivered
	}()

	var keys []string
	for _, key := range placeholder.Extract(out.subject + "\n" + out.html) {
		if _, ok := out.vars[key]; ok {
			keys = append(keys, key)
		}
	}
	if keys == nil {
		keys = []string{}
	}
	metadata, _ := json.Marshal(models.EmailLogMetadata{
		VariablesUsed: keys,
		HasAttachment: hasAttachment,
		SentAt:        now.Format(time.RFC3339),
	})
	log.Metadata = metadata
	return log
}

// certificate renders the attachment for templateID. A missing template
// only drops the attachment.
func (s *MailerService) certificate(ctx context.Context, templateID *string, vars map[string]string) (mail.Attachment, bool) {
	if templateID == nil || s.certificates == nil || s.renderer == nil {
		return mail.Attachment{}, false
	}
	tpl, err := s.certificates.FindByID(ctx, *templateID)
	if err != nil {
		s.logger.Warn("certificate template unavailable, sending without attachment",
			zap.String("certificate_template_id", *templateID), zap.Error(err))
		return mail.Attachment{}, false
	}
	pdf := s.renderer.Render(ctx, tpl, vars)
	if len(pdf) == 0 {
		return mail.Attachment{}, false
	}
	return mail.Attachment{
		Filename:    s.config.AttachmentName,
		ContentType: "application/pdf",
		Content:     pdf,
	}, true
}

func (s *MailerService) persist(ctx context.Context, log *models.EmailLog) error {
	if err := s.logs.Create(ctx, log); err != nil {
		s.logger.Error("failed to persist email log", zap.String("recipient", log.RecipientEmail), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save email log")
	}
	s.metrics.RecordEmail(log.Status)
	return nil
}

func (s *MailerService) activeTemplate(ctx context.Context, id string) (*models.EmailTemplate, error) {
	tpl, err := s.templates.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "email template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load email template")
	}
	if !tpl.Active {
		return nil, appErrors.Clone(appErrors.ErrTemplateInactive, "email template is inactive")
	}
	return tpl, nil
}

// resolveRecipients merges explicit users and a course roster, keeping the
// first occurrence of each user.
func (s *MailerService) resolveRecipients(ctx context.Context, ids []string, courseID string) ([]batchRecipient, error) {
	seen := make(map[string]struct{})
	var recipients []batchRecipient

	courseName := ""
	if courseID != "" {
		course, err := s.courses.FindByID(ctx, courseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		courseName = course.Name
	}

	if len(ids) > 0 {
		users, err := s.users.ListActiveByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipients")
		}
		byID := make(map[string]models.User, len(users))
		for _, user := range users {
			byID[user.ID] = user
		}
		for _, id := range ids {
			user, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := seen[user.ID]; dup {
				continue
			}
			seen[user.ID] = struct{}{}
			recipients = append(recipients, batchRecipient{
				userID:     user.ID,
				email:      user.Email,
				firstName:  user.FirstName,
				lastName:   user.LastName,
				nationalID: user.NationalID,
				course:     courseName,
			})
		}
	}

	if courseID != "" {
		enrollments, err := s.roster.ListActiveByCourse(ctx, courseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course roster")
		}
		for _, enrollment := range enrollments {
			if _, dup := seen[enrollment.StudentID]; dup {
				continue
			}
			seen[enrollment.StudentID] = struct{}{}
			recipients = append(recipients, batchRecipient{
				userID:     enrollment.StudentID,
				email:      enrollment.StudentEmail,
				firstName:  enrollment.StudentFirstName,
				lastName:   enrollment.StudentLastName,
				nationalID: enrollment.StudentNationalID,
				course:     courseName,
			})
		}
	}
	return recipients, nil
}

func (s *MailerService) recordBatch(ctx context.Context, actor Actor, plan *BatchPlan, summary *dto.BatchSummary) {
	if s.audit == nil {
		return
	}
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	templateID := plan.Template.ID
	payload, _ := json.Marshal(map[string]interface{}{
		"recipients": summary.TotalRecipients,
		"sent":       summary.SentCount,
		"errors":     summary.ErrorCount,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     actorID,
		Action:     models.AuditActionBatchSend,
		Resource:   "email_templates",
		ResourceID: &templateID,
		NewValues:  payload,
		IPAddress:  actor.Meta.IP,
		UserAgent:  actor.Meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record batch audit log", zap.Error(err))
	}
}

func fail(log *models.EmailLog, reason string) {
	log.Status = models.EmailStatusError
	log.ErrorMessage = &reason
	log.DeliveredAt = nil
}

func nonEmpty(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
