package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/dto"
	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/mail"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []mail.Message
	failures map[string]error
	panicOn  string
}

func (t *fakeTransport) Send(ctx context.Context, msg mail.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.To == t.panicOn {
		panic("boom")
	}
	if err, ok := t.failures[msg.To]; ok {
		return err
	}
	t.sent = append(t.sent, msg)
	return nil
}

type fakeEmailLogStore struct {
	mu   sync.Mutex
	logs []models.EmailLog
	err  error
}

func (s *fakeEmailLogStore) Create(ctx context.Context, log *models.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, *log)
	return nil
}

type fakePauser struct {
	calls   []time.Duration
	stopAt  int
	stopErr error
}

func (p *fakePauser) Pause(ctx context.Context, d time.Duration) error {
	p.calls = append(p.calls, d)
	if p.stopAt > 0 && len(p.calls) >= p.stopAt {
		return p.stopErr
	}
	return nil
}

type fakeRoster struct {
	byCourse map[string][]models.EnrollmentDetail
}

func (r *fakeRoster) ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	return r.byCourse[courseID], nil
}

type mailerFixture struct {
	service   *MailerService
	transport *fakeTransport
	logs      *fakeEmailLogStore
	pauser    *fakePauser
	users     *fakeUserStore
	roster    *fakeRoster
	courses   *fakeCourseRepo
	renderer  *fakeRenderer
	audit     *fakeAudit
}

func newMailerFixture(t *testing.T, users ...*models.User) *mailerFixture {
	t.Helper()
	f := &mailerFixture{
		transport: &fakeTransport{failures: map[string]error{}},
		logs:      &fakeEmailLogStore{},
		pauser:    &fakePauser{},
		users:     newFakeUserStore(users...),
		roster:    &fakeRoster{byCourse: map[string][]models.EnrollmentDetail{}},
		courses:   &fakeCourseRepo{courses: map[string]*models.Course{}},
		renderer:  &fakeRenderer{},
		audit:     &fakeAudit{},
	}
	templates := newFakeEmailTemplateRepo(
		&models.EmailTemplate{ID: "welcome", Subject: "Hola {NOMBRE}", HTMLContent: "<p>{NOMBRE_COMPLETO} ({CEDULA}) {CURSO} {EVENTO}</p>", Active: true},
		&models.EmailTemplate{ID: "retired", Subject: "Old", HTMLContent: "<p>old</p>", Active: false},
	)
	certificates := &fakeCertificateTemplateRepo{templates: map[string]*models.CertificateTemplate{
		"diploma": {ID: "diploma", Name: "Diploma", Active: true},
	}}
	f.service = NewMailerService(MailerServiceParams{
		Templates:    templates,
		Users:        f.users,
		Roster:       f.roster,
		Courses:      f.courses,
		Certificates: certificates,
		Renderer:     f.renderer,
		Transport:    f.transport,
		Logs:         f.logs,
		Audit:        f.audit,
		Pauser:       f.pauser,
		Config: MailerConfig{
			BatchSize:  10,
			BatchPause: 20 * time.Second,
			ItemPause:  time.Second,
		},
	})
	return f
}

func students(n int) []*models.User {
	out := make([]*models.User, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &models.User{
			ID:         fmt.Sprintf("u%d", i),
			Email:      fmt.Sprintf("student%d@example.com", i),
			FirstName:  fmt.Sprintf("Name%d", i),
			LastName:   "Lastname",
			NationalID: fmt.Sprintf("17000000%02d", i),
			Role:       models.RoleStudent,
			Active:     true,
		})
	}
	return out
}

func userIDs(users []*models.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestMailerServiceSendBatchPausesBetweenItemsAndBatches(t *testing.T) {
	users := students(12)
	f := newMailerFixture(t, users...)

	var progress [][2]int
	summary, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    userIDs(users),
	}, adminActor, func(processed, total int) {
		progress = append(progress, [2]int{processed, total})
	})
	require.NoError(t, err)

	assert.Equal(t, 12, summary.TotalRecipients)
	assert.Equal(t, 12, summary.SentCount)
	assert.Zero(t, summary.ErrorCount)
	assert.Len(t, summary.LogIDs, 12)
	assert.Empty(t, summary.ErrorDetails)

	require.Len(t, f.pauser.calls, 13)
	itemPauses, batchPauses := 0, 0
	for i, d := range f.pauser.calls {
		switch d {
		case time.Second:
			itemPauses++
		case 20 * time.Second:
			batchPauses++
			assert.Equal(t, 10, i, "batch pause follows the tenth item")
		}
	}
	assert.Equal(t, 12, itemPauses)
	assert.Equal(t, 1, batchPauses)

	require.Len(t, progress, 12)
	assert.Equal(t, [2]int{12, 12}, progress[11])
	assert.Equal(t, []string{models.AuditActionBatchSend}, f.audit.actions())
}

func TestMailerServiceSendBatchHonoursRequestOptions(t *testing.T) {
	users := students(4)
	f := newMailerFixture(t, users...)

	size := 2
	batchPause := 0.5
	itemPause := 0.0
	_, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    userIDs(users),
		Options:         &dto.BatchOptions{BatchSize: &size, BatchPauseSeconds: &batchPause, ItemPauseSeconds: &itemPause},
	}, adminActor, nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0, 0, 500 * time.Millisecond, 0, 0}, f.pauser.calls)
}

func TestMailerServiceSendBatchRejectsOutOfRangeOptions(t *testing.T) {
	users := students(1)
	f := newMailerFixture(t, users...)

	size := 51
	_, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    userIDs(users),
		Options:         &dto.BatchOptions{BatchSize: &size},
	}, adminActor, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.transport.sent)
}

func TestMailerServiceSendBatchRendersRecipientVariables(t *testing.T) {
	users := students(1)
	f := newMailerFixture(t, users...)
	f.courses.courses["c1"] = &models.Course{ID: "c1", Name: "Primeros Auxilios", Active: true}

	_, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    []string{"u1"},
		CourseID:        "c1",
		GlobalVariables: map[string]string{"evento": "Expo", "NOMBRE": "Override"},
	}, adminActor, nil)
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "student1@example.com", msg.To)
	assert.Equal(t, "Name1 Lastname", msg.ToName)
	assert.Equal(t, "Hola Override", msg.Subject)
	assert.Equal(t, "<p>Name1 Lastname (1700000001) Primeros Auxilios Expo</p>", msg.HTMLBody)
	assert.Empty(t, msg.Attachments)
}

func TestMailerServiceSendBatchMergesCourseRosterWithoutDuplicates(t *testing.T) {
	users := students(1)
	f := newMailerFixture(t, users...)
	f.courses.courses["c1"] = &models.Course{ID: "c1", Name: "Liderazgo", Active: true}
	f.roster.byCourse["c1"] = []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{StudentID: "u1", CourseID: "c1"}, StudentEmail: "student1@example.com", StudentFirstName: "Name1"},
		{Enrollment: models.Enrollment{StudentID: "u9", CourseID: "c1"}, StudentEmail: "other@example.com", StudentFirstName: "Otra", StudentLastName: "Persona"},
	}

	summary, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    []string{"u1", "u1"},
		CourseID:        "c1",
	}, adminActor, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalRecipients)
	require.Len(t, f.transport.sent, 2)
	assert.Equal(t, "student1@example.com", f.transport.sent[0].To)
	assert.Equal(t, "other@example.com", f.transport.sent[1].To)
}

func TestMailerServiceSendBatchContinuesPastFailures(t *testing.T) {
	users := students(3)
	f := newMailerFixture(t, users...)
	f.transport.failures["student2@example.com"] = errors.New("mailbox unavailable")
	f.transport.panicOn = "student3@example.com"

	summary, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    userIDs(users),
	}, adminActor, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SentCount)
	assert.Equal(t, 2, summary.ErrorCount)
	assert.Equal(t, []string{
		"student2@example.com: mailbox unavailable",
		"student3@example.com: internal error: boom",
	}, summary.ErrorDetails)
	require.Len(t, f.logs.logs, 3)
	assert.Equal(t, models.EmailStatusSent, f.logs.logs[0].Status)
	assert.Equal(t, models.EmailStatusError, f.logs.logs[1].Status)
	assert.Nil(t, f.logs.logs[1].DeliveredAt)
	assert.Len(t, f.pauser.calls, 3)
}

func TestMailerServiceSendBatchStopsWhenContextEnds(t *testing.T) {
	users := students(5)
	f := newMailerFixture(t, users...)
	f.pauser.stopAt = 2
	f.pauser.stopErr = context.Canceled

	summary, err := f.service.SendBatch(context.Background(), dto.BatchEmailRequest{
		EmailTemplateID: "welcome",
		RecipientIDs:    userIDs(users),
	}, adminActor, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalRecipients)
	assert.Equal(t, 2, summary.SentCount)
	assert.Len(t, f.transport.sent, 2)
}

func TestMailerServiceSendBatchPreconditions(t *testing.T) {
	users := students(1)
	inactive := &models.User{ID: "gone", Email: "gone@example.com", Active: false}
	f := newMailerFixture(t, append(users, inactive)...)

	cases := []struct {
		name string
		req  dto.BatchEmailRequest
		want *appErrors.Error
	}{
		{"unknown template", dto.BatchEmailRequest{EmailTemplateID: "missing", RecipientIDs: []string{"u1"}}, appErrors.ErrNotFound},
		{"inactive template", dto.BatchEmailRequest{EmailTemplateID: "retired", RecipientIDs: []string{"u1"}}, appErrors.ErrTemplateInactive},
		{"no recipient source", dto.BatchEmailRequest{EmailTemplateID: "welcome"}, appErrors.ErrValidation},
		{"only inactive recipients", dto.BatchEmailRequest{EmailTemplateID: "welcome", RecipientIDs: []string{"gone"}}, appErrors.ErrValidation},
		{"unknown course", dto.BatchEmailRequest{EmailTemplateID: "welcome", CourseID: "nope"}, appErrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.SendBatch(context.Background(), tc.req, adminActor, nil)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.transport.sent)
	assert.Empty(t, f.logs.logs)
}

func TestMailerServiceSendOneAttachesCertificate(t *testing.T) {
	f := newMailerFixture(t)
	certificate := "diploma"

	log, err := f.service.SendOne(context.Background(), dto.SendEmailRequest{
		RecipientEmail:        "ana@example.com",
		RecipientName:         "Ana",
		Subject:               "Certificado {CURSO}",
		HTMLContent:           "<p>Hola {nombre}</p>",
		CertificateTemplateID: &certificate,
		Variables:             map[string]string{"nombre": "Ana", "curso": "Excel"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.EmailStatusSent, log.Status)
	assert.NotNil(t, log.DeliveredAt)
	assert.Equal(t, "Certificado Excel", log.Subject)

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "<p>Hola {nombre}</p>", msg.HTMLBody, "placeholder names are case sensitive")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "certificado.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, "Ana", f.renderer.lastVars["NOMBRE"])

	var metadata models.EmailLogMetadata
	require.NoError(t, json.Unmarshal(log.Metadata, &metadata))
	assert.True(t, metadata.HasAttachment)
	assert.Equal(t, []string{"CURSO"}, metadata.VariablesUsed)
	assert.NotEmpty(t, metadata.SentAt)
}

func TestMailerServiceSendOneWithoutCertificateTemplateStillSends(t *testing.T) {
	f := newMailerFixture(t)
	missing := "missing"

	log, err := f.service.SendOne(context.Background(), dto.SendEmailRequest{
		RecipientEmail:        "ana@example.com",
		EmailTemplateID:       strPtr("welcome"),
		CertificateTemplateID: &missing,
		Variables:             map[string]string{"NOMBRE": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.EmailStatusSent, log.Status)
	assert.Equal(t, "Hola Ana", log.Subject)
	require.NotNil(t, log.EmailTemplateID)
	assert.Equal(t, "welcome", *log.EmailTemplateID)
	assert.Empty(t, f.transport.sent[0].Attachments)
}

func TestMailerServiceSendOneRecordsFailures(t *testing.T) {
	f := newMailerFixture(t)
	f.transport.panicOn = "ana@example.com"

	log, err := f.service.SendOne(context.Background(), dto.SendEmailRequest{
		RecipientEmail: "ana@example.com",
		Subject:        "Hola",
		HTMLContent:    "<p>x</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EmailStatusError, log.Status)
	require.NotNil(t, log.ErrorMessage)
	assert.Equal(t, "internal error: boom", *log.ErrorMessage)
	require.Len(t, f.logs.logs, 1)
}

func TestMailerServiceSendOneErrors(t *testing.T) {
	f := newMailerFixture(t)

	_, err := f.service.SendOne(context.Background(), dto.SendEmailRequest{RecipientEmail: "not-an-email", Subject: "a", HTMLContent: "b"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.service.SendOne(context.Background(), dto.SendEmailRequest{RecipientEmail: "ana@example.com"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.service.SendOne(context.Background(), dto.SendEmailRequest{RecipientEmail: "ana@example.com", EmailTemplateID: strPtr("retired")})
	assert.ErrorIs(t, err, appErrors.ErrTemplateInactive)

	f.logs.err = errors.New("db down")
	log, err := f.service.SendOne(context.Background(), dto.SendEmailRequest{RecipientEmail: "ana@example.com", Subject: "a", HTMLContent: "b"})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	require.NotNil(t, log)
	assert.Equal(t, models.EmailStatusSent, log.Status)
}

func TestMailerServiceConfigReportsBounds(t *testing.T) {
	svc := NewMailerService(MailerServiceParams{Config: MailerConfig{BatchSize: 500, BatchPause: time.Hour, ItemPause: -time.Second}})

	cfg := svc.Config()
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 300.0, cfg.BatchPauseSeconds)
	assert.Equal(t, 0.0, cfg.ItemPauseSeconds)
	assert.Equal(t, 1, cfg.MinBatchSize)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.Equal(t, 10.0, cfg.MaxItemPause)
}
