package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cdp-api/internal/dto"
	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/internal/repository"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/export"
	"github.com/noah-isme/cdp-api/pkg/observability"
	"github.com/noah-isme/cdp-api/pkg/spreadsheet"
)

// Logical import columns.
const (
	colFirstName  = "nombres"
	colLastName   = "apellidos"
	colNationalID = "cedula"
	colEmail      = "email"
	colCourse     = "curso"
	colStatus     = "estado"
	colInstructor = "instructor"
)

var importSchema = []spreadsheet.Field{
	{Name: colFirstName, Aliases: []string{"nombres", "nombre", "first name", "name"}},
	{Name: colLastName, Aliases: []string{"apellidos", "apellido", "last name", "surname"}},
	{Name: colNationalID, Aliases: []string{"cedula", "identificacion", "documento", "dni"}},
	{Name: colEmail, Aliases: []string{"email", "correo", "e-mail", "mail"}},
	{Name: colCourse, Aliases: []string{"curso", "course", "capacitacion", "programa"}},
	{Name: colStatus, Aliases: []string{"estado", "status", "activo"}},
	{Name: colInstructor, Aliases: []string{"instructor", "profesor", "docente", "teacher"}},
}

var inactiveStatuses = map[string]bool{
	"inactivo": true,
	"inactive": true,
	"0":        true,
	"no":       true,
	"false":    true,
	"retirado": true,
	"baja":     true,
}

type importStore interface {
	WithinTx(ctx context.Context, fn func(tx repository.ImportTx) error) error
}

// ImportConfig configures the spreadsheet importer.
type ImportConfig struct {
	DefaultInstructorEmail string
	DefaultPassword        string
}

// ImportService ingests enrollment spreadsheets.
type ImportService struct {
	store     importStore
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ImportConfig
}

// NewImportService constructs the importer.
func NewImportService(store importStore, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config ImportConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.DefaultPassword == "" {
		config.DefaultPassword = "123456"
	}
	return &ImportService{store: store, audit: audit, metrics: metrics, validator: validate, logger: logger, config: config}
}

// importRun holds caches scoped to one ImportEnrollments call.
type importRun struct {
	instructorID  string
	instructorErr string
	passwordHash  string
	courses       map[string]*models.Course
	seen          map[string]struct{}
}

type importRow struct {
	number     int
	firstName  string
	lastName   string
	nationalID string
	email      string
	course     string
	active     bool
}

// rowOutcome is applied to the run only after the row's savepoint is released.
type rowOutcome struct {
	courseKey         string
	course            *models.Course
	pairKey           string
	userCreated       bool
	enrollmentCreated bool
	success           string
}

// rowError is a per-row failure that skips the row without aborting the run.
type rowError struct {
	msg string
}

func (e *rowError) Error() string { return e.msg }

// ImportEnrollments reads the spreadsheet and upserts users, courses and
// enrollments in one transaction. Row failures are collected in the report;
// any other failure rolls back the whole run.
func (s *ImportService) ImportEnrollments(ctx context.Context, filename string, r io.Reader, actor Actor) (*dto.ImportReport, error) {
	table, err := spreadsheet.Read(filename, r)
	if err != nil {
		if errors.Is(err, spreadsheet.ErrUnsupportedFormat) || errors.Is(err, spreadsheet.ErrEmptySheet) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "could not read spreadsheet")
	}

	columns, err := spreadsheet.ResolveColumns(table.Headers, importSchema)
	if err != nil {
		var missing *spreadsheet.MissingColumnError
		if errors.As(err, &missing) {
			return nil, appErrors.Wrap(err, appErrors.ErrImportSchema.Code, appErrors.ErrImportSchema.Status, missing.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrImportSchema.Code, appErrors.ErrImportSchema.Status, "could not resolve columns")
	}

	report := dto.NewImportReport(len(table.Rows))
	run := &importRun{
		courses: make(map[string]*models.Course),
		seen:    make(map[string]struct{}),
	}

	err = s.store.WithinTx(ctx, func(tx repository.ImportTx) error {
		if err := s.resolveInstructor(ctx, tx, run); err != nil {
			return err
		}
		for _, raw := range table.Rows {
			row := parseImportRow(raw, columns)
			if msg := s.validateRow(row); msg != "" {
				report.Errors = append(report.Errors, rowMessage(row.number, msg))
				continue
			}
			if run.instructorErr != "" {
				report.Errors = append(report.Errors, rowMessage(row.number, run.instructorErr))
				continue
			}

			outcome, err := s.importRowIsolated(ctx, tx, run, row)
			if err != nil {
				var rerr *rowError
				if errors.As(err, &rerr) {
					report.Errors = append(report.Errors, rowMessage(row.number, rerr.msg))
					continue
				}
				return err
			}
			run.apply(outcome, report)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordImportRollback()
		observability.CaptureErrWithTags(err, map[string]string{"component": "import", "file": filename})
		s.logger.Error("import rolled back", zap.String("file", filename), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "import failed; no changes were saved")
	}

	s.metrics.RecordImport(len(report.Successes), len(report.Errors))
	s.logger.Info("import completed",
		zap.String("file", filename),
		zap.Int("rows", report.TotalProcessed),
		zap.Int("users_created", report.UsersCreated),
		zap.Int("enrollments_created", report.EnrollmentsCreated),
		zap.Int("errors", len(report.Errors)),
	)
	s.record(ctx, actor, report)
	return report, nil
}

// ImportTemplate returns a workbook with the expected headers and one sample row.
func (s *ImportService) ImportTemplate() ([]byte, string, error) {
	exporter := export.NewXLSXExporter()
	data := export.Dataset{
		Headers: []string{"Nombres", "Apellidos", "Cedula", "Email", "Curso", "Estado", "Instructor"},
		Rows: []map[string]string{{
			"Nombres":    "Ana",
			"Apellidos":  "Ruiz",
			"Cedula":     "1712345678",
			"Email":      "ana.ruiz@example.com",
			"Curso":      "Primeros Auxilios",
			"Estado":     "Activo",
			"Instructor": s.config.DefaultInstructorEmail,
		}},
	}
	body, err := exporter.Render(data, "Inscripciones")
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build import template")
	}
	return body, exporter.ContentType(), nil
}

func (s *ImportService) resolveInstructor(ctx context.Context, tx repository.ImportTx, run *importRun) error {
	instructor, err := tx.FindUserByEmail(ctx, s.config.DefaultInstructorEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			run.instructorErr = fmt.Sprintf("instructor %s not found", s.config.DefaultInstructorEmail)
			return nil
		}
		return fmt.Errorf("resolve default instructor: %w", err)
	}
	if !instructor.Active || (instructor.Role != models.RoleTeacher && instructor.Role != models.RoleAdmin) {
		run.instructorErr = fmt.Sprintf("instructor %s not found among active teachers", s.config.DefaultInstructorEmail)
		return nil
	}
	run.instructorID = instructor.ID
	return nil
}

func (s *ImportService) validateRow(row importRow) string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{colFirstName, row.firstName},
		{colLastName, row.lastName},
		{colNationalID, row.nationalID},
		{colEmail, row.email},
		{colCourse, row.course},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}
	if err := s.validator.Var(row.email, "email"); err != nil {
		return fmt.Sprintf("invalid email %q", row.email)
	}
	if err := s.validator.Var(row.nationalID, "number,min=5,max=20"); err != nil {
		return fmt.Sprintf("invalid national id %q: digits only, 5 to 20", row.nationalID)
	}
	return ""
}

// importRowIsolated runs one row inside a savepoint. Store failures roll back
// to the savepoint and surface as *rowError; savepoint bookkeeping failures
// are returned as-is and abort the run.
func (s *ImportService) importRowIsolated(ctx context.Context, tx repository.ImportTx, run *importRun, row importRow) (*rowOutcome, error) {
	savepoint := fmt.Sprintf("import_row_%d", row.number)
	if err := tx.Savepoint(ctx, savepoint); err != nil {
		return nil, err
	}

	outcome, err := s.importRow(ctx, tx, run, row)
	if err != nil {
		if rbErr := tx.RollbackToSavepoint(ctx, savepoint); rbErr != nil {
			return nil, rbErr
		}
		var rerr *rowError
		if errors.As(err, &rerr) {
			return nil, err
		}
		s.logger.Warn("import row failed", zap.Int("row", row.number), zap.Error(err))
		return nil, &rowError{msg: err.Error()}
	}

	if err := tx.ReleaseSavepoint(ctx, savepoint); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *ImportService) importRow(ctx context.Context, tx repository.ImportTx, run *importRun, row importRow) (*rowOutcome, error) {
	outcome := &rowOutcome{}

	course, err := s.resolveCourse(ctx, tx, run, row, outcome)
	if err != nil {
		return nil, err
	}

	student, created, err := s.resolveStudent(ctx, tx, run, row)
	if err != nil {
		return nil, err
	}
	outcome.userCreated = created

	pairKey := student.ID + "|" + course.ID
	if _, dup := run.seen[pairKey]; dup {
		return nil, &rowError{msg: fmt.Sprintf("duplicate enrollment of %s in %s within this file", row.email, course.Name)}
	}
	outcome.pairKey = pairKey

	enrollment, err := tx.FindEnrollment(ctx, student.ID, course.ID)
	switch {
	case err == nil:
		if err := tx.ResetEnrollment(ctx, enrollment.ID, row.active); err != nil {
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.CreateEnrollment(ctx, &models.Enrollment{
			ID:        uuid.NewString(),
			CourseID:  course.ID,
			StudentID: student.ID,
			Active:    row.active,
		}); err != nil {
			return nil, err
		}
		outcome.enrollmentCreated = true
	default:
		return nil, err
	}

	state := "Active"
	if !row.active {
		state = "Inactive"
	}
	outcome.success = fmt.Sprintf("%s %s → %s (%s)", row.firstName, row.lastName, course.Name, state)
	return outcome, nil
}

func (s *ImportService) resolveCourse(ctx context.Context, tx repository.ImportTx, run *importRun, row importRow, outcome *rowOutcome) (*models.Course, error) {
	key := strings.ToLower(row.course)
	if course, ok := run.courses[key]; ok {
		return course, nil
	}

	course, err := tx.FindCourse(ctx, row.course, run.instructorID)
	switch {
	case err == nil:
		if !course.Active {
			if err := tx.ReactivateCourse(ctx, course.ID); err != nil {
				return nil, err
			}
			course.Active = true
		}
	case errors.Is(err, sql.ErrNoRows):
		course = &models.Course{
			ID:           uuid.NewString(),
			Name:         row.course,
			InstructorID: run.instructorID,
			Active:       true,
		}
		if err := tx.CreateCourse(ctx, course); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	outcome.courseKey = key
	outcome.course = course
	return course, nil
}

// resolveStudent finds the user by national id or email. Spreadsheet values
// overwrite the stored profile; unknown people get a student account with the
// shared temporary password.
func (s *ImportService) resolveStudent(ctx context.Context, tx repository.ImportTx, run *importRun, row importRow) (*models.User, bool, error) {
	user, err := tx.FindUserByNationalIDOrEmail(ctx, row.nationalID, row.email)
	if err == nil {
		user.FirstName = row.firstName
		user.LastName = row.lastName
		user.Email = row.email
		user.NationalID = row.nationalID
		user.Active = row.active
		if err := tx.UpdateUserProfile(ctx, user); err != nil {
			return nil, false, err
		}
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	hash, err := run.defaultPasswordHash(s.config.DefaultPassword)
	if err != nil {
		return nil, false, err
	}
	user = &models.User{
		ID:           uuid.NewString(),
		Email:        row.email,
		FirstName:    row.firstName,
		LastName:     row.lastName,
		NationalID:   row.nationalID,
		PasswordHash: hash,
		Role:         models.RoleStudent,
		Active:       row.active,
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (r *importRun) defaultPasswordHash(password string) (string, error) {
	if r.passwordHash != "" {
		return r.passwordHash, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash default password: %w", err)
	}
	r.passwordHash = string(hash)
	return r.passwordHash, nil
}

func (r *importRun) apply(outcome *rowOutcome, report *dto.ImportReport) {
	if outcome.course != nil {
		r.courses[outcome.courseKey] = outcome.course
	}
	r.seen[outcome.pairKey] = struct{}{}
	if outcome.userCreated {
		report.UsersCreated++
	}
	if outcome.enrollmentCreated {
		report.EnrollmentsCreated++
	}
	report.Successes = append(report.Successes, outcome.success)
}

func (s *ImportService) record(ctx context.Context, actor Actor, report *dto.ImportReport) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{
		"total":               report.TotalProcessed,
		"users_created":       report.UsersCreated,
		"enrollments_created": report.EnrollmentsCreated,
		"errors":              len(report.Errors),
	})
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    actorID,
		Action:    models.AuditActionImport,
		Resource:  "enrollments",
		NewValues: payload,
		IPAddress: actor.Meta.IP,
		UserAgent: actor.Meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record import audit log", zap.Error(err))
	}
}

func parseImportRow(raw spreadsheet.Row, columns map[string]int) importRow {
	return importRow{
		number:     raw.Number,
		firstName:  raw.Cell(columns[colFirstName]),
		lastName:   raw.Cell(columns[colLastName]),
		nationalID: raw.Cell(columns[colNationalID]),
		email:      strings.ToLower(raw.Cell(columns[colEmail])),
		course:     raw.Cell(columns[colCourse]),
		active:     parseStatus(raw.Cell(columns[colStatus])),
	}
}

// parseStatus treats blank and unknown values as active.
func parseStatus(value string) bool {
	return !inactiveStatuses[spreadsheet.Normalize(value)]
}

func rowMessage(number int, msg string) string {
	return fmt.Sprintf("row %d: %s", number, msg)
}
