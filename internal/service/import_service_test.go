package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/internal/repository"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type importState struct {
	users       map[string]models.User
	courses     map[string]models.Course
	enrollments map[string]models.Enrollment
}

func (st importState) clone() importState {
	out := importState{
		users:       make(map[string]models.User, len(st.users)),
		courses:     make(map[string]models.Course, len(st.courses)),
		enrollments: make(map[string]models.Enrollment, len(st.enrollments)),
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.courses {
		out.courses[k] = v
	}
	for k, v := range st.enrollments {
		out.enrollments[k] = v
	}
	return out
}

// fakeImportStore keeps state in maps and emulates transaction and savepoint
// rollback with snapshots.
type fakeImportStore struct {
	state      importState
	savepoints map[string]importState

	failSavepointAt string
	failUserEmail   string
}

func newFakeImportStore(users ...models.User) *fakeImportStore {
	s := &fakeImportStore{state: importState{
		users:       map[string]models.User{},
		courses:     map[string]models.Course{},
		enrollments: map[string]models.Enrollment{},
	}}
	for _, u := range users {
		s.state.users[u.ID] = u
	}
	return s
}

func (s *fakeImportStore) WithinTx(ctx context.Context, fn func(tx repository.ImportTx) error) error {
	before := s.state.clone()
	s.savepoints = map[string]importState{}
	if err := fn(s); err != nil {
		s.state = before
		return err
	}
	return nil
}

func (s *fakeImportStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.state.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeImportStore) FindUserByNationalIDOrEmail(ctx context.Context, nationalID, email string) (*models.User, error) {
	for _, u := range s.state.users {
		if u.NationalID == nationalID {
			cp := u
			return &cp, nil
		}
	}
	return s.FindUserByEmail(ctx, email)
}

func (s *fakeImportStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.Email == s.failUserEmail {
		return errors.New("insert user: unique violation")
	}
	s.state.users[user.ID] = *user
	return nil
}

func (s *fakeImportStore) UpdateUserProfile(ctx context.Context, user *models.User) error {
	if user.Email == s.failUserEmail {
		return errors.New("update user: unique violation")
	}
	s.state.users[user.ID] = *user
	return nil
}

func (s *fakeImportStore) FindCourse(ctx context.Context, name, instructorID string) (*models.Course, error) {
	for _, c := range s.state.courses {
		if strings.EqualFold(c.Name, name) && c.InstructorID == instructorID {
			cp := c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeImportStore) CreateCourse(ctx context.Context, course *models.Course) error {
	s.state.courses[course.ID] = *course
	return nil
}

func (s *fakeImportStore) ReactivateCourse(ctx context.Context, id string) error {
	c := s.state.courses[id]
	c.Active = true
	s.state.courses[id] = c
	return nil
}

func (s *fakeImportStore) FindEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	for _, e := range s.state.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			cp := e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeImportStore) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	s.state.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (s *fakeImportStore) ResetEnrollment(ctx context.Context, id string, active bool) error {
	e := s.state.enrollments[id]
	e.Active = active
	e.Completed = false
	s.state.enrollments[id] = e
	return nil
}

func (s *fakeImportStore) Savepoint(ctx context.Context, name string) error {
	if name == s.failSavepointAt {
		return errors.New("savepoint: connection reset")
	}
	s.savepoints[name] = s.state.clone()
	return nil
}

func (s *fakeImportStore) RollbackToSavepoint(ctx context.Context, name string) error {
	snap, ok := s.savepoints[name]
	if !ok {
		return errors.New("no such savepoint")
	}
	s.state = snap.clone()
	return nil
}

func (s *fakeImportStore) ReleaseSavepoint(ctx context.Context, name string) error {
	delete(s.savepoints, name)
	return nil
}

const importInstructorEmail = "admin@capacitacionescdp.com"

func instructorUser() models.User {
	return models.User{ID: "instr", Email: importInstructorEmail, Role: models.RoleAdmin, Active: true}
}

func newImportServiceForTest(store *fakeImportStore) (*ImportService, *fakeAudit) {
	audit := &fakeAudit{}
	svc := NewImportService(store, audit, nil, nil, nil, ImportConfig{DefaultInstructorEmail: importInstructorEmail, DefaultPassword: "123456"})
	return svc, audit
}

const importHeader = "Nombres,Apellidos,Cédula,Correo Electrónico,Curso,Estado,Instructor\n"

func TestImportEnrollmentsMalformedEmailScenario(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, audit := newImportServiceForTest(store)

	sheet := importHeader +
		"Ana,Ruiz,1712345678,ana@example.com,Primeros Auxilios,Activo,x\n" +
		"Luis,Paz,1798765432,not-an-email,Primeros Auxilios,Activo,x\n" +
		"Eva,Mora,1711111111,EVA@example.com,Primeros Auxilios,,x\n"

	report, err := svc.ImportEnrollments(context.Background(), "inscripciones.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalProcessed)
	assert.Equal(t, 2, report.UsersCreated)
	assert.Equal(t, 2, report.EnrollmentsCreated)
	require.Len(t, report.Errors, 1)
	assert.True(t, strings.HasPrefix(report.Errors[0], "row 3: "), report.Errors[0])
	assert.Equal(t, []string{
		"Ana Ruiz → Primeros Auxilios (Active)",
		"Eva Mora → Primeros Auxilios (Active)",
	}, report.Successes)

	assert.Len(t, store.state.courses, 1)
	for _, e := range store.state.enrollments {
		assert.True(t, e.Active)
		assert.False(t, e.Completed)
	}
	_, err = store.FindUserByEmail(context.Background(), "eva@example.com")
	assert.NoError(t, err)
	assert.Equal(t, []string{models.AuditActionImport}, audit.actions())
}

func TestImportEnrollmentsDuplicatePairInFile(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		"Ana,Ruiz,1712345678,ana@example.com,Excel Básico,Activo,x\n" +
		"Ana María,Ruiz,1712345678,ana@example.com,excel básico,Inactivo,x\n"

	report, err := svc.ImportEnrollments(context.Background(), "inscripciones.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)

	assert.Len(t, store.state.enrollments, 1)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "row 3: duplicate enrollment")
	for _, e := range store.state.enrollments {
		assert.True(t, e.Active)
	}
	user, err := store.FindUserByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.FirstName, "duplicate row must not touch the profile")
}

func TestImportEnrollmentsIsIdempotent(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		"Ana,Ruiz,1712345678,ana@example.com,Excel Básico,Activo,x\n" +
		"Luis,Paz,1798765432,luis@example.com,Excel Básico,Retirado,x\n"

	first, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)
	assert.Equal(t, 2, first.UsersCreated)
	assert.Equal(t, 2, first.EnrollmentsCreated)
	snapshot := store.state.clone()

	second, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)
	assert.Zero(t, second.UsersCreated)
	assert.Zero(t, second.EnrollmentsCreated)
	assert.Empty(t, second.Errors)
	assert.Equal(t, snapshot, store.state)
}

func TestImportEnrollmentsUpdatesExistingState(t *testing.T) {
	existing := models.User{ID: "u1", Email: "old@example.com", FirstName: "Old", LastName: "Name", NationalID: "1712345678", Role: models.RoleStudent}
	store := newFakeImportStore(instructorUser(), existing)
	store.state.courses["c1"] = models.Course{ID: "c1", Name: "Excel Básico", InstructorID: "instr", Active: false}
	store.state.enrollments["e1"] = models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "u1", Completed: true, Active: false}
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader + "Ana,Ruiz,1712345678,ana@example.com,EXCEL BÁSICO,activo,x\n"
	report, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)

	assert.Zero(t, report.UsersCreated)
	assert.Zero(t, report.EnrollmentsCreated)
	assert.True(t, store.state.courses["c1"].Active)
	assert.Equal(t, models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "u1", Completed: false, Active: true}, store.state.enrollments["e1"])
	assert.Equal(t, "ana@example.com", store.state.users["u1"].Email)
	assert.Equal(t, "Ana", store.state.users["u1"].FirstName)
}

func TestImportEnrollmentsStoreErrorIsolatedToRow(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	store.failUserEmail = "bad@example.com"
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		"Bad,Row,1700000001,bad@example.com,Nuevo Curso,Activo,x\n" +
		"Ana,Ruiz,1712345678,ana@example.com,Otro Curso,Activo,x\n"

	report, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.True(t, strings.HasPrefix(report.Errors[0], "row 2: "))
	assert.Len(t, store.state.courses, 1, "course created by the failed row is rolled back")
	assert.Len(t, store.state.users, 2)
}

func TestImportEnrollmentsFatalErrorRollsBackEverything(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	store.failSavepointAt = "import_row_3"
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		"Ana,Ruiz,1712345678,ana@example.com,Excel,Activo,x\n" +
		"Luis,Paz,1798765432,luis@example.com,Excel,Activo,x\n"

	_, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Len(t, store.state.users, 1)
	assert.Empty(t, store.state.courses)
	assert.Empty(t, store.state.enrollments)
}

func TestImportEnrollmentsMissingColumn(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, _ := newImportServiceForTest(store)

	sheet := "Nombres,Apellidos,Cedula,Email,Curso,Instructor\nAna,Ruiz,1712345678,ana@example.com,Excel,x\n"
	_, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrImportSchema)
	assert.Contains(t, err.Error(), "estado")
	assert.Empty(t, store.state.enrollments)
}

func TestImportEnrollmentsWithoutInstructorFailsEveryRow(t *testing.T) {
	store := newFakeImportStore()
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		"Ana,Ruiz,1712345678,ana@example.com,Excel,Activo,x\n" +
		"Luis,Paz,1798765432,luis@example.com,Excel,Activo,x\n"
	report, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0], "instructor")
	assert.Empty(t, store.state.users)
}

func TestImportEnrollmentsRejectsIneligibleInstructor(t *testing.T) {
	inactive := instructorUser()
	inactive.Active = false
	student := instructorUser()
	student.Role = models.RoleStudent

	for name, instructor := range map[string]models.User{"inactive": inactive, "student": student} {
		t.Run(name, func(t *testing.T) {
			store := newFakeImportStore(instructor)
			svc, _ := newImportServiceForTest(store)

			sheet := importHeader + "Ana,Ruiz,1712345678,ana@example.com,Excel,Activo,x\n"
			report, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
			require.NoError(t, err)
			require.Len(t, report.Errors, 1)
			assert.Contains(t, report.Errors[0], "row 2: instructor "+importInstructorEmail)
			assert.Empty(t, store.state.courses)
			assert.Empty(t, store.state.enrollments)
		})
	}
}

func TestImportEnrollmentsValidation(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, _ := newImportServiceForTest(store)

	sheet := importHeader +
		",Ruiz,1712345678,ana@example.com,Excel,Activo,x\n" +
		"Luis,Paz,12AB5,luis@example.com,Excel,Activo,x\n" +
		"Eva,Mora,1234,eva@example.com,Excel,Activo,x\n" +
		"Ivan,Soto,123456789012345678901,ivan@example.com,Excel,Activo,x\n"
	report, err := svc.ImportEnrollments(context.Background(), "a.csv", strings.NewReader(sheet), adminActor)
	require.NoError(t, err)
	require.Len(t, report.Errors, 4)
	assert.Equal(t, "row 2: missing required fields: nombres", report.Errors[0])
	assert.Contains(t, report.Errors[1], "row 3: invalid national id")
	assert.Contains(t, report.Errors[2], "row 4: invalid national id")
	assert.Contains(t, report.Errors[3], "row 5: invalid national id")
	assert.Empty(t, store.state.users)
}

func TestImportEnrollmentsUnsupportedFile(t *testing.T) {
	svc, _ := newImportServiceForTest(newFakeImportStore())
	_, err := svc.ImportEnrollments(context.Background(), "a.txt", strings.NewReader("x"), adminActor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestImportTemplateRoundTrips(t *testing.T) {
	store := newFakeImportStore(instructorUser())
	svc, _ := newImportServiceForTest(store)

	body, contentType, err := svc.ImportTemplate()
	require.NoError(t, err)
	assert.Contains(t, contentType, "spreadsheetml")

	report, err := svc.ImportEnrollments(context.Background(), "plantilla.xlsx", bytes.NewReader(body), adminActor)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.EnrollmentsCreated)
}

func TestParseStatus(t *testing.T) {
	for value, want := range map[string]bool{
		"":          true,
		"Activo":    true,
		"pendiente": true,
		"INACTIVO":  false,
		"Retirado":  false,
		"baja":      false,
		"0":         false,
		"No":        false,
		"false":     false,
	} {
		assert.Equal(t, want, parseStatus(value), value)
	}
}
