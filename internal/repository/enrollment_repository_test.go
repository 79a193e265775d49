package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/models"
)

var enrollmentDetailColumns = []string{"id", "course_id", "student_id", "enrolled_at", "completed", "active", "student_first_name", "student_last_name", "student_email", "student_national_id", "course_name"}

func TestEnrollmentRepositoryListActiveByCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentDetailColumns).
		AddRow("enr-1", "course-1", "stu-1", time.Now(), false, true, "Ana", "Ruiz", "ana@example.com", "12345", "Excel")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.course_id = $1 AND e.active = TRUE AND s.active = TRUE")).
		WithArgs("course-1").
		WillReturnRows(rows)

	enrollments, err := repo.ListActiveByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, "ana@example.com", enrollments[0].StudentEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByStudentAndCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND course_id = $2 ORDER BY active DESC")).
		WithArgs("stu-1", "course-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND course_id = $2 ORDER BY active DESC")).
		WithArgs("stu-2", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "student_id", "enrolled_at", "completed", "active"}).
			AddRow("enr-9", "course-1", "stu-2", time.Now(), true, false))

	_, err := repo.FindByStudentAndCourse(context.Background(), "stu-1", "course-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	enrollment, err := repo.FindByStudentAndCourse(context.Background(), "stu-2", "course-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-9", enrollment.ID)
	assert.False(t, enrollment.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryReactivate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE, completed = FALSE, enrolled_at = $2 WHERE id = $1")).
		WithArgs("enr-9", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reactivate(context.Background(), "enr-9", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	completed := false
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.course_id = $1 AND c.instructor_id = $2 AND e.completed = $3 ORDER BY c.name ASC LIMIT 20 OFFSET 0")).
		WithArgs("course-1", "teacher-1", false).
		WillReturnRows(sqlmock.NewRows(enrollmentDetailColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments e")).
		WithArgs("course-1", "teacher-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := repo.List(context.Background(), models.EnrollmentFilter{CourseID: "course-1", InstructorID: "teacher-1", Completed: &completed, SortBy: "course_name", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{CourseID: "course-1", StudentID: "stu-1", Active: true}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
