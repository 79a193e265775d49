package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cdp-api/internal/models"
)

const enrollmentDetailSelect = `SELECT e.id, e.course_id, e.student_id, e.enrolled_at, e.completed, e.active,
        s.first_name AS student_first_name, s.last_name AS student_last_name, s.email AS student_email,
        s.national_id AS student_national_id, c.name AS course_name`

const enrollmentJoins = `FROM enrollments e
JOIN users s ON s.id = e.student_id
JOIN courses c ON c.id = e.course_id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Completed != nil {
		conditions = append(conditions, fmt.Sprintf("e.completed = $%d", len(args)+1))
		args = append(args, *filter.Completed)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("e.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.last_name",
		"course_name":  "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page, size := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`%s
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentDetailSelect, enrollmentJoins+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", enrollmentJoins+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListActiveByCourse returns every active enrollment of a course with student data.
func (r *EnrollmentRepository) ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + "\n        " + enrollmentJoins + `
        WHERE e.course_id = $1 AND e.active = TRUE AND s.active = TRUE
        ORDER BY s.last_name, s.first_name`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, course_id, student_id, enrolled_at, completed, active FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndCourse returns the enrollment for the pair, preferring an
// active row. sql.ErrNoRows is returned unwrapped when none exists.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	return findEnrollmentByPair(ctx, r.db, studentID, courseID)
}

// Reactivate turns a deactivated enrollment back on as a fresh, uncompleted one.
func (r *EnrollmentRepository) Reactivate(ctx context.Context, id string, enrolledAt time.Time) error {
	const query = `UPDATE enrollments SET active = TRUE, completed = FALSE, enrolled_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, enrolledAt); err != nil {
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	return nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	return insertEnrollment(ctx, r.db, enrollment)
}

// MarkCompleted flags an enrollment as completed.
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET completed = TRUE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

// Deactivate soft deletes an enrollment.
func (r *EnrollmentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET active = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deactivate enrollment: %w", err)
	}
	return nil
}

func findEnrollmentByPair(ctx context.Context, q sqlx.QueryerContext, studentID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT id, course_id, student_id, enrolled_at, completed, active FROM enrollments
        WHERE student_id = $1 AND course_id = $2 ORDER BY active DESC, enrolled_at DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, q, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

func insertEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, course_id, student_id, enrolled_at, completed, active) VALUES (:id, :course_id, :student_id, :enrolled_at, :completed, :active)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}
