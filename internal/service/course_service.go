package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Deactivate(ctx context.Context, id string) error
}

type courseEnrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Reactivate(ctx context.Context, id string, enrolledAt time.Time) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type certificateTemplateReader interface {
	FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error)
}

// CourseService handles course management and direct enrollment.
type CourseService struct {
	repo        courseRepository
	enrollments courseEnrollmentRepository
	users       userReader
	templates   certificateTemplateReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs a CourseService. templates may be nil, in which
// case certificate template references are not checked.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentRepository, users userReader, templates certificateTemplateReader, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, enrollments: enrollments, users: users, templates: templates, validator: validate, logger: logger}
}

// List returns courses visible to the actor. Teachers only see their own.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter, actor Actor) ([]models.CourseDetail, *models.Pagination, error) {
	if actor.Role == models.RoleTeacher {
		filter.InstructorID = actor.ID
	}
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a course the actor may see.
func (s *CourseService) Get(ctx context.Context, id string, actor Actor) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := ensureCourseAccess(course, actor); err != nil {
		return nil, err
	}
	return course, nil
}

// Create adds a course. A teacher always becomes the instructor; admins may
// name any teacher or admin and default to themselves.
func (s *CourseService) Create(ctx context.Context, req models.CreateCourseRequest, actor Actor) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	instructorID := strings.TrimSpace(req.InstructorID)
	switch {
	case actor.Role == models.RoleTeacher && instructorID != "" && instructorID != actor.ID:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers can only create their own courses")
	case instructorID == "":
		instructorID = actor.ID
	}

	course := &models.Course{
		ID:                    uuid.NewString(),
		Name:                  strings.TrimSpace(req.Name),
		Description:           req.Description,
		DurationHours:         req.DurationHours,
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		InstructorID:          instructorID,
		CertificateTemplateID: req.CertificateTemplateID,
		Active:                true,
	}
	if err := s.validateCourse(ctx, course); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("instructor_id", course.InstructorID))
	return course, nil
}

// Update applies a partial update to a course the actor owns.
func (s *CourseService) Update(ctx context.Context, id string, patch models.CoursePatch, actor Actor) (*models.Course, error) {
	if err := s.validator.Struct(patch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTeacher && patch.InstructorID != nil && *patch.InstructorID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers cannot reassign courses")
	}

	patch.Apply(course)
	if err := s.validateCourse(ctx, course); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.logger.Info("course updated", zap.String("course_id", id))
	return course, nil
}

// Delete deactivates a course.
func (s *CourseService) Delete(ctx context.Context, id string, actor Actor) error {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// Students lists the enrollments of a course with student data.
func (s *CourseService) Students(ctx context.Context, courseID string, filter models.EnrollmentFilter, actor Actor) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if _, err := s.Get(ctx, courseID, actor); err != nil {
		return nil, nil, err
	}
	filter.CourseID = courseID
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course students")
	}
	return enrollments, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Enroll adds an active student to a course, rejecting a second active enrollment.
func (s *CourseService) Enroll(ctx context.Context, courseID string, req models.EnrollRequest, actor Actor) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, err := s.Get(ctx, courseID, actor)
	if err != nil {
		return nil, err
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is inactive")
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}

	existing, err := s.enrollments.FindByStudentAndCourse(ctx, student.ID, course.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if existing != nil {
		if existing.Active {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in course")
		}
		// one row per pair: a deactivated enrollment is revived as a new one
		now := time.Now().UTC()
		if err := s.enrollments.Reactivate(ctx, existing.ID, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
		}
		existing.Active = true
		existing.Completed = false
		existing.EnrolledAt = now
		return existing, nil
	}

	enrollment := &models.Enrollment{
		ID:        uuid.NewString(),
		CourseID:  course.ID,
		StudentID: student.ID,
		Active:    true,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

func (s *CourseService) validateCourse(ctx context.Context, course *models.Course) error {
	if course.StartDate != nil && course.EndDate != nil && course.EndDate.Before(*course.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "end date must not be before start date")
	}

	instructor, err := s.users.FindByID(ctx, course.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "instructor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if instructor.Role == models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "instructor must be a teacher or administrator")
	}

	if course.CertificateTemplateID != nil && s.templates != nil {
		if _, err := s.templates.FindByID(ctx, *course.CertificateTemplateID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "certificate template not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate template")
		}
	}
	return nil
}

// ensureCourseAccess restricts teachers to courses they instruct.
func ensureCourseAccess(course *models.Course, actor Actor) error {
	if actor.Role == models.RoleTeacher && course.InstructorID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another instructor")
	}
	return nil
}
