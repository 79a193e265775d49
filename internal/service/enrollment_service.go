package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	MarkCompleted(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService lists and updates enrollments.
type EnrollmentService struct {
	repo    enrollmentRepository
	courses courseReader
	logger  *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, logger: logger}
}

// List returns enrollments with pagination metadata. Teachers are limited to
// their courses and students to their own enrollments.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter, actor Actor) ([]models.EnrollmentDetail, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleTeacher:
		filter.InstructorID = actor.ID
	case models.RoleStudent:
		filter.StudentID = actor.ID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Complete marks an enrollment as completed.
func (s *EnrollmentService) Complete(ctx context.Context, id string, actor Actor) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !enrollment.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment is inactive")
	}
	if err := s.repo.MarkCompleted(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}
	enrollment.Completed = true
	return enrollment, nil
}

// Deactivate soft deletes an enrollment.
func (s *EnrollmentService) Deactivate(ctx context.Context, id string, actor Actor) error {
	if _, err := s.load(ctx, id, actor); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate enrollment")
	}
	return nil
}

func (s *EnrollmentService) load(ctx context.Context, id string, actor Actor) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleTeacher {
		course, err := s.courses.FindByID(ctx, enrollment.CourseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if err := ensureCourseAccess(course, actor); err != nil {
			return nil, err
		}
	}
	return enrollment, nil
}
