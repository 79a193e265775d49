package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type identityChecker interface {
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error)
}

// Actor identifies who performs a mutation.
type Actor struct {
	ID   string
	Role models.UserRole
	Meta models.RequestMeta
}

// IsAdmin reports whether the actor has the ADMIN role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a new user. Email and national id must be unique across all
// users, including inactive ones.
func (s *UserService) Create(ctx context.Context, req models.CreateUserRequest, actor Actor) (*models.User, error) {
	req.Normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if err := validatePasswordStrength(req.Password); err != nil {
		return nil, err
	}

	email, nationalID := req.Email, req.NationalID
	if err := ensureUniqueIdentity(ctx, s.repo, email, nationalID, ""); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		NationalID:   nationalID,
		Role:         role,
		Active:       true,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.record(ctx, actor, models.AuditActionUserCreate, user.ID, newPayload)

	return user, nil
}

// Update applies a partial update. Only admins may change role or active
// state, and email and national id stay unique among other users.
func (s *UserService) Update(ctx context.Context, id string, patch models.UserPatch, actor Actor) (*models.User, error) {
	patch.Normalize()
	if err := s.validator.Struct(patch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	if !actor.IsAdmin() {
		if actor.ID != id {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot update another user")
		}
		if patch.TouchesPrivilegedFields() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can change role or status")
		}
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	email, nationalID := "", ""
	if patch.Email != nil && *patch.Email != user.Email {
		email = *patch.Email
	}
	if patch.NationalID != nil && *patch.NationalID != user.NationalID {
		nationalID = *patch.NationalID
	}
	if err := ensureUniqueIdentity(ctx, s.repo, email, nationalID, user.ID); err != nil {
		return nil, err
	}

	patch.Apply(user)
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	newPayload, _ := json.Marshal(patch)
	s.record(ctx, actor, models.AuditActionUserUpdate, user.ID, newPayload)

	return user, nil
}

// ChangePassword sets a new password. Users changing their own password must
// supply the current one; admins resetting someone else's need not.
func (s *UserService) ChangePassword(ctx context.Context, id string, req models.ChangePasswordRequest, actor Actor) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}
	self := actor.ID == id
	if !self && !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot change another user's password")
	}
	if err := validatePasswordStrength(req.NewPassword); err != nil {
		return err
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if self {
		if req.OldPassword == "" {
			return appErrors.Clone(appErrors.ErrValidation, "current password is required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
			return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
		}
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, id, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.record(ctx, actor, models.AuditActionPasswordChange, id, []byte(`{"status":"changed"}`))
	return nil
}

// Delete performs a soft delete (inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, actor Actor) error {
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.record(ctx, actor, models.AuditActionUserDelete, id, []byte(`{"active":false}`))
	return nil
}

func (s *UserService) record(ctx context.Context, actor Actor, action, resourceID string, payload []byte) {
	if s.audit == nil {
		return
	}
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  actor.Meta.IP,
		UserAgent:  actor.Meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}

// ensureUniqueIdentity rejects an email or national id already held by a
// user other than excludeID. Empty values are not checked.
func ensureUniqueIdentity(ctx context.Context, repo identityChecker, email, nationalID, excludeID string) error {
	if email != "" {
		exists, err := repo.ExistsByEmail(ctx, email, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
	}
	if nationalID != "" {
		exists, err := repo.ExistsByNationalID(ctx, nationalID, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check national id uniqueness")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "national id already exists")
		}
	}
	return nil
}

// validatePasswordStrength requires 8+ characters with a letter and a digit.
func validatePasswordStrength(password string) error {
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len([]rune(password)) < 8 || !letter || !digit {
		return appErrors.Clone(appErrors.ErrValidation, "password must have at least 8 characters including a letter and a digit")
	}
	return nil
}

func paginationFor(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
