package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cdp-api/internal/models"
)

// ImportTx is the transactional record store the spreadsheet importer writes through.
// Lookups return sql.ErrNoRows when nothing matches.
type ImportTx interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByNationalIDOrEmail(ctx context.Context, nationalID, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserProfile(ctx context.Context, user *models.User) error
	FindCourse(ctx context.Context, name, instructorID string) (*models.Course, error)
	CreateCourse(ctx context.Context, course *models.Course) error
	ReactivateCourse(ctx context.Context, id string) error
	FindEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	ResetEnrollment(ctx context.Context, id string, active bool) error
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// ImportRepository runs a whole spreadsheet import inside one database transaction.
type ImportRepository struct {
	db *sqlx.DB
}

// NewImportRepository constructs the repository.
func NewImportRepository(db *sqlx.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// WithinTx commits when fn returns nil and rolls back every change otherwise.
func (r *ImportRepository) WithinTx(ctx context.Context, fn func(tx ImportTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&importTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

type importTx struct {
	tx *sqlx.Tx
}

func (t *importTx) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var user models.User
	if err := t.tx.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindUserByNationalIDOrEmail prefers the national id match when two accounts qualify.
func (t *importTx) FindUserByNationalIDOrEmail(ctx context.Context, nationalID, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE national_id = $1 OR LOWER(email) = LOWER($2)
        ORDER BY (national_id = $1) DESC LIMIT 1`
	var user models.User
	if err := t.tx.GetContext(ctx, &user, query, nationalID, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by national id or email: %w", err)
	}
	return &user, nil
}

func (t *importTx) CreateUser(ctx context.Context, user *models.User) error {
	return insertUser(ctx, t.tx, user)
}

func (t *importTx) UpdateUserProfile(ctx context.Context, user *models.User) error {
	return updateUser(ctx, t.tx, user)
}

func (t *importTx) FindCourse(ctx context.Context, name, instructorID string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE LOWER(name) = LOWER($1) AND instructor_id = $2
        ORDER BY active DESC, created_at LIMIT 1`
	var course models.Course
	if err := t.tx.GetContext(ctx, &course, query, name, instructorID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by name: %w", err)
	}
	return &course, nil
}

func (t *importTx) CreateCourse(ctx context.Context, course *models.Course) error {
	return insertCourse(ctx, t.tx, course)
}

func (t *importTx) ReactivateCourse(ctx context.Context, id string) error {
	const query = `UPDATE courses SET active = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("reactivate course: %w", err)
	}
	return nil
}

func (t *importTx) FindEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	return findEnrollmentByPair(ctx, t.tx, studentID, courseID)
}

func (t *importTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return insertEnrollment(ctx, t.tx, enrollment)
}

// ResetEnrollment sets the active flag from the spreadsheet and clears completion.
func (t *importTx) ResetEnrollment(ctx context.Context, id string, active bool) error {
	const query = `UPDATE enrollments SET active = $2, completed = FALSE WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("reset enrollment: %w", err)
	}
	return nil
}

func (t *importTx) Savepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

func (t *importTx) RollbackToSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

func (t *importTx) ReleaseSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
