package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cdp-api/internal/models"
)

func TestImportRepositoryCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT import_row_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT import_row_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx ImportTx) error {
		if err := tx.Savepoint(context.Background(), "import_row_2"); err != nil {
			return err
		}
		if err := tx.CreateUser(context.Background(), &models.User{Email: "ana@example.com", Role: models.RoleStudent}); err != nil {
			return err
		}
		return tx.ReleaseSavepoint(context.Background(), "import_row_2")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRepositoryRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courses").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := repo.WithinTx(context.Background(), func(tx ImportTx) error {
		if err := tx.CreateCourse(context.Background(), &models.Course{Name: "Excel", InstructorID: "t1", Active: true}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportTxFindUserPrefersNationalID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE national_id = $1 OR LOWER(email) = LOWER($2)")).
		WithArgs("12345", "ana@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx ImportTx) error {
		_, err := tx.FindUserByNationalIDOrEmail(context.Background(), "12345", "ana@example.com")
		assert.ErrorIs(t, err, sql.ErrNoRows)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportTxResetEnrollmentClearsCompletion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = $2, completed = FALSE WHERE id = $1")).
		WithArgs("enr-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx ImportTx) error {
		return tx.ResetEnrollment(context.Background(), "enr-1", false)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
