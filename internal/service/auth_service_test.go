package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cdp-api/internal/models"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
)

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newAuthServiceForTest(t *testing.T, users ...*models.User) (*AuthService, *fakeUserStore, *fakeAudit) {
	t.Helper()
	store := newFakeUserStore(users...)
	audit := &fakeAudit{}
	svc := NewAuthService(store, audit, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: 2 * time.Hour})
	return svc, store, audit
}

func TestAuthServiceLogin(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", FirstName: "Ana", LastName: "Ruiz", PasswordHash: hashed(t, "secret123"), Role: models.RoleTeacher, Active: true}
	svc, store, audit := newAuthServiceForTest(t, user)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.com", Password: "secret123", IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "Ana Ruiz", resp.User.FullName)
	assert.NotNil(t, store.users["u1"].LastLogin)
	assert.Equal(t, []string{models.AuditActionLogin}, audit.actions())

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	inactive := &models.User{ID: "u2", Email: "old@example.com", PasswordHash: hashed(t, "secret123"), Role: models.RoleStudent}
	svc, _, _ := newAuthServiceForTest(t, inactive)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "old@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "old@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceRefresh(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", PasswordHash: hashed(t, "secret123"), Role: models.RoleAdmin, Active: true}
	svc, store, _ := newAuthServiceForTest(t, user)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.AccessToken})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken(login.RefreshToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)

	store.users["u1"].Active = false
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestAuthServiceRejectsForeignSignature(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", PasswordHash: hashed(t, "secret123"), Role: models.RoleAdmin, Active: true}
	svc, store, _ := newAuthServiceForTest(t, user)
	other := NewAuthService(store, nil, nil, nil, AuthConfig{AccessTokenSecret: "other"})

	login, err := other.Login(context.Background(), models.LoginRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRegister(t *testing.T) {
	existing := &models.User{ID: "u1", Email: "taken@example.com", NationalID: "1234567", Active: false}
	svc, store, _ := newAuthServiceForTest(t, existing)

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email: "New@Example.com", FirstName: "Luis", LastName: "Paz", NationalID: "7654321", Password: "abc12345",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, info.Role)
	assert.Equal(t, "new@example.com", info.Email)
	assert.True(t, store.users[info.ID].Active)

	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Email: "taken@example.com", FirstName: "X", LastName: "Y", NationalID: "99999", Password: "abc12345",
	}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Email: "weak@example.com", FirstName: "X", LastName: "Y", NationalID: "88888", Password: "abcdefgh",
	}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceRegisterTrimsIdentity(t *testing.T) {
	svc, store, _ := newAuthServiceForTest(t)

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email: "  Eva@Example.com ", FirstName: "Eva", LastName: "Mora", NationalID: " 5550001 ", Password: "abc12345",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "eva@example.com", info.Email)
	assert.Equal(t, "5550001", store.users[info.ID].NationalID)

	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Email: "neg@example.com", FirstName: "X", LastName: "Y", NationalID: "-12.5", Password: "abc12345",
	}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceMe(t *testing.T) {
	svc, _, _ := newAuthServiceForTest(t, &models.User{ID: "u1", Email: "a@example.com", FirstName: "A", LastName: "B"})
	info, err := svc.Me(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "A B", info.FullName)

	_, err = svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
