package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	NationalID   string     `db:"national_id" json:"national_id"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts the way certificates and emails print them.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// CreateUserRequest is the admin payload for provisioning an account.
type CreateUserRequest struct {
	Email      string   `json:"email" validate:"required,email"`
	FirstName  string   `json:"first_name" validate:"required,max=100"`
	LastName   string   `json:"last_name" validate:"required,max=100"`
	NationalID string   `json:"national_id" validate:"required,number,min=5,max=20"`
	Password   string   `json:"password" validate:"required,min=8"`
	Role       UserRole `json:"role" validate:"omitempty,oneof=ADMIN TEACHER STUDENT"`
}

// RegisterRequest is the self-service sign-up payload; it always yields a student.
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	NationalID string `json:"national_id" validate:"required,number,min=5,max=20"`
	Password   string `json:"password" validate:"required,min=8"`
}

// Normalize trims the identity fields and lower-cases the email.
func (r *CreateUserRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// Normalize trims the identity fields and lower-cases the email.
func (r *RegisterRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserPatch applies only the fields that are present. Nil means "keep stored value".
type UserPatch struct {
	Email      *string   `json:"email,omitempty" validate:"omitempty,email"`
	FirstName  *string   `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	LastName   *string   `json:"last_name,omitempty" validate:"omitempty,min=1,max=100"`
	NationalID *string   `json:"national_id,omitempty" validate:"omitempty,number,min=5,max=20"`
	Role       *UserRole `json:"role,omitempty" validate:"omitempty,oneof=ADMIN TEACHER STUDENT"`
	Active     *bool     `json:"active,omitempty"`
}

// Normalize trims present identity fields in place.
func (p *UserPatch) Normalize() {
	if p.Email != nil {
		email := normalizeEmail(*p.Email)
		p.Email = &email
	}
	if p.NationalID != nil {
		nid := strings.TrimSpace(*p.NationalID)
		p.NationalID = &nid
	}
	if p.FirstName != nil {
		first := strings.TrimSpace(*p.FirstName)
		p.FirstName = &first
	}
	if p.LastName != nil {
		last := strings.TrimSpace(*p.LastName)
		p.LastName = &last
	}
}

// Apply copies every present field onto u, in declaration order.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.NationalID != nil {
		u.NationalID = *p.NationalID
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
}

// TouchesPrivilegedFields reports whether the patch changes role or account state.
func (p UserPatch) TouchesPrivilegedFields() bool {
	return p.Role != nil || p.Active != nil
}
