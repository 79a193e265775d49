package models

import "time"

// Course is a training course owned by one instructor.
type Course struct {
	ID                    string     `db:"id" json:"id"`
	Name                  string     `db:"name" json:"name"`
	Description           string     `db:"description" json:"description"`
	DurationHours         int        `db:"duration_hours" json:"duration_hours"`
	StartDate             *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate               *time.Time `db:"end_date" json:"end_date,omitempty"`
	InstructorID          string     `db:"instructor_id" json:"instructor_id"`
	CertificateTemplateID *string    `db:"certificate_template_id" json:"certificate_template_id,omitempty"`
	Active                bool       `db:"active" json:"active"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with instructor and enrollment counters.
type CourseDetail struct {
	Course
	InstructorName  string `db:"instructor_name" json:"instructor_name"`
	InstructorEmail string `db:"instructor_email" json:"instructor_email"`
	EnrolledCount   int    `db:"enrolled_count" json:"enrolled_count"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Search       string
	InstructorID string
	Active       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Name                  string     `json:"name" validate:"required,max=200"`
	Description           string     `json:"description"`
	DurationHours         int        `json:"duration_hours" validate:"gte=0"`
	StartDate             *time.Time `json:"start_date"`
	EndDate               *time.Time `json:"end_date"`
	InstructorID          string     `json:"instructor_id"`
	CertificateTemplateID *string    `json:"certificate_template_id"`
}

// CoursePatch updates only the fields present in the payload.
type CoursePatch struct {
	Name                  *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description           *string    `json:"description,omitempty"`
	DurationHours         *int       `json:"duration_hours,omitempty" validate:"omitempty,gte=0"`
	StartDate             *time.Time `json:"start_date,omitempty"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	InstructorID          *string    `json:"instructor_id,omitempty"`
	CertificateTemplateID *string    `json:"certificate_template_id,omitempty"`
	Active                *bool      `json:"active,omitempty"`
}

// Apply copies every present field onto c.
func (p CoursePatch) Apply(c *Course) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.DurationHours != nil {
		c.DurationHours = *p.DurationHours
	}
	if p.StartDate != nil {
		c.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		c.EndDate = p.EndDate
	}
	if p.InstructorID != nil {
		c.InstructorID = *p.InstructorID
	}
	if p.CertificateTemplateID != nil {
		if *p.CertificateTemplateID == "" {
			c.CertificateTemplateID = nil
		} else {
			id := *p.CertificateTemplateID
			c.CertificateTemplateID = &id
		}
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
}
