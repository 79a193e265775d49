package models

import "time"

// Enrollment links one student to one course.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
	Completed  bool      `db:"completed" json:"completed"`
	Active     bool      `db:"active" json:"active"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentFirstName  string `db:"student_first_name" json:"student_first_name"`
	StudentLastName   string `db:"student_last_name" json:"student_last_name"`
	StudentEmail      string `db:"student_email" json:"student_email"`
	StudentNationalID string `db:"student_national_id" json:"student_national_id"`
	CourseName        string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID     string
	StudentID    string
	InstructorID string
	Completed    *bool
	Active       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// EnrollRequest enrolls a student in a course.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}
