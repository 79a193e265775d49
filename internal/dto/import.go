package dto

// ImportReport is returned by POST /enrollments/import.
type ImportReport struct {
	TotalProcessed     int      `json:"total_procesados"`
	UsersCreated       int      `json:"usuarios_creados"`
	EnrollmentsCreated int      `json:"inscripciones_creadas"`
	Errors             []string `json:"errores"`
	Successes          []string `json:"exitosos"`
}

// NewImportReport returns a report with non-nil slices so they encode as [].
func NewImportReport(total int) *ImportReport {
	return &ImportReport{TotalProcessed: total, Errors: []string{}, Successes: []string{}}
}
