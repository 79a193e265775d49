package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/internal/dto"
	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/internal/service"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/response"
)

type enrollmentService interface {
	List(ctx context.Context, filter models.EnrollmentFilter, actor service.Actor) ([]models.EnrollmentDetail, *models.Pagination, error)
	Complete(ctx context.Context, id string, actor service.Actor) (*models.Enrollment, error)
	Deactivate(ctx context.Context, id string, actor service.Actor) error
}

type enrollmentImporter interface {
	ImportEnrollments(ctx context.Context, filename string, r io.Reader, actor service.Actor) (*dto.ImportReport, error)
	ImportTemplate() ([]byte, string, error)
}

// EnrollmentHandler exposes enrollment endpoints, including spreadsheet import.
type EnrollmentHandler struct {
	enrollments   enrollmentService
	importer      enrollmentImporter
	maxImportSize int64
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, importer enrollmentImporter, maxImportSize int64) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, importer: importer, maxImportSize: maxImportSize}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param course_id query string false "Filter by course"
// @Param student_id query string false "Filter by student"
// @Param completed query bool false "Completion filter"
// @Param active query bool false "Active filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var filter models.EnrollmentFilter
	filter.Page, filter.PageSize = pageParams(c)
	filter.CourseID = c.Query("course_id")
	filter.StudentID = c.Query("student_id")
	filter.Completed = boolQuery(c, "completed")
	filter.Active = boolQuery(c, "active")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Complete godoc
// @Summary Mark enrollment completed
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/complete [put]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Complete(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Deactivate godoc
// @Summary Deactivate enrollment
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Deactivate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.enrollments.Deactivate(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Import godoc
// @Summary Import enrollments
// @Description Upload a CSV or XLSX of students and courses; rows are processed independently
// @Tags Enrollments
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Spreadsheet"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /enrollments/import [post]
func (h *EnrollmentHandler) Import(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.importer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "import service not configured"))
		return
	}
	data, filename, ok := readUpload(c, "file", h.maxImportSize)
	if !ok {
		return
	}

	report, err := h.importer.ImportEnrollments(c.Request.Context(), filename, bytes.NewReader(data), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ImportTemplate godoc
// @Summary Download import template
// @Tags Enrollments
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} file
// @Router /enrollments/import/template [get]
func (h *EnrollmentHandler) ImportTemplate(c *gin.Context) {
	if h.importer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "import service not configured"))
		return
	}
	data, contentType, err := h.importer.ImportTemplate()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "plantilla_inscripciones.xlsx", contentType, data)
}
