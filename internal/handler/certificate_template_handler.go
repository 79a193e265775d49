package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/pkg/response"
)

type certificateTemplateService interface {
	List(ctx context.Context, onlyActive bool) ([]models.CertificateTemplate, error)
	Get(ctx context.Context, id string) (*models.CertificateTemplate, error)
	Create(ctx context.Context, req models.CertificateTemplateRequest) (*models.CertificateTemplate, error)
	Update(ctx context.Context, id string, req models.CertificateTemplateRequest) (*models.CertificateTemplate, error)
	Delete(ctx context.Context, id string) error
	UploadBackground(ctx context.Context, data []byte) (string, error)
	Preview(ctx context.Context, id string, vars map[string]string) ([]byte, error)
}

// CertificateTemplateHandler exposes certificate design endpoints.
type CertificateTemplateHandler struct {
	service       certificateTemplateService
	maxUploadSize int64
}

// NewCertificateTemplateHandler constructs the handler.
func NewCertificateTemplateHandler(svc certificateTemplateService, maxUploadSize int64) *CertificateTemplateHandler {
	return &CertificateTemplateHandler{service: svc, maxUploadSize: maxUploadSize}
}

// List godoc
// @Summary List certificate templates
// @Tags Certificates
// @Produce json
// @Param active query bool false "Only active templates"
// @Success 200 {object} response.Envelope
// @Router /certificates/templates [get]
func (h *CertificateTemplateHandler) List(c *gin.Context) {
	onlyActive := false
	if active := boolQuery(c, "active"); active != nil {
		onlyActive = *active
	}
	templates, err := h.service.List(c.Request.Context(), onlyActive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Get godoc
// @Summary Get certificate template
// @Tags Certificates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/templates/{id} [get]
func (h *CertificateTemplateHandler) Get(c *gin.Context) {
	tpl, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// Create godoc
// @Summary Create certificate template
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body models.CertificateTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /certificates/templates [post]
func (h *CertificateTemplateHandler) Create(c *gin.Context) {
	var req models.CertificateTemplateRequest
	if !bindJSON(c, &req, "invalid certificate template payload") {
		return
	}
	tpl, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tpl)
}

// Update godoc
// @Summary Update certificate template
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body models.CertificateTemplateRequest true "Template payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/templates/{id} [put]
func (h *CertificateTemplateHandler) Update(c *gin.Context) {
	var req models.CertificateTemplateRequest
	if !bindJSON(c, &req, "invalid certificate template payload") {
		return
	}
	tpl, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// Delete godoc
// @Summary Deactivate certificate template
// @Tags Certificates
// @Param id path string true "Template ID"
// @Success 204 {object} response.Envelope
// @Router /certificates/templates/{id} [delete]
func (h *CertificateTemplateHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadBackground godoc
// @Summary Upload background image
// @Description Stores a PNG or JPEG and returns its public URL
// @Tags Certificates
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /certificates/backgrounds [post]
func (h *CertificateTemplateHandler) UploadBackground(c *gin.Context) {
	data, _, ok := readUpload(c, "file", h.maxUploadSize)
	if !ok {
		return
	}
	url, err := h.service.UploadBackground(c.Request.Context(), data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"url": url})
}

// Preview godoc
// @Summary Preview certificate
// @Description Renders the template as a PDF with the supplied variables
// @Tags Certificates
// @Accept json
// @Produce application/pdf
// @Param id path string true "Template ID"
// @Param payload body models.PreviewCertificateRequest false "Sample variables"
// @Success 200 {file} file
// @Router /certificates/templates/{id}/preview [post]
func (h *CertificateTemplateHandler) Preview(c *gin.Context) {
	var req models.PreviewCertificateRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid preview payload") {
		return
	}
	pdf, err := h.service.Preview(c.Request.Context(), c.Param("id"), req.Variables)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Inline(c, "preview.pdf", "application/pdf", pdf)
}
