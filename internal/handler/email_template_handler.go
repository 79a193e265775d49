package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/pkg/response"
)

type emailTemplateService interface {
	List(ctx context.Context, onlyActive bool) ([]models.EmailTemplate, error)
	Get(ctx context.Context, id string) (*models.EmailTemplate, error)
	Create(ctx context.Context, req models.EmailTemplateRequest) (*models.EmailTemplate, error)
	Update(ctx context.Context, id string, req models.EmailTemplateRequest) (*models.EmailTemplate, error)
	Delete(ctx context.Context, id string) error
	Preview(req models.TemplatePreviewRequest) (*models.TemplatePreview, error)
}

// EmailTemplateHandler exposes email template endpoints.
type EmailTemplateHandler struct {
	service emailTemplateService
}

// NewEmailTemplateHandler constructs the handler.
func NewEmailTemplateHandler(svc emailTemplateService) *EmailTemplateHandler {
	return &EmailTemplateHandler{service: svc}
}

// List godoc
// @Summary List email templates
// @Tags Emails
// @Produce json
// @Param active query bool false "Only active templates"
// @Success 200 {object} response.Envelope
// @Router /emails/templates [get]
func (h *EmailTemplateHandler) List(c *gin.Context) {
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
// @Summary Get email template
// @Tags Emails
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /emails/templates/{id} [get]
func (h *EmailTemplateHandler) Get(c *gin.Context) {
	tpl, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// Create godoc
// @Summary Create email template
// @Tags Emails
// @Accept json
// @Produce json
// @Param payload body models.EmailTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /emails/templates [post]
func (h *EmailTemplateHandler) Create(c *gin.Context) {
	var req models.EmailTemplateRequest
	if !bindJSON(c, &req, "invalid email template payload") {
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
// @Summary Update email template
// @Tags Emails
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body models.EmailTemplateRequest true "Template payload"
// @Success 200 {object} response.Envelope
// @Router /emails/templates/{id} [put]
func (h *EmailTemplateHandler) Update(c *gin.Context) {
	var req models.EmailTemplateRequest
	if !bindJSON(c, &req, "invalid email template payload") {
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
// @Summary Deactivate email template
// @Tags Emails
// @Param id path string true "Template ID"
// @Success 204 {object} response.Envelope
// @Router /emails/templates/{id} [delete]
func (h *EmailTemplateHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Preview godoc
// @Summary Preview email template
// @Tags Emails
// @Accept json
// @Produce json
// @Param payload body models.TemplatePreviewRequest true "Content and variables"
// @Success 200 {object} response.Envelope
// @Router /emails/templates/preview [post]
func (h *EmailTemplateHandler) Preview(c *gin.Context) {
	var req models.TemplatePreviewRequest
	if !bindJSON(c, &req, "invalid preview payload") {
		return
	}
	preview, err := h.service.Preview(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}
