package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/middleware"
	"github.com/noah-isme/cdp-api/internal/models"
)

// Handlers bundles every endpoint group mounted under the API prefix.
type Handlers struct {
	Auth                 *AuthHandler
	Users                *UserHandler
	Courses              *CourseHandler
	Enrollments          *EnrollmentHandler
	CertificateTemplates *CertificateTemplateHandler
	EmailTemplates       *EmailTemplateHandler
	Emails               *EmailHandler
}

// RouteDeps carries the cross-cutting middleware dependencies.
type RouteDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditRecorder
	Logger *zap.Logger
}

var (
	staffRoles = []string{string(models.RoleAdmin), string(models.RoleTeacher)}
	adminOnly  = []string{string(models.RoleAdmin)}
	adminSelf  = []string{string(models.RoleAdmin), middleware.Self}
)

// RegisterRoutes mounts the API on group.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, deps RouteDeps) {
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/register", h.Auth.Register)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))
	secured.GET("/auth/me", h.Auth.Me)

	users := secured.Group("/users")
	users.GET("", middleware.RBAC(adminOnly...), h.Users.List)
	users.POST("", middleware.RBAC(adminOnly...), h.Users.Create)
	users.GET("/:id", middleware.RBAC(adminSelf...), h.Users.Get)
	users.PATCH("/:id", middleware.RBAC(adminSelf...), h.Users.Update)
	users.PUT("/:id/password", middleware.RBAC(adminSelf...), h.Users.ChangePassword)
	users.DELETE("/:id", middleware.RBAC(adminOnly...), h.Users.Delete)

	courses := secured.Group("/courses")
	courses.GET("", h.Courses.List)
	courses.GET("/:id", h.Courses.Get)
	courses.POST("", middleware.RBAC(staffRoles...), audit(models.AuditActionCourseChange, "courses"), h.Courses.Create)
	courses.PATCH("/:id", middleware.RBAC(staffRoles...), audit(models.AuditActionCourseChange, "courses"), h.Courses.Update)
	courses.DELETE("/:id", middleware.RBAC(staffRoles...), audit(models.AuditActionCourseChange, "courses"), h.Courses.Delete)
	courses.GET("/:id/students", middleware.RBAC(staffRoles...), h.Courses.Students)
	courses.POST("/:id/enrollments", middleware.RBAC(staffRoles...), audit(models.AuditActionEnrollment, "courses"), h.Courses.Enroll)

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", h.Enrollments.List)
	enrollments.POST("/import", middleware.RBAC(staffRoles...), h.Enrollments.Import)
	enrollments.GET("/import/template", middleware.RBAC(staffRoles...), h.Enrollments.ImportTemplate)
	enrollments.PUT("/:id/complete", middleware.RBAC(staffRoles...), audit(models.AuditActionEnrollment, "enrollments"), h.Enrollments.Complete)
	enrollments.DELETE("/:id", middleware.RBAC(staffRoles...), audit(models.AuditActionEnrollment, "enrollments"), h.Enrollments.Deactivate)

	certs := secured.Group("/certificates", middleware.RBAC(staffRoles...))
	certs.GET("/templates", h.CertificateTemplates.List)
	certs.GET("/templates/:id", h.CertificateTemplates.Get)
	certs.POST("/templates", audit(models.AuditActionTemplateChange, "certificate_templates"), h.CertificateTemplates.Create)
	certs.PUT("/templates/:id", audit(models.AuditActionTemplateChange, "certificate_templates"), h.CertificateTemplates.Update)
	certs.DELETE("/templates/:id", audit(models.AuditActionTemplateChange, "certificate_templates"), h.CertificateTemplates.Delete)
	certs.POST("/templates/:id/preview", h.CertificateTemplates.Preview)
	certs.POST("/backgrounds", h.CertificateTemplates.UploadBackground)

	emails := secured.Group("/emails", middleware.RBAC(staffRoles...))
	emails.GET("/templates", h.EmailTemplates.List)
	emails.POST("/templates/preview", h.EmailTemplates.Preview)
	emails.GET("/templates/:id", h.EmailTemplates.Get)
	emails.POST("/templates", audit(models.AuditActionTemplateChange, "email_templates"), h.EmailTemplates.Create)
	emails.PUT("/templates/:id", audit(models.AuditActionTemplateChange, "email_templates"), h.EmailTemplates.Update)
	emails.DELETE("/templates/:id", audit(models.AuditActionTemplateChange, "email_templates"), h.EmailTemplates.Delete)
	emails.POST("/send", audit(models.AuditActionEmailSend, "email_logs"), h.Emails.Send)
	emails.POST("/batch", h.Emails.Batch)
	emails.GET("/batch/jobs/:id", h.Emails.JobStatus)
	emails.GET("/logs", h.Emails.Logs)
	emails.GET("/logs/export", h.Emails.ExportLogs)
	emails.GET("/stats", middleware.WithResponseMeta(), h.Emails.Stats)
	emails.GET("/config", h.Emails.Config)
}
