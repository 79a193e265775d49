package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/internal/middleware"
	"github.com/noah-isme/cdp-api/internal/models"
	"github.com/noah-isme/cdp-api/internal/service"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/response"
)

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// actorFromContext builds the service actor from JWT claims. It writes a 401
// and returns false when the request is unauthenticated.
func actorFromContext(c *gin.Context) (service.Actor, bool) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID, Role: claims.Role, Meta: requestMeta(c)}, true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		size = 20
	}
	return page, size
}

func boolQuery(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &val
}

// readUpload loads the multipart file under field, rejecting files larger
// than maxSize when it is positive.
func readUpload(c *gin.Context, field string, maxSize int64) ([]byte, string, bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, field+" is required"))
		return nil, "", false
	}
	if maxSize > 0 && fileHeader.Size > maxSize {
		response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "file exceeds maximum size"))
		return nil, "", false
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return nil, "", false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return nil, "", false
	}
	return data, fileHeader.Filename, true
}
