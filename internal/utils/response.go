// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/i18n"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyValidationInvalid, "request")
	}
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

func UnauthorizedResponse(c *gin.Context, message string) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyAuthRequired)
	}
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func ValidationErrorResponse(c *gin.Context, errors []ValidationError) {
	lang := GetLangFromContext(c)
	message := i18n.T(lang, i18n.KeyValidationInvalid, "input")
	ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", message, errors)
}

type errorMapping struct {
	status int
	code   string
	key    string
}

var kindMappings = map[apperr.Kind]errorMapping{
	apperr.KindValidation:        {http.StatusBadRequest, "VALIDATION_ERROR", i18n.KeyErrorValidation},
	apperr.KindAuthorization:     {http.StatusForbidden, "FORBIDDEN", i18n.KeyErrorAuthorization},
	apperr.KindState:             {http.StatusConflict, "INVALID_STATE", i18n.KeyErrorState},
	apperr.KindInsufficientFunds: {http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", i18n.KeyErrorInsufficientFunds},
	apperr.KindNotFound:          {http.StatusNotFound, "NOT_FOUND", i18n.KeyErrorNotFound},
}

// HandleError renders err with the status of its kind. Validator failures are
// rendered field by field. Internal errors are logged and never echoed.
func HandleError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		ValidationErrorResponse(c, GetValidationErrors(verrs))
		return
	}

	lang := GetLangFromContext(c)
	m, ok := kindMappings[apperr.KindOf(err)]
	if !ok {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", i18n.T(lang, i18n.KeyErrorInternal), nil)
		return
	}
	msg := i18n.T(lang, m.key)
	if m.key == i18n.KeyErrorNotFound {
		msg = i18n.T(lang, m.key, "resource")
	}
	ErrorResponse(c, m.status, m.code, msg, err.Error())
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	SuccessResponseWithMeta(c, result.Data, gin.H{
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
			"has_more":    result.HasMore,
		},
	})
}

func GetLangFromContext(c *gin.Context) string {
	if lang, exists := c.Get("lang"); exists {
		if langStr, ok := lang.(string); ok {
			return langStr
		}
	}
	return "en"
}

// GetPrincipalFromContext returns the caller set by the auth middleware.
func GetPrincipalFromContext(c *gin.Context) (authz.Principal, bool) {
	if v, exists := c.Get("principal"); exists {
		if p, ok := v.(authz.Principal); ok {
			return p, true
		}
	}
	return authz.Principal{}, false
}
